package fleet

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/autostore/internal/binlock"
	"github.com/Iron-Ham/autostore/internal/errors"
	"github.com/Iron-Ham/autostore/internal/event"
	"github.com/Iron-Ham/autostore/internal/grid"
	"github.com/Iron-Ham/autostore/internal/model"
	"github.com/Iron-Ham/autostore/internal/planner"
	"github.com/Iron-Ham/autostore/internal/reservation"
	"github.com/Iron-Ham/autostore/internal/simclock"
)

type fakeListener struct {
	mu        sync.Mutex
	assigned  map[int64]int64
	delivered map[int64][]int
	packed    []int64
	released  []int64
}

func newFakeListener() *fakeListener {
	return &fakeListener{assigned: map[int64]int64{}, delivered: map[int64][]int{}}
}

func (f *fakeListener) OrderAssigned(orderID, botID int64, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assigned[orderID] = botID
}

func (f *fakeListener) ItemDelivered(orderID int64, index int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered[orderID] = append(f.delivered[orderID], index)
}

func (f *fakeListener) OrderPacked(orderID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packed = append(f.packed, orderID)
}

func (f *fakeListener) OrderReleased(orderID int64, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, orderID)
}

type fakeRecorder struct {
	mu   sync.Mutex
	bots map[int64]model.Bot
	bins map[int64]model.Bin
}

func (r *fakeRecorder) SaveBot(b model.Bot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bots[b.ID] = b
	return nil
}

func (r *fakeRecorder) SaveBin(b model.Bin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bins[b.ID] = b
	return nil
}

// moveRecord is one committed bot step stamped with the clock step.
type moveRecord struct {
	bot  int64
	step int64
	at   grid.Point
}

type harness struct {
	t        *testing.T
	coord    *Coordinator
	clock    *simclock.Virtual
	locks    *binlock.Manager
	bus      *event.Bus
	listener *fakeListener
	rec      *fakeRecorder

	mu     sync.Mutex
	events []event.Event
	moves  []moveRecord
}

func defaultWaypoints() []grid.Point {
	var out []grid.Point
	for _, x := range []int{4, 3, 2} {
		for y := 1; y <= 5; y++ {
			out = append(out, grid.P(x, y))
		}
	}
	return out
}

func defaultBots() []model.Bot {
	return []model.Bot{
		{ID: 1, Name: "bot1", X: 5, Y: 5, Status: model.BotIdle, Parking: grid.P(5, 5)},
		{ID: 2, Name: "bot2", X: 5, Y: 4, Status: model.BotIdle, Parking: grid.P(5, 4)},
	}
}

func bin(id int64, x, y int) model.Bin {
	return model.Bin{ID: id, X: x, Y: y, Status: model.BinAvailable, Home: grid.P(x, y)}
}

func newHarness(t *testing.T, bots []model.Bot, bins []model.Bin, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		clock:    simclock.NewVirtual(0),
		bus:      event.NewBus(),
		listener: newFakeListener(),
		rec:      &fakeRecorder{bots: map[int64]model.Bot{}, bins: map[int64]model.Bin{}},
	}
	h.locks = binlock.NewManager(h.bus)
	table := reservation.NewTable(32)
	p := planner.New(table, grid.Bounds{Width: 6, Height: 6, Layers: 1}, planner.WithWaypoints(defaultWaypoints()...))

	all := append([]Option{WithClock(h.clock), WithRecorder(h.rec)}, opts...)
	h.coord = NewCoordinator(DefaultConfig(), p, h.locks, h.bus, all...)
	h.coord.Provision(bots, bins)
	h.coord.SetListener(h.listener)

	h.bus.SubscribeAll(func(e event.Event) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, e)
		if mv, ok := e.(event.BotMoveEvent); ok {
			h.moves = append(h.moves, moveRecord{bot: mv.BotID, step: h.clock.Now(), at: grid.P(mv.X, mv.Y)})
		}
	})
	t.Cleanup(h.coord.Stop)
	return h
}

// freeze holds the virtual clock so tasks block at their first wait.
func (h *harness) freeze() {
	h.clock.Join()
	h.t.Cleanup(h.clock.Leave)
}

func (h *harness) wait() {
	h.t.Helper()
	done := make(chan struct{})
	go func() {
		h.coord.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		h.t.Fatalf("fulfillment did not finish; bots = %+v", h.coord.Bots())
	}
}

func (h *harness) eventCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func (h *harness) botStatuses(botID int64) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, e := range h.events {
		if su, ok := e.(event.StatusUpdateEvent); ok && su.Entity == event.EntityBot && su.ID == botID {
			out = append(out, su.NewStatus)
		}
	}
	return out
}

func (h *harness) eventTypes(entity string, id int64) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, e := range h.events {
		if ent, eid := e.Subject(); ent == entity && eid == id {
			out = append(out, event.WireName(e.EventType()))
		}
	}
	return out
}

func item(binID int64) model.OrderItem {
	return model.OrderItem{ProductRef: "P", Quantity: 1, BinID: binID}
}

func TestAssign_SingleOrderRoundTrip(t *testing.T) {
	h := newHarness(t, defaultBots(), []model.Bin{bin(1, 2, 3), bin(2, 1, 1), bin(3, 0, 4), bin(4, 3, 0)})

	a, err := h.coord.Assign(context.Background(), Job{OrderID: 7, Items: []model.OrderItem{item(1)}})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	// bot2 at (5,4) is 4 steps from (2,3); bot1 at (5,5) is 5.
	if a.BotID != 2 || a.Token == "" {
		t.Fatalf("Assign = %+v, want bot 2 with a token", a)
	}
	h.wait()

	bot, _ := h.coord.Bot(2)
	if bot.Status != model.BotIdle || bot.Pos() != grid.P(5, 4) {
		t.Errorf("bot 2 = %s at %v, want idle at parking", bot.Status, bot.Pos())
	}
	if bot.AssignedOrderID != 0 || bot.CarriedBinID != 0 || len(bot.Path) != 0 {
		t.Errorf("bot 2 not cleared: %+v", bot)
	}
	if len(bot.FullPath) < 2 {
		t.Errorf("FullPath = %v, want recorded steps", bot.FullPath)
	}

	b, _ := h.coord.Bin(1)
	if b.Status != model.BinAvailable || b.Pos() != grid.P(2, 3) {
		t.Errorf("bin 1 = %s at %v, want available at home", b.Status, b.Pos())
	}
	if _, held := h.locks.Holder(1); held {
		t.Error("bin 1 lock still held")
	}

	want := []string{"moving", "carrying", "delivering", "returning", "idle"}
	if got := h.botStatuses(2); !slices.Equal(got, want) {
		t.Errorf("bot 2 statuses = %v, want %v", got, want)
	}

	kinds := h.eventTypes(event.EntityBin, 1)
	pickup := slices.Index(kinds, "bin_pickup")
	drop := slices.Index(kinds, "bin_drop")
	ret := slices.Index(kinds, "bin_return")
	if pickup < 0 || drop < pickup || ret < drop {
		t.Errorf("bin 1 events out of order: %v", kinds)
	}
	if !slices.Contains(kinds, "bin_move") {
		t.Errorf("carried bin never mirrored the bot: %v", kinds)
	}

	h.listener.mu.Lock()
	defer h.listener.mu.Unlock()
	if !slices.Equal(h.listener.packed, []int64{7}) {
		t.Errorf("packed = %v", h.listener.packed)
	}
	if !slices.Equal(h.listener.delivered[7], []int{0}) {
		t.Errorf("delivered = %v", h.listener.delivered[7])
	}
	if h.listener.assigned[7] != 2 {
		t.Errorf("assigned = %v", h.listener.assigned)
	}

	if saved := h.rec.bots[2]; saved.Status != model.BotIdle {
		t.Errorf("recorder last saw bot 2 as %s", saved.Status)
	}
}

func TestAssign_MultiItemSequential(t *testing.T) {
	h := newHarness(t, defaultBots()[:1], []model.Bin{bin(1, 2, 3), bin(2, 1, 1)})

	if _, err := h.coord.Assign(context.Background(), Job{OrderID: 3, Items: []model.OrderItem{item(1), item(2)}}); err != nil {
		t.Fatal(err)
	}
	h.wait()

	want := []string{
		"moving", "carrying", "delivering", "returning",
		"moving", "carrying", "delivering", "returning",
		"idle",
	}
	if got := h.botStatuses(1); !slices.Equal(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	h.listener.mu.Lock()
	defer h.listener.mu.Unlock()
	if !slices.Equal(h.listener.delivered[3], []int{0, 1}) {
		t.Errorf("delivered = %v", h.listener.delivered[3])
	}
	if len(h.listener.packed) != 1 {
		t.Errorf("packed = %v, want exactly one", h.listener.packed)
	}
}

func TestAssign_SkipsDeliveredItems(t *testing.T) {
	h := newHarness(t, defaultBots()[:1], []model.Bin{bin(1, 2, 3), bin(2, 1, 1)})

	done := item(1)
	done.Delivered = true
	if _, err := h.coord.Assign(context.Background(), Job{OrderID: 4, Items: []model.OrderItem{done, item(2)}}); err != nil {
		t.Fatal(err)
	}
	h.wait()

	if kinds := h.eventTypes(event.EntityBin, 1); slices.Contains(kinds, "bin_pickup") {
		t.Errorf("delivered item was fetched again: %v", kinds)
	}
	h.listener.mu.Lock()
	defer h.listener.mu.Unlock()
	if !slices.Equal(h.listener.delivered[4], []int{1}) {
		t.Errorf("delivered = %v", h.listener.delivered[4])
	}
}

func TestAssign_TwoBotsNeverShareACell(t *testing.T) {
	h := newHarness(t, defaultBots(), []model.Bin{bin(1, 1, 1), bin(2, 4, 4)})

	a1, err := h.coord.Assign(context.Background(), Job{OrderID: 1, Items: []model.OrderItem{item(1)}})
	if err != nil {
		t.Fatal(err)
	}
	a2, err := h.coord.Assign(context.Background(), Job{OrderID: 2, Items: []model.OrderItem{item(2)}})
	if err != nil {
		t.Fatal(err)
	}
	if a1.BotID == a2.BotID {
		t.Fatalf("both orders went to bot %d", a1.BotID)
	}
	h.wait()

	h.mu.Lock()
	moves := slices.Clone(h.moves)
	h.mu.Unlock()

	pos := map[int64]grid.Point{1: grid.P(5, 5), 2: grid.P(5, 4)}
	slices.SortStableFunc(moves, func(a, b moveRecord) int { return int(a.step - b.step) })
	for i := 0; i < len(moves); {
		step := moves[i].step
		for ; i < len(moves) && moves[i].step == step; i++ {
			pos[moves[i].bot] = moves[i].at
		}
		if pos[1] == pos[2] {
			t.Fatalf("bots share cell %v at step %d", pos[1], step)
		}
	}

	for _, b := range h.coord.Bots() {
		if b.Status != model.BotIdle || b.Pos() != b.Parking {
			t.Errorf("bot %d = %s at %v", b.ID, b.Status, b.Pos())
		}
	}
	h.listener.mu.Lock()
	defer h.listener.mu.Unlock()
	if len(h.listener.packed) != 2 {
		t.Errorf("packed = %v", h.listener.packed)
	}
}

func TestAssign_LockedBinStaysPending(t *testing.T) {
	h := newHarness(t, defaultBots(), []model.Bin{bin(1, 2, 3)})
	h.locks.Lock(1, 99)

	_, err := h.coord.Assign(context.Background(), Job{OrderID: 1, Items: []model.OrderItem{item(1)}})
	if !errors.Is(err, errors.ErrBinContended) {
		t.Fatalf("Assign error = %v, want ErrBinContended", err)
	}
	if h.coord.Running() != 0 {
		t.Error("task started without the bin lock")
	}
	for _, b := range h.coord.Bots() {
		if b.Status != model.BotIdle || b.AssignedOrderID != 0 {
			t.Errorf("bot %d left idle: %+v", b.ID, b)
		}
	}
	if w := h.locks.Waiting(1); len(w) != 0 {
		t.Errorf("rejected bot left in waiting list: %v", w)
	}
}

// waitFor polls cond until it holds or the test times out.
func (h *harness) waitFor(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			h.t.Fatalf("timed out waiting for %s; bots = %+v", what, h.coord.Bots())
		}
		time.Sleep(time.Millisecond)
	}
}

// queuedOn starts a two-item order whose second bin is held by agent 99
// and returns once the assigned bot is parked in that bin's queue.
func queuedOn(t *testing.T, h *harness) Assignment {
	t.Helper()
	h.locks.Lock(2, 99)

	a, err := h.coord.Assign(context.Background(), Job{OrderID: 3, Items: []model.OrderItem{item(1), item(2)}})
	if err != nil {
		t.Fatal(err)
	}
	h.waitFor("bot to queue on bin 2", func() bool {
		b, _ := h.coord.Bot(a.BotID)
		return b.Status == model.BotPacking && slices.Equal(h.locks.Waiting(2), []int64{a.BotID})
	})
	return a
}

func TestAssign_QueuedBotIsNotOvertaken(t *testing.T) {
	h := newHarness(t, defaultBots(), []model.Bin{bin(1, 2, 3), bin(2, 1, 1)})
	a := queuedOn(t, h)
	other := int64(1)
	if a.BotID == 1 {
		other = 2
	}

	h.freeze()
	h.locks.Unlock(2)

	_, err := h.coord.Assign(context.Background(), Job{OrderID: 4, Items: []model.OrderItem{item(2)}})
	if !errors.Is(err, errors.ErrBinContended) {
		t.Fatalf("Assign on a queued bin error = %v, want ErrBinContended", err)
	}
	if holder, held := h.locks.Holder(2); held && holder != a.BotID {
		t.Fatalf("bin 2 went to %d ahead of queued bot %d", holder, a.BotID)
	}
	if slices.Contains(h.locks.Waiting(2), other) {
		t.Error("idle bot joined the waiting list")
	}
	if b, _ := h.coord.Bot(other); b.Status != model.BotIdle {
		t.Errorf("bot %d = %s, want idle", other, b.Status)
	}

	h.clock.Leave()
	h.wait()

	want := []string{
		"moving", "carrying", "delivering", "returning",
		"packing",
		"moving", "carrying", "delivering", "returning",
		"idle",
	}
	if got := h.botStatuses(a.BotID); !slices.Equal(got, want) {
		t.Errorf("bot %d statuses = %v, want %v", a.BotID, got, want)
	}
	if len(h.botStatuses(other)) != 0 {
		t.Errorf("bot %d should never have moved: %v", other, h.botStatuses(other))
	}
	h.listener.mu.Lock()
	defer h.listener.mu.Unlock()
	if !slices.Equal(h.listener.delivered[3], []int{0, 1}) {
		t.Errorf("delivered = %v", h.listener.delivered[3])
	}
}

func TestAcquire_StopLeavesQueue(t *testing.T) {
	h := newHarness(t, defaultBots(), []model.Bin{bin(1, 2, 3), bin(2, 1, 1)})
	queuedOn(t, h)

	h.coord.Stop()

	if w := h.locks.Waiting(2); len(w) != 0 {
		t.Errorf("stopped bot still queued: %v", w)
	}
	if holder, _ := h.locks.Holder(2); holder != 99 {
		t.Errorf("bin 2 holder = %d, want 99", holder)
	}
}

func TestAssign_NoCapableBot(t *testing.T) {
	deep := bin(1, 2, 2)
	deep.Z, deep.HomeZ = 3, 3
	h := newHarness(t, defaultBots()[:1], []model.Bin{deep}, WithProfile(1, ShallowProfile{MaxDepth: 1}))

	_, err := h.coord.Assign(context.Background(), Job{OrderID: 1, Items: []model.OrderItem{item(1)}})
	if !errors.Is(err, errors.ErrNoCapableBot) {
		t.Fatalf("Assign error = %v, want ErrNoCapableBot", err)
	}
	if errors.Is(err, errors.ErrNoIdleBot) {
		t.Error("an idle bot exists; ErrNoIdleBot would stop reconciliation")
	}
	if !errors.IsRetryable(err) {
		t.Error("ErrNoCapableBot should be retryable")
	}
}

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		from, to model.BotStatus
		ok       bool
	}{
		{model.BotIdle, model.BotMoving, true},
		{model.BotMoving, model.BotCarrying, true},
		{model.BotCarrying, model.BotDelivering, true},
		{model.BotDelivering, model.BotReturning, true},
		{model.BotReturning, model.BotPacking, true},
		{model.BotPacking, model.BotMoving, true},
		{model.BotDelivering, model.BotIdle, true},
		{model.BotCarrying, model.BotCarrying, true},
		{model.BotIdle, model.BotCarrying, false},
		{model.BotPacking, model.BotCarrying, false},
		{model.BotReturning, model.BotDelivering, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := checkTransition(&model.Bot{ID: 1, Status: tt.from}, tt.to)
			if tt.ok && err != nil {
				t.Errorf("checkTransition() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, errors.ErrInvalidTransition) {
				t.Errorf("checkTransition() = %v, want ErrInvalidTransition", err)
			}
		})
	}
}

func TestAssign_NoIdleBot(t *testing.T) {
	h := newHarness(t, defaultBots()[:1], []model.Bin{bin(1, 2, 3), bin(2, 1, 1)})
	h.freeze()

	if _, err := h.coord.Assign(context.Background(), Job{OrderID: 1, Items: []model.OrderItem{item(1)}}); err != nil {
		t.Fatal(err)
	}
	_, err := h.coord.Assign(context.Background(), Job{OrderID: 2, Items: []model.OrderItem{item(2)}})
	if !errors.Is(err, errors.ErrNoIdleBot) {
		t.Fatalf("Assign error = %v, want ErrNoIdleBot", err)
	}
	if !errors.IsRetryable(err) {
		t.Error("ErrNoIdleBot should be retryable")
	}
}

func TestAssign_Validation(t *testing.T) {
	h := newHarness(t, defaultBots(), []model.Bin{bin(1, 2, 3)})

	done := item(1)
	done.Delivered = true
	if _, err := h.coord.Assign(context.Background(), Job{OrderID: 1, Items: []model.OrderItem{done}}); err == nil {
		t.Error("Assign with nothing to deliver should fail")
	}
	if _, err := h.coord.Assign(context.Background(), Job{OrderID: 1, Items: []model.OrderItem{item(42)}}); !errors.Is(err, errors.ErrBinNotFound) {
		t.Errorf("Assign(unknown bin) error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.coord.Assign(ctx, Job{OrderID: 1, Items: []model.OrderItem{item(1)}}); err == nil {
		t.Error("Assign with canceled context should fail")
	}
}

func TestNearestIdle_TiesAndProfiles(t *testing.T) {
	bots := []model.Bot{
		{ID: 5, X: 2, Y: 4, Status: model.BotIdle, Parking: grid.P(2, 4)},
		{ID: 3, X: 4, Y: 2, Status: model.BotIdle, Parking: grid.P(4, 2)},
		{ID: 9, X: 2, Y: 3, Status: model.BotIdle, Parking: grid.P(2, 3)},
	}
	deep := bin(1, 2, 2)
	deep.Z, deep.HomeZ = 3, 3

	h := newHarness(t, bots, []model.Bin{deep}, WithProfile(9, ShallowProfile{MaxDepth: 1}))

	s := h.coord.nearestIdle(deep)
	if s == nil || s.id != 3 {
		t.Fatalf("nearestIdle = %v, want bot 3 (tie with 5, 9 cannot dig)", s)
	}
}

func TestNearestIdle_Euclidean(t *testing.T) {
	bots := []model.Bot{
		{ID: 1, X: 4, Y: 0, Status: model.BotIdle},
		{ID: 2, X: 2, Y: 2, Status: model.BotIdle},
	}
	h := newHarness(t, bots, []model.Bin{bin(1, 0, 0)})
	h.coord.cfg.Metric = grid.MetricEuclidean

	// Manhattan ties at 4; Euclidean prefers the diagonal bot.
	if s := h.coord.nearestIdle(bin(1, 0, 0)); s == nil || s.id != 2 {
		t.Errorf("nearestIdle = %v, want bot 2", s)
	}
}

func TestReclaim(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, defaultBots()[:1], []model.Bin{bin(1, 2, 3)}, WithNowFunc(func() time.Time { return now }))
	h.freeze()

	a, err := h.coord.Assign(context.Background(), Job{OrderID: 1, Items: []model.OrderItem{item(1)}})
	if err != nil {
		t.Fatal(err)
	}

	if err := h.coord.Reclaim(a.BotID, a.Token, now.Add(-time.Minute)); !errors.Is(err, errors.ErrStillLive) {
		t.Fatalf("Reclaim(live) error = %v, want ErrStillLive", err)
	}
	if err := h.coord.Reclaim(a.BotID, "other-token", now.Add(time.Minute)); !errors.Is(err, errors.ErrTokenRevoked) {
		t.Fatalf("Reclaim(wrong token) error = %v, want ErrTokenRevoked", err)
	}
	if err := h.coord.Reclaim(a.BotID, a.Token, now.Add(time.Minute)); err != nil {
		t.Fatalf("Reclaim: %v", err)
	}

	bot, _ := h.coord.Bot(a.BotID)
	if bot.Status != model.BotIdle || bot.AssignedOrderID != 0 || len(bot.Path) != 0 {
		t.Errorf("bot after reclaim = %+v", bot)
	}
	if _, held := h.locks.Holder(1); held {
		t.Error("lock survived reclaim")
	}
	if b, _ := h.coord.Bin(1); b.Status != model.BinAvailable {
		t.Errorf("bin after reclaim = %s", b.Status)
	}

	before := len(h.botStatuses(a.BotID))
	if err := h.coord.Reclaim(a.BotID, a.Token, now.Add(time.Minute)); !errors.Is(err, errors.ErrTokenRevoked) {
		t.Errorf("second Reclaim error = %v, want ErrTokenRevoked", err)
	}
	if after := len(h.botStatuses(a.BotID)); after != before {
		t.Errorf("second Reclaim emitted %d status updates", after-before)
	}

	h.clock.Leave()
	h.wait()
	if h.coord.Running() != 0 {
		t.Error("reclaimed task still running")
	}
	h.listener.mu.Lock()
	defer h.listener.mu.Unlock()
	if len(h.listener.released) != 0 {
		t.Errorf("reclaimed task reported release: %v", h.listener.released)
	}
}

func TestReclaim_UnknownBot(t *testing.T) {
	h := newHarness(t, defaultBots(), nil)
	if err := h.coord.Reclaim(42, "tok", time.Now()); !errors.IsNotFound(err) {
		t.Errorf("Reclaim(42) error = %v, want not found", err)
	}
}

func TestSweepStaleLocks(t *testing.T) {
	bots := defaultBots()
	bots[0].Status = model.BotCarrying
	bots[0].AssignedOrderID = 8
	h := newHarness(t, bots, []model.Bin{bin(1, 2, 3)})
	h.locks.Lock(1, 2)

	if n := h.coord.SweepStaleLocks(); n != 2 {
		t.Errorf("SweepStaleLocks() = %d, want 2", n)
	}
	if _, held := h.locks.Holder(1); held {
		t.Error("stale lock kept")
	}
	if b, _ := h.coord.Bot(1); b.Status != model.BotIdle || b.AssignedOrderID != 0 {
		t.Errorf("bot 1 = %+v", b)
	}

	events := h.eventCount()
	if n := h.coord.SweepStaleLocks(); n != 0 {
		t.Errorf("second sweep = %d, want 0", n)
	}
	if h.eventCount() != events {
		t.Error("idempotent sweep emitted events")
	}
}

func TestSweepStaleLocks_DropsWaitersWithoutTask(t *testing.T) {
	h := newHarness(t, defaultBots(), []model.Bin{bin(1, 2, 3)})
	h.locks.Lock(1, 99)
	h.locks.Lock(1, 2)
	h.locks.Lock(1, 77)

	if n := h.coord.SweepStaleLocks(); n != 1 {
		t.Errorf("SweepStaleLocks() = %d, want 1", n)
	}
	// 77 is not a bot of this fleet and is left alone
	if got := h.locks.Waiting(1); !slices.Equal(got, []int64{77}) {
		t.Errorf("Waiting(1) = %v, want [77]", got)
	}
	if holder, _ := h.locks.Holder(1); holder != 99 {
		t.Errorf("holder = %d, want 99", holder)
	}
}

func TestRecover(t *testing.T) {
	bots := defaultBots()
	bots[1].Status = model.BotDelivering
	bots[1].X, bots[1].Y = 4, 1
	bots[1].CarriedBinID = 1
	away := bin(1, 2, 3)
	away.X, away.Y = 4, 1
	away.Status = model.BinInUse

	h := newHarness(t, bots, []model.Bin{away, bin(2, 1, 1)})
	h.locks.Lock(1, 2)

	if n := h.coord.Recover(); n != 2 {
		t.Errorf("Recover() = %d, want 2", n)
	}
	b, _ := h.coord.Bot(2)
	if b.Status != model.BotIdle || b.CarriedBinID != 0 || b.Pos() != grid.P(4, 1) {
		t.Errorf("bot 2 = %+v", b)
	}
	got, _ := h.coord.Bin(1)
	if got.Status != model.BinAvailable || got.Pos() != grid.P(2, 3) {
		t.Errorf("bin 1 = %+v", got)
	}
	if len(h.locks.Snapshot()) != 0 {
		t.Error("locks survived recovery")
	}
	if !slices.Contains(h.eventTypes(event.EntityBin, 1), "bin_return") {
		t.Error("no bin_return for the recovered bin")
	}
}

func TestResetBotsAndBins(t *testing.T) {
	h := newHarness(t, defaultBots()[:1], []model.Bin{bin(1, 2, 3)})
	h.freeze()

	if _, err := h.coord.Assign(context.Background(), Job{OrderID: 5, Items: []model.OrderItem{item(1)}}); err != nil {
		t.Fatal(err)
	}
	h.coord.ResetBots()
	h.coord.ResetBins()

	b, _ := h.coord.Bot(1)
	if b.Status != model.BotIdle || b.Pos() != b.Parking || b.AssignedOrderID != 0 {
		t.Errorf("bot = %+v", b)
	}
	if bn, _ := h.coord.Bin(1); bn.Status != model.BinAvailable {
		t.Errorf("bin = %+v", bn)
	}

	h.listener.mu.Lock()
	released := slices.Clone(h.listener.released)
	h.listener.mu.Unlock()
	if !slices.Equal(released, []int64{5}) {
		t.Errorf("released = %v, want [5]", released)
	}

	h.clock.Leave()
	h.wait()
}

func TestAbandon_AfterPlanningGivesUp(t *testing.T) {
	// bot 1 is walled in by bins; it can never reach the target.
	bots := []model.Bot{{ID: 1, X: 0, Y: 0, Status: model.BotIdle, Parking: grid.P(0, 0)}}
	bins := []model.Bin{bin(1, 1, 0), bin(2, 0, 1), bin(3, 4, 4)}
	h := newHarness(t, bots, bins)
	h.coord.cfg.MaxReplans = 2

	if _, err := h.coord.Assign(context.Background(), Job{OrderID: 6, Items: []model.OrderItem{item(3)}}); err != nil {
		t.Fatal(err)
	}
	h.wait()

	b, _ := h.coord.Bot(1)
	if b.Status != model.BotIdle || b.AssignedOrderID != 0 {
		t.Errorf("bot = %+v", b)
	}
	if _, held := h.locks.Holder(3); held {
		t.Error("abandoned task kept its lock")
	}
	h.listener.mu.Lock()
	defer h.listener.mu.Unlock()
	if !slices.Equal(h.listener.released, []int64{6}) {
		t.Errorf("released = %v, want [6]", h.listener.released)
	}
}
