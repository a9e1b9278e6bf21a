// Package fleet owns the bot state machine and drives fulfillment.
//
// Each assignment runs as one goroutine that walks its bot through
// idle → moving → carrying → delivering → returning for every item, then
// back to idle. Per-bot state is guarded by the bot's own mutex and every
// task write presents the assignment's ownership token, so a reclaimed
// task can never overwrite the watchdog's compensating state.
//
// Lock order: assignMu, then a bot's emitMu, then its mu, then bin mutexes,
// the reservation table and the lock manager.
package fleet

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/autostore/internal/binlock"
	"github.com/Iron-Ham/autostore/internal/errors"
	"github.com/Iron-Ham/autostore/internal/event"
	"github.com/Iron-Ham/autostore/internal/grid"
	"github.com/Iron-Ham/autostore/internal/logging"
	"github.com/Iron-Ham/autostore/internal/model"
	"github.com/Iron-Ham/autostore/internal/planner"
	"github.com/Iron-Ham/autostore/internal/reservation"
	"github.com/Iron-Ham/autostore/internal/simclock"
)

// Coordinator assigns bots to orders and drives them.
type Coordinator struct {
	cfg      Config
	planner  *planner.Planner
	table    *reservation.Table
	locks    *binlock.Manager
	bus      *event.Bus
	clock    simclock.Clock
	rec      Recorder
	logger   *logging.Logger
	now      func() time.Time
	profiles map[int64]Profile

	listenerMu sync.RWMutex
	listener   Listener

	// assignMu serializes Assign, Reclaim, sweeps and resets.
	assignMu sync.Mutex

	// mu guards the maps; entries are never removed.
	mu   sync.RWMutex
	bots map[int64]*botState
	bins map[int64]*binState

	ctx    context.Context
	cancel context.CancelFunc
	tasks  conc.WaitGroup
}

type botState struct {
	id      int64
	profile Profile

	// emitMu serializes a mutation with its persistence and events so
	// observers see each bot's events in production order.
	emitMu sync.Mutex

	mu           sync.Mutex
	bot          model.Bot
	token        string
	cancel       context.CancelFunc
	running      bool
	moving       bool
	activeBin    int64
	lastProgress time.Time
}

type binState struct {
	mu  sync.Mutex
	bin model.Bin
}

// NewCoordinator creates a Coordinator. Bots and bins are added with
// Provision.
func NewCoordinator(cfg Config, p *planner.Planner, locks *binlock.Manager, bus *event.Bus, opts ...Option) *Coordinator {
	if cfg.MaxReplans <= 0 {
		cfg.MaxReplans = DefaultConfig().MaxReplans
	}
	if cfg.Metric == "" {
		cfg.Metric = grid.MetricManhattan
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:      cfg,
		planner:  p,
		table:    p.Table(),
		locks:    locks,
		bus:      bus,
		clock:    simclock.NewReal(500 * time.Millisecond),
		logger:   logging.NopLogger(),
		now:      time.Now,
		profiles: make(map[int64]Profile),
		bots:     make(map[int64]*botState),
		bins:     make(map[int64]*binState),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetListener registers the order-level listener.
func (c *Coordinator) SetListener(l Listener) {
	c.listenerMu.Lock()
	c.listener = l
	c.listenerMu.Unlock()
}

func (c *Coordinator) notify(fn func(Listener)) {
	c.listenerMu.RLock()
	l := c.listener
	c.listenerMu.RUnlock()
	if l != nil {
		fn(l)
	}
}

// Clock returns the step source.
func (c *Coordinator) Clock() simclock.Clock { return c.clock }

// Provision loads bots and bins. Existing entries with the same id are
// replaced.
func (c *Coordinator) Provision(bots []model.Bot, bins []model.Bin) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, b := range bots {
		p := c.profiles[b.ID]
		if p == nil {
			p = StandardProfile{}
		}
		c.bots[b.ID] = &botState{id: b.ID, profile: p, bot: b.Clone(), lastProgress: c.now()}
	}
	for _, b := range bins {
		c.bins[b.ID] = &binState{bin: b}
	}
}

// Bots returns a snapshot of every bot ordered by id.
func (c *Coordinator) Bots() []model.Bot {
	states := c.botStates()
	out := make([]model.Bot, 0, len(states))
	for _, s := range states {
		s.mu.Lock()
		out = append(out, s.bot.Clone())
		s.mu.Unlock()
	}
	return out
}

// Bot returns a snapshot of one bot.
func (c *Coordinator) Bot(id int64) (model.Bot, error) {
	s, err := c.botState(id)
	if err != nil {
		return model.Bot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bot.Clone(), nil
}

// Bins returns a snapshot of every bin ordered by id.
func (c *Coordinator) Bins() []model.Bin {
	c.mu.RLock()
	states := make([]*binState, 0, len(c.bins))
	for _, s := range c.bins {
		states = append(states, s)
	}
	c.mu.RUnlock()

	out := make([]model.Bin, 0, len(states))
	for _, s := range states {
		s.mu.Lock()
		out = append(out, s.bin)
		s.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b model.Bin) int { return int(a.ID - b.ID) })
	return out
}

// Bin returns a snapshot of one bin.
func (c *Coordinator) Bin(id int64) (model.Bin, error) {
	s, err := c.binState(id)
	if err != nil {
		return model.Bin{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bin, nil
}

func (c *Coordinator) botStates() []*botState {
	c.mu.RLock()
	out := make([]*botState, 0, len(c.bots))
	for _, s := range c.bots {
		out = append(out, s)
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(a, b *botState) int { return int(a.id - b.id) })
	return out
}

func (c *Coordinator) botState(id int64) (*botState, error) {
	c.mu.RLock()
	s, ok := c.bots[id]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.NewNotFoundError("bot", strconv.FormatInt(id, 10)).WithCause(errors.ErrBotNotFound)
	}
	return s, nil
}

func (c *Coordinator) binState(id int64) (*binState, error) {
	c.mu.RLock()
	s, ok := c.bins[id]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.NewNotFoundError("bin", strconv.FormatInt(id, 10)).WithCause(errors.ErrBinNotFound)
	}
	return s, nil
}

// Assign picks the nearest idle bot able to carry the first undelivered
// item's bin, takes the bin lock for it and starts the fulfillment task.
// A free lock with a non-empty waiting list belongs to the front waiter,
// so the bin counts as contended.
// It returns ErrNoIdleBot, ErrNoCapableBot or ErrBinContended (all
// retryable) when the order must stay pending.
func (c *Coordinator) Assign(ctx context.Context, job Job) (Assignment, error) {
	if err := ctx.Err(); err != nil {
		return Assignment{}, err
	}
	idx := slices.IndexFunc(job.Items, func(it model.OrderItem) bool { return !it.Delivered })
	if idx < 0 {
		return Assignment{}, errors.NewValidationError("order has nothing left to deliver").WithField("items")
	}
	binID := job.Items[idx].BinID

	c.assignMu.Lock()
	defer c.assignMu.Unlock()

	bs, err := c.binState(binID)
	if err != nil {
		return Assignment{}, errors.NewFleetError("assign", err).WithOrder(job.OrderID)
	}
	bs.mu.Lock()
	bin := bs.bin
	bs.mu.Unlock()

	s := c.nearestIdle(bin)
	if s == nil {
		cause := errors.ErrNoIdleBot
		if c.anyIdle() {
			cause = errors.ErrNoCapableBot
		}
		return Assignment{}, errors.NewFleetError("assign", cause).WithOrder(job.OrderID)
	}
	// an idle bot does not queue and never overtakes a queued one; the
	// order is retried later
	if !bin.Status.OnGrid() || !c.locks.TryLock(binID, s.id) {
		return Assignment{}, errors.NewFleetError("assign", errors.ErrBinContended).WithOrder(job.OrderID).WithBot(s.id)
	}
	c.locks.Forget(s.id)

	token := uuid.NewString()
	taskCtx, cancel := context.WithCancel(c.ctx)

	// s.mu is held inside apply
	c.apply(s, func(b *model.Bot, ch *change) {
		s.token = token
		s.cancel = cancel
		s.running = true
		s.activeBin = binID
		b.AssignedOrderID = job.OrderID
		b.Path = nil
		ch.botStatus(b, model.BotMoving)
		ch.bin(binID, func(bin *model.Bin) { ch.binStatus(bin, model.BinLocked) })
	})

	c.logger.WithBot(s.id).WithOrder(job.OrderID).Info("order assigned", "bin_id", binID)
	c.notify(func(l Listener) { l.OrderAssigned(job.OrderID, s.id, token) })

	c.clock.Join()
	job.Items = slices.Clone(job.Items)
	c.tasks.Go(func() { c.run(taskCtx, s, token, job) })

	return Assignment{BotID: s.id, Token: token}, nil
}

// nearestIdle returns the idle bot closest to bin under the configured
// metric, lowest id first on ties.
func (c *Coordinator) nearestIdle(bin model.Bin) *botState {
	var best *botState
	bestDist := 0
	for _, s := range c.botStates() {
		s.mu.Lock()
		ok := s.bot.Status == model.BotIdle && !s.running && s.token == "" && s.profile.CanCarry(bin)
		d := c.cfg.Metric.Distance(s.bot.Pos(), bin.Pos())
		s.mu.Unlock()
		if ok && (best == nil || d < bestDist) {
			best, bestDist = s, d
		}
	}
	return best
}

// anyIdle reports whether some bot is free for a new assignment,
// regardless of what it can carry.
func (c *Coordinator) anyIdle() bool {
	for _, s := range c.botStates() {
		s.mu.Lock()
		ok := s.bot.Status == model.BotIdle && !s.running && s.token == ""
		s.mu.Unlock()
		if ok {
			return true
		}
	}
	return false
}

// Stop cancels every fulfillment task and waits for them to exit.
func (c *Coordinator) Stop() {
	c.cancel()
	c.tasks.Wait()
}

// Wait blocks until every running task has exited.
func (c *Coordinator) Wait() {
	c.tasks.Wait()
}

// Running reports how many bots have a live task.
func (c *Coordinator) Running() int {
	n := 0
	for _, s := range c.botStates() {
		s.mu.Lock()
		if s.running {
			n++
		}
		s.mu.Unlock()
	}
	return n
}
