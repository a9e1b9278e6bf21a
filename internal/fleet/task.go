package fleet

import (
	"context"
	"slices"

	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/autostore/internal/errors"
	"github.com/Iron-Ham/autostore/internal/event"
	"github.com/Iron-Ham/autostore/internal/grid"
	"github.com/Iron-Ham/autostore/internal/logging"
	"github.com/Iron-Ham/autostore/internal/model"
	"github.com/Iron-Ham/autostore/internal/planner"
)

// maxFullPath bounds the audit trail kept per bot.
const maxFullPath = 4096

// leg is one travel segment of a fulfillment.
type leg struct {
	phase string
	goal  grid.Point
	// target is the bin standing on goal; it is not an obstacle for this leg.
	target int64
	// carrying is the bin riding on the bot; it follows every step.
	carrying int64
	avoid    []grid.Point
	// planned runs inside the first successful path update.
	planned func(b *model.Bot, ch *change)
}

// run drives one assignment to completion. It owns one clock participant.
func (c *Coordinator) run(ctx context.Context, s *botState, token string, job Job) {
	defer c.clock.Leave()
	log := c.logger.WithBot(s.id).WithOrder(job.OrderID)

	var err error
	var pc panics.Catcher
	pc.Try(func() { err = c.fulfill(ctx, s, token, job, log) })
	if r := pc.Recovered(); r != nil {
		log.Error("fulfillment panicked", "panic", r.Value, "stack", string(r.Stack))
		err = r.AsError()
	}

	switch {
	case err == nil:
		log.Info("order fulfilled")
	case errors.Is(err, errors.ErrTokenRevoked):
		log.Info("fulfillment reclaimed")
	case ctx.Err() != nil:
		log.Debug("fulfillment stopped", "reason", ctx.Err())
	default:
		log.Warn("fulfillment failed, releasing order", "error", err)
		if c.abandon(s, token) {
			c.notify(func(l Listener) { l.OrderReleased(job.OrderID, err) })
		}
	}
	c.finish(s, token)
}

// finish drops the task's hold on s unless a newer assignment owns it.
func (c *Coordinator) finish(s *botState, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && s.token != token {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.token = ""
	s.cancel = nil
	s.running = false
	s.moving = false
	c.table.Release(s.id)
}

// abandon puts s and its active bin back at rest. It reports false when
// the token was already revoked.
func (c *Coordinator) abandon(s *botState, token string) bool {
	var binID int64
	err := c.mutate(s, token, func(b *model.Bot, ch *change) error {
		binID = s.activeBin
		if binID != 0 {
			ch.bin(binID, ch.restoreBin)
		}
		s.activeBin = 0
		b.AssignedOrderID = 0
		b.CarriedBinID = 0
		b.Path = nil
		ch.botStatus(b, model.BotIdle)
		return nil
	})
	if err != nil {
		return false
	}
	c.locks.ReleaseHeldBy(s.id)
	c.locks.Forget(s.id)
	return true
}

func (c *Coordinator) fulfill(ctx context.Context, s *botState, token string, job Job, log *logging.Logger) error {
	last := -1
	for i, it := range job.Items {
		if !it.Delivered {
			last = i
		}
	}

	first := true
	for i, it := range job.Items {
		if it.Delivered {
			continue
		}
		if !first {
			if err := c.acquire(ctx, s, token, it.BinID); err != nil {
				return err
			}
		}
		first = false
		if err := c.fulfillItem(ctx, s, token, job.OrderID, i, it.BinID, i == last, log); err != nil {
			return err
		}
	}

	return c.mutate(s, token, func(b *model.Bot, ch *change) error {
		b.AssignedOrderID = 0
		b.CarriedBinID = 0
		b.Path = nil
		ch.botStatus(b, model.BotIdle)
		return nil
	})
}

// acquire waits in the bin's queue until s holds its lock. The lock is
// granted in arrival order.
func (c *Coordinator) acquire(ctx context.Context, s *botState, token string, binID int64) error {
	for {
		if c.locks.LockInTurn(binID, s.id) {
			err := c.mutate(s, token, func(b *model.Bot, ch *change) error {
				if err := checkTransition(b, model.BotMoving); err != nil {
					return err
				}
				s.activeBin = binID
				ch.botStatus(b, model.BotMoving)
				ch.bin(binID, func(bin *model.Bin) {
					if bin.Status == model.BinAvailable {
						ch.binStatus(bin, model.BinLocked)
					}
				})
				return nil
			})
			if err != nil {
				c.locks.UnlockIfHeld(binID, s.id)
			}
			return err
		}

		if s.status() != model.BotPacking {
			if err := c.mutate(s, token, func(b *model.Bot, ch *change) error {
				if err := checkTransition(b, model.BotPacking); err != nil {
					return err
				}
				ch.botStatus(b, model.BotPacking)
				return nil
			}); err != nil {
				c.locks.Forget(s.id)
				return err
			}
		} else {
			c.touch(s)
		}
		if err := c.clock.WaitUntil(ctx, c.clock.Now()+1); err != nil {
			c.locks.Forget(s.id)
			return err
		}
	}
}

// fulfillItem fetches one bin, drops it at the delivery station, parks
// and sends the bin home. s must hold the bin's lock.
func (c *Coordinator) fulfillItem(ctx context.Context, s *botState, token string, orderID int64, idx int, binID int64, last bool, log *logging.Logger) error {
	bin, err := c.Bin(binID)
	if err != nil {
		return err
	}

	at, err := c.travel(ctx, s, token, leg{
		phase:  "pickup",
		goal:   bin.Home,
		target: binID,
		avoid:  []grid.Point{c.cfg.Delivery},
	})
	if err != nil {
		return err
	}
	if err := c.dwell(ctx, at); err != nil {
		return err
	}
	if err := c.mutate(s, token, func(b *model.Bot, ch *change) error {
		if err := checkTransition(b, model.BotCarrying); err != nil {
			return err
		}
		b.CarriedBinID = binID
		ch.botStatus(b, model.BotCarrying)
		ch.bin(binID, func(bin *model.Bin) {
			bin.X, bin.Y, bin.Z = b.X, b.Y, b.Z
			ch.binStatus(bin, model.BinInUse)
		})
		ch.emit(event.NewBinPickupEvent(b.ID, binID))
		return nil
	}); err != nil {
		return err
	}
	log.Info("bin picked up", "bin_id", binID)

	at, err = c.travel(ctx, s, token, leg{
		phase:    "delivery",
		goal:     c.cfg.Delivery,
		carrying: binID,
		planned: func(b *model.Bot, ch *change) {
			ch.botStatus(b, model.BotDelivering)
		},
	})
	if err != nil {
		return err
	}
	if err := c.dwell(ctx, at); err != nil {
		return err
	}
	if err := c.mutate(s, token, func(b *model.Bot, ch *change) error {
		if err := checkTransition(b, model.BotReturning); err != nil {
			return err
		}
		b.CarriedBinID = 0
		ch.bin(binID, func(bin *model.Bin) {
			bin.X, bin.Y, bin.Z = b.X, b.Y, b.Z
			ch.binStatus(bin, model.BinDelivered)
		})
		ch.emit(event.NewBinDropEvent(b.ID, binID))
		ch.botStatus(b, model.BotReturning)
		return nil
	}); err != nil {
		return err
	}
	log.Info("bin delivered", "bin_id", binID, "item", idx)
	c.notify(func(l Listener) { l.ItemDelivered(orderID, idx) })
	if last {
		c.notify(func(l Listener) { l.OrderPacked(orderID) })
	}

	parking := func() grid.Point {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.bot.Parking
	}()
	if _, err := c.travel(ctx, s, token, leg{phase: "return", goal: parking}); err != nil {
		return err
	}
	return c.returnBin(ctx, s, token, binID)
}

// returnBin sends a delivered bin home and releases its lock.
func (c *Coordinator) returnBin(ctx context.Context, s *botState, token string, binID int64) error {
	if err := c.mutate(s, token, func(_ *model.Bot, ch *change) error {
		ch.bin(binID, func(bin *model.Bin) { ch.binStatus(bin, model.BinInTransit) })
		return nil
	}); err != nil {
		return err
	}
	if err := c.clock.WaitUntil(ctx, c.clock.Now()+int64(c.cfg.BinReturnSteps)); err != nil {
		return err
	}
	if err := c.mutate(s, token, func(_ *model.Bot, ch *change) error {
		ch.bin(binID, func(bin *model.Bin) {
			bin.X, bin.Y, bin.Z = bin.Home.X, bin.Home.Y, bin.HomeZ
			ch.binStatus(bin, model.BinAvailable)
			ch.emit(event.NewBinReturnEvent(bin.ID, bin.X, bin.Y, bin.Z))
		})
		s.activeBin = 0
		return nil
	}); err != nil {
		return err
	}
	c.locks.UnlockIfHeld(binID, s.id)
	return nil
}

func (c *Coordinator) dwell(ctx context.Context, arrived int64) error {
	if c.cfg.Dwell <= 0 {
		return nil
	}
	return c.clock.WaitUntil(ctx, arrived+int64(c.cfg.Dwell))
}

// travel moves s to lg.goal, replanning after every failed attempt. It
// returns the step at which s stood on the goal.
func (c *Coordinator) travel(ctx context.Context, s *botState, token string, lg leg) (int64, error) {
	s.setMoving(true)
	defer s.setMoving(false)

	failures := 0
	planned := false
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		pos := s.pos()
		now := c.clock.Now()
		if pos == lg.goal {
			return now, nil
		}

		route, err := c.planner.PlanWithFallback(planner.Request{
			AgentID: s.id,
			Start:   pos,
			Goal:    lg.goal,
			Now:     now,
			Blocked: c.blocked(s.id, lg.target),
			Avoid:   lg.avoid,
			Dwell:   c.cfg.Dwell,
		})
		if err != nil {
			return 0, err
		}
		cells := slices.Clone(route.Cells)
		if err := c.mutate(s, token, func(b *model.Bot, ch *change) error {
			b.Path = cells
			if !planned && lg.planned != nil {
				lg.planned(b, ch)
			}
			return nil
		}); err != nil {
			return 0, err
		}
		planned = true

		var ok bool
		if route.Reserved {
			ok, err = c.follow(ctx, s, token, lg, route)
		} else {
			ok, err = c.creep(ctx, s, token, lg)
		}
		if err != nil {
			return 0, err
		}
		if ok {
			failures = 0
			continue
		}
		failures++
		if failures > c.cfg.MaxReplans {
			return 0, errors.NewFleetError("no route to "+lg.goal.String(), errors.ErrNoPath).
				WithBot(s.id).WithPhase(lg.phase)
		}
		c.logger.WithBot(s.id).Debug("replanning", "phase", lg.phase, "attempt", failures, "strategy", string(route.Strategy))
	}
}

// follow walks a reserved route one step per tick. It returns false when
// the bot fell behind schedule or the next cell is physically occupied.
func (c *Coordinator) follow(ctx context.Context, s *botState, token string, lg leg, route planner.Route) (bool, error) {
	for i := 1; i < len(route.Cells); i++ {
		t := route.Start + int64(i)
		if err := c.clock.WaitUntil(ctx, t); err != nil {
			return false, err
		}
		if c.clock.Now() > t {
			return false, nil
		}
		next := route.Cells[i]
		if next == route.Cells[i-1] {
			c.touch(s)
			continue
		}
		if c.occupied(next, s.id, lg.target) {
			return false, nil
		}
		if err := c.step(s, token, next, route.Cells[i:], lg.carrying); err != nil {
			return false, err
		}
	}
	return true, nil
}

// creep takes one greedy step toward the goal when no reserved route
// exists. Each step is claimed in the table before it is taken.
func (c *Coordinator) creep(ctx context.Context, s *botState, token string, lg leg) (bool, error) {
	pos := s.pos()
	t := c.clock.Now() + 1
	blocked := c.blocked(s.id, lg.target)
	dist := grid.Manhattan(pos, lg.goal)

	cands := c.planner.Bounds().Neighbors(pos)
	slices.SortStableFunc(cands, func(a, b grid.Point) int {
		return grid.Manhattan(a, lg.goal) - grid.Manhattan(b, lg.goal)
	})
	for _, n := range cands {
		if grid.Manhattan(n, lg.goal) >= dist {
			break
		}
		if (n != lg.goal && blocked(n)) || c.occupied(n, s.id, lg.target) {
			continue
		}
		from := pos
		if !c.table.Reserve(n, t, s.id, &from) {
			continue
		}
		if err := c.clock.WaitUntil(ctx, t); err != nil {
			return false, err
		}
		if c.occupied(n, s.id, lg.target) {
			return false, nil
		}
		return true, c.step(s, token, n, []grid.Point{n, lg.goal}, lg.carrying)
	}
	if err := c.clock.WaitUntil(ctx, t); err != nil {
		return false, err
	}
	return false, nil
}

// step moves s onto next and drags the carried bin along.
func (c *Coordinator) step(s *botState, token string, next grid.Point, remaining []grid.Point, carrying int64) error {
	return c.mutate(s, token, func(b *model.Bot, ch *change) error {
		if len(b.FullPath) == 0 {
			b.FullPath = append(b.FullPath, b.Pos())
		}
		b.X, b.Y = next.X, next.Y
		b.FullPath = append(b.FullPath, next)
		if len(b.FullPath) > maxFullPath {
			b.FullPath = slices.Clone(b.FullPath[len(b.FullPath)-maxFullPath:])
		}
		b.Path = slices.Clone(remaining)
		ch.emit(event.NewBotMoveEvent(b.ID, b.X, b.Y, b.Z, string(b.Status)))
		if carrying != 0 {
			ch.bin(carrying, func(bin *model.Bin) {
				bin.X, bin.Y, bin.Z = b.X, b.Y, b.Z
				ch.emit(event.NewBinMoveEvent(bin.ID, b.ID, bin.X, bin.Y, bin.Z))
			})
		}
		return nil
	})
}

// blocked snapshots the static obstacles seen by self: bots that are not
// travelling and bins standing on the grid, except target.
func (c *Coordinator) blocked(self, target int64) func(grid.Point) bool {
	cells := make(map[grid.Point]bool)
	for _, o := range c.botStates() {
		if o.id == self {
			continue
		}
		o.mu.Lock()
		if !o.moving {
			cells[o.bot.Pos()] = true
		}
		o.mu.Unlock()
	}
	for _, b := range c.Bins() {
		if b.ID != target && b.Status.OnGrid() {
			cells[b.Pos()] = true
		}
	}
	return func(p grid.Point) bool { return cells[p] }
}

// occupied reports whether another bot stands on p or a bin other than
// target rests there.
func (c *Coordinator) occupied(p grid.Point, self, target int64) bool {
	for _, o := range c.botStates() {
		if o.id == self {
			continue
		}
		o.mu.Lock()
		at := o.bot.Pos() == p
		o.mu.Unlock()
		if at {
			return true
		}
	}
	for _, b := range c.Bins() {
		if b.ID != target && b.Status.OnGrid() && b.Pos() == p {
			return true
		}
	}
	return false
}
