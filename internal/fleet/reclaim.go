package fleet

import (
	"time"

	"github.com/Iron-Ham/autostore/internal/errors"
	"github.com/Iron-Ham/autostore/internal/event"
	"github.com/Iron-Ham/autostore/internal/model"
)

// Reclaim forcibly ends the fulfillment identified by token when the bot
// has made no progress since staleBefore. The bot goes idle, its active
// bin goes home and its locks and reservations are released.
//
// It returns ErrTokenRevoked when token no longer owns the bot, which
// makes repeated calls no-ops, and ErrStillLive when the task moved
// recently.
func (c *Coordinator) Reclaim(botID int64, token string, staleBefore time.Time) error {
	c.assignMu.Lock()
	defer c.assignMu.Unlock()

	s, err := c.botState(botID)
	if err != nil {
		return err
	}

	var cancel func()
	err = c.mutate(s, token, func(b *model.Bot, ch *change) error {
		if token == "" {
			return errors.ErrTokenRevoked
		}
		if s.lastProgress.After(staleBefore) {
			return errors.ErrStillLive
		}
		cancel = s.cancel
		s.token = ""
		s.cancel = nil
		s.running = false
		s.moving = false
		if s.activeBin != 0 {
			ch.bin(s.activeBin, func(bin *model.Bin) {
				if bin.Status != model.BinAvailable {
					ch.restoreBin(bin)
				}
			})
		}
		s.activeBin = 0
		b.AssignedOrderID = 0
		b.CarriedBinID = 0
		b.Path = nil
		ch.botStatus(b, model.BotIdle)
		return nil
	})
	if err != nil {
		return err
	}

	if cancel != nil {
		cancel()
	}
	c.table.Release(botID)
	released := c.locks.ReleaseHeldBy(botID)
	c.locks.Forget(botID)
	c.logger.WithBot(botID).Warn("fulfillment reclaimed", "released_locks", len(released))
	return nil
}

// SweepStaleLocks repairs state left behind by tasks that died without
// cleaning up: locks held by bots with no task, waiters with no task and
// busy bots with no order. It returns the number of repairs.
func (c *Coordinator) SweepStaleLocks() int {
	c.assignMu.Lock()
	defer c.assignMu.Unlock()

	repaired := 0
	resting := make(map[int64]bool)
	for _, s := range c.botStates() {
		s.mu.Lock()
		running := s.running
		stale := !running && (s.bot.Status.Busy() || s.bot.AssignedOrderID != 0)
		s.mu.Unlock()

		if stale {
			c.apply(s, func(b *model.Bot, ch *change) {
				b.AssignedOrderID = 0
				b.CarriedBinID = 0
				b.Path = nil
				ch.botStatus(b, model.BotIdle)
			})
			c.logger.WithBot(s.id).Warn("idled bot with no live task")
			repaired++
		}
		if !running {
			resting[s.id] = true
		}
	}

	// a waiter with no task would block its bin's queue forever
	for id := range resting {
		if c.locks.Forget(id) > 0 {
			c.logger.WithBot(id).Warn("dropped stale bin lock waiter")
			repaired++
		}
	}

	for _, l := range c.locks.Snapshot() {
		if l.Status != model.LockLocked || !resting[l.HolderID] {
			continue
		}
		if !c.locks.UnlockIfHeld(l.BinID, l.HolderID) {
			continue
		}
		c.settleBin(l.BinID)
		c.logger.Warn("released stale bin lock", "bin_id", l.BinID, "holder", l.HolderID)
		repaired++
	}
	return repaired
}

// settleBin returns a bin that nobody holds to its home cell.
func (c *Coordinator) settleBin(binID int64) {
	bs, err := c.binState(binID)
	if err != nil {
		return
	}
	ch := &change{c: c}
	bs.mu.Lock()
	b := bs.bin
	changed := b.Status != model.BinAvailable || b.Pos() != b.Home || b.Z != b.HomeZ
	if changed {
		ch.restoreBin(&bs.bin)
		bs.bin.UpdatedAt = c.now()
	}
	snap := bs.bin
	bs.mu.Unlock()
	if changed {
		c.saveBin(snap, ch.events)
	}
}

// ResetBots cancels every task and parks every bot idle at its parking
// cell. Orders in flight are reported released.
func (c *Coordinator) ResetBots() {
	c.assignMu.Lock()
	defer c.assignMu.Unlock()

	var released []int64
	for _, s := range c.botStates() {
		var cancel func()
		var orderID int64
		c.apply(s, func(b *model.Bot, ch *change) {
			cancel = s.cancel
			orderID = b.AssignedOrderID
			s.token = ""
			s.cancel = nil
			s.running = false
			s.moving = false
			s.activeBin = 0
			moved := b.Pos() != b.Parking
			b.X, b.Y = b.Parking.X, b.Parking.Y
			b.AssignedOrderID = 0
			b.CarriedBinID = 0
			b.Path = nil
			b.FullPath = nil
			ch.botStatus(b, model.BotIdle)
			if moved {
				ch.emit(event.NewBotMoveEvent(b.ID, b.X, b.Y, b.Z, string(b.Status)))
			}
		})
		if cancel != nil {
			cancel()
		}
		c.table.Release(s.id)
		c.locks.ReleaseHeldBy(s.id)
		c.locks.Forget(s.id)
		if orderID != 0 {
			released = append(released, orderID)
		}
	}

	c.logger.Info("bots reset", "released_orders", len(released))
	for _, id := range released {
		c.notify(func(l Listener) { l.OrderReleased(id, errors.ErrTokenRevoked) })
	}
}

// ResetBins returns every bin home as available and clears all locks.
func (c *Coordinator) ResetBins() {
	c.assignMu.Lock()
	defer c.assignMu.Unlock()

	c.locks.Reset()
	for _, b := range c.Bins() {
		c.settleBin(b.ID)
	}
	c.logger.Info("bins reset")
}

// Recover normalizes state loaded from storage after a restart. No task
// survives a restart, so busy bots go idle where they stand, bins away
// from home are sent back and every lock is dropped.
func (c *Coordinator) Recover() int {
	c.assignMu.Lock()
	defer c.assignMu.Unlock()

	n := 0
	for _, s := range c.botStates() {
		s.mu.Lock()
		busy := s.bot.Status.Busy() || s.bot.AssignedOrderID != 0 || s.bot.CarriedBinID != 0
		s.mu.Unlock()
		if !busy {
			continue
		}
		c.apply(s, func(b *model.Bot, ch *change) {
			b.AssignedOrderID = 0
			b.CarriedBinID = 0
			b.Path = nil
			ch.botStatus(b, model.BotIdle)
		})
		n++
	}

	c.locks.Reset()
	for _, b := range c.Bins() {
		if b.Status != model.BinAvailable || b.Pos() != b.Home || b.Z != b.HomeZ {
			c.settleBin(b.ID)
			n++
		}
	}
	if n > 0 {
		c.logger.Info("recovered fleet state", "repairs", n)
	}
	return n
}
