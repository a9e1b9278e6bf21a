package fleet

import (
	"github.com/Iron-Ham/autostore/internal/errors"
	"github.com/Iron-Ham/autostore/internal/event"
	"github.com/Iron-Ham/autostore/internal/grid"
	"github.com/Iron-Ham/autostore/internal/model"
)

// change collects the side effects of one bot mutation so they can be
// persisted and published after the bot's state lock is released.
type change struct {
	c      *Coordinator
	events []event.Event
	bins   []model.Bin
}

func (ch *change) emit(e event.Event) { ch.events = append(ch.events, e) }

// checkTransition returns ErrInvalidTransition when the bot state machine
// does not allow b to move to st.
func checkTransition(b *model.Bot, st model.BotStatus) error {
	if b.Status.CanBecome(st) {
		return nil
	}
	return errors.NewFleetError("cannot go "+string(b.Status)+" -> "+string(st), errors.ErrInvalidTransition).
		WithBot(b.ID).WithOrder(b.AssignedOrderID).WithPhase(string(b.Status))
}

// botStatus moves b to st and records a status_update when it changed.
func (ch *change) botStatus(b *model.Bot, st model.BotStatus) {
	if b.Status == st {
		return
	}
	b.Status = st
	ch.emit(event.NewStatusUpdateEvent(event.EntityBot, b.ID, string(st)))
}

// bin mutates one bin under its lock and records the result.
func (ch *change) bin(id int64, fn func(*model.Bin)) {
	bs, err := ch.c.binState(id)
	if err != nil {
		ch.c.logger.Warn("bin vanished during update", "bin_id", id)
		return
	}
	bs.mu.Lock()
	fn(&bs.bin)
	bs.bin.UpdatedAt = ch.c.now()
	snap := bs.bin
	bs.mu.Unlock()
	ch.bins = append(ch.bins, snap)
}

// binStatus moves b to st and records a status_update when it changed.
func (ch *change) binStatus(b *model.Bin, st model.BinStatus) {
	if b.Status == st {
		return
	}
	b.Status = st
	ch.emit(event.NewStatusUpdateEvent(event.EntityBin, b.ID, string(st)))
}

// restoreBin puts b back on its home cell as available.
func (ch *change) restoreBin(b *model.Bin) {
	moved := b.X != b.Home.X || b.Y != b.Home.Y || b.Z != b.HomeZ
	b.X, b.Y, b.Z = b.Home.X, b.Home.Y, b.HomeZ
	ch.binStatus(b, model.BinAvailable)
	if moved {
		ch.emit(event.NewBinReturnEvent(b.ID, b.X, b.Y, b.Z))
	}
}

// mutate runs fn against s while token still owns it. An empty token skips
// the ownership check. fn must return any error before changing state.
func (c *Coordinator) mutate(s *botState, token string, fn func(b *model.Bot, ch *change) error) error {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if token != "" && s.token != token {
		s.mu.Unlock()
		return errors.ErrTokenRevoked
	}
	ch := &change{c: c}
	if err := fn(&s.bot, ch); err != nil {
		s.mu.Unlock()
		return err
	}
	now := c.now()
	s.bot.UpdatedAt = now
	s.lastProgress = now
	snap := s.bot.Clone()
	s.mu.Unlock()

	c.persist(snap, ch.bins)
	for _, e := range ch.events {
		c.bus.Publish(e)
	}
	return nil
}

// apply is mutate without an ownership check or failure path.
func (c *Coordinator) apply(s *botState, fn func(b *model.Bot, ch *change)) {
	_ = c.mutate(s, "", func(b *model.Bot, ch *change) error {
		fn(b, ch)
		return nil
	})
}

func (c *Coordinator) persist(bot model.Bot, bins []model.Bin) {
	if c.rec == nil {
		return
	}
	if err := c.rec.SaveBot(bot); err != nil {
		c.logger.WithBot(bot.ID).Warn("failed to persist bot", "error", err)
	}
	for _, b := range bins {
		if err := c.rec.SaveBin(b); err != nil {
			c.logger.Warn("failed to persist bin", "bin_id", b.ID, "error", err)
		}
	}
}

// saveBin persists a bin changed outside a bot mutation and publishes its events.
func (c *Coordinator) saveBin(b model.Bin, events []event.Event) {
	if c.rec != nil {
		if err := c.rec.SaveBin(b); err != nil {
			c.logger.Warn("failed to persist bin", "bin_id", b.ID, "error", err)
		}
	}
	for _, e := range events {
		c.bus.Publish(e)
	}
}

func (s *botState) pos() grid.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bot.Pos()
}

func (s *botState) status() model.BotStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bot.Status
}

// touch records progress without changing state.
func (c *Coordinator) touch(s *botState) {
	s.mu.Lock()
	s.lastProgress = c.now()
	s.mu.Unlock()
}

func (s *botState) setMoving(v bool) {
	s.mu.Lock()
	s.moving = v
	s.mu.Unlock()
}
