package order

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/Iron-Ham/autostore/internal/errors"
	"github.com/Iron-Ham/autostore/internal/model"
)

// Start runs the reconcile and watchdog loops until ctx is cancelled or
// Stop is called. Calling Start twice without Stop is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.stopFunc != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.stopFunc = cancel
	m.loops.Go(func() { m.reconcileLoop(ctx) })
	m.loops.Go(func() { m.watchdogLoop(ctx) })
}

// Stop halts both loops and waits for them to exit. It is safe to call
// Stop even if Start was never called.
func (m *Manager) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.stopFunc == nil {
		return
	}
	m.stopFunc()
	m.loops.Wait()
	m.stopFunc = nil
}

func (m *Manager) reconcileLoop(ctx context.Context) {
	for {
		var tick <-chan time.Time
		var timer *time.Timer
		if d := time.Duration(m.reconcileInterval.Load()); d > 0 {
			timer = time.NewTimer(d)
			tick = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-m.poke:
		case <-tick:
		}
		if timer != nil {
			timer.Stop()
		}
		m.Reconcile(ctx)
	}
}

func (m *Manager) watchdogLoop(ctx context.Context) {
	for {
		d := time.Duration(m.watchdogInterval.Load())
		if d <= 0 {
			<-ctx.Done()
			return
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		m.Sweep(m.now())
	}
}

// Reconcile imports pending orders from the store and retries assignment
// of every pending, unassigned order, oldest first. It returns how many
// orders were assigned.
func (m *Manager) Reconcile(ctx context.Context) int {
	stored, err := m.store.ListOrders(model.OrderPending)
	if err != nil {
		m.logger.Warn("reconcile: listing pending orders failed", "error", err)
		return 0
	}

	m.mu.Lock()
	seen := make(map[int64]bool, len(stored))
	for _, o := range stored {
		seen[o.ID] = true
		if _, ok := m.orders[o.ID]; !ok {
			m.orders[o.ID] = &entry{order: o.Clone(), progress: o.UpdatedAt}
		}
	}
	type candidate struct {
		id      int64
		created time.Time
	}
	var queue []candidate
	for id, e := range m.orders {
		if e.order.Status == model.OrderPacked {
			delete(m.orders, id)
			continue
		}
		if e.order.Status != model.OrderPending || e.assigning {
			continue
		}
		if !seen[id] {
			// deleted or completed behind our back
			delete(m.orders, id)
			continue
		}
		queue = append(queue, candidate{id: id, created: e.order.CreatedAt})
	}
	m.mu.Unlock()

	slices.SortFunc(queue, func(a, b candidate) int {
		if c := a.created.Compare(b.created); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})

	assigned := 0
	for _, c := range queue {
		if ctx.Err() != nil {
			break
		}
		res, err := m.tryAssign(ctx, c.id)
		if err != nil {
			// every bot is busy; a capability mismatch only skips this order
			if errors.Is(err, errors.ErrNoIdleBot) {
				break
			}
			continue
		}
		if res.Status != model.OrderPending {
			assigned++
		}
	}
	if assigned > 0 {
		m.logger.Info("reconcile assigned pending orders", "assigned", assigned, "pending", len(queue)-assigned)
	}
	return assigned
}

// Sweep is one watchdog pass. Orders packing without progress for the
// stuck timeout have their fulfillment reclaimed and are forced to
// packed; a bot that is still moving keeps its order. Stale locks are
// swept afterwards.
func (m *Manager) Sweep(now time.Time) SweepResult {
	timeout := m.StuckTimeout()
	cutoff := now.Add(-timeout)

	type stuckOrder struct {
		id    int64
		bot   int64
		token string
	}
	var stuck []stuckOrder
	m.mu.Lock()
	for id, e := range m.orders {
		if e.order.Status == model.OrderPacking && e.progress.Before(cutoff) {
			stuck = append(stuck, stuckOrder{id: id, bot: e.order.AssignedBotID, token: e.token})
		}
	}
	m.mu.Unlock()
	slices.SortFunc(stuck, func(a, b stuckOrder) int { return cmp.Compare(a.id, b.id) })

	var res SweepResult
	for _, s := range stuck {
		log := m.logger.WithOrder(s.id).WithBot(s.bot)
		err := m.coord.Reclaim(s.bot, s.token, cutoff)
		switch {
		case errors.Is(err, errors.ErrStillLive):
			res.StillLive++
			log.Debug("stuck order's bot is still moving")
			continue
		case err == nil, errors.Is(err, errors.ErrTokenRevoked), errors.IsNotFound(err):
		default:
			log.Warn("reclaim failed", "error", err)
			continue
		}

		if m.update(s.id, func(e *entry) bool {
			if e.order.Status != model.OrderPacking {
				return false
			}
			e.order.Status = model.OrderPacked
			e.token = ""
			return true
		}) {
			res.Reclaimed++
			log.Warn("watchdog forced stuck order to packed", "timeout", timeout.String())
		}
	}

	res.Repaired = m.coord.SweepStaleLocks()
	return res
}
