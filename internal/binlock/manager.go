// Package binlock implements per-bin mutual exclusion with a FIFO waiting list.
//
// A lock has at most one holder. A failed Lock call enqueues the caller on
// the bin's waiting list (once). Unlock never hands the lock to a waiter.
// Callers that honour arrival order use LockInTurn and TryLock, which only
// grant a free lock to the front of the waiting list.
package binlock

import (
	"slices"
	"sync"
	"time"

	"github.com/Iron-Ham/autostore/internal/event"
	"github.com/Iron-Ham/autostore/internal/logging"
	"github.com/Iron-Ham/autostore/internal/model"
)

// Manager owns every bin lock. It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	locks  map[int64]*model.BinLock
	bus    *event.Bus
	rec    Recorder
	logger *logging.Logger
	now    func() time.Time
}

// NewManager creates a Manager publishing lock status changes to bus.
func NewManager(bus *event.Bus, opts ...Option) *Manager {
	m := &Manager{
		locks:  make(map[int64]*model.BinLock),
		bus:    bus,
		logger: logging.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lock tries to take binID for agentID. It returns true when the agent
// holds the lock afterwards. Otherwise the agent is appended to the waiting
// list unless already present. A free lock goes to agentID even when others
// are queued.
func (m *Manager) Lock(binID, agentID int64) bool {
	return m.lock(binID, agentID, false, true)
}

// LockInTurn is Lock honouring the waiting list: a free lock is granted only
// when the list is empty or agentID is at its front. Otherwise agentID is
// queued.
func (m *Manager) LockInTurn(binID, agentID int64) bool {
	return m.lock(binID, agentID, true, true)
}

// TryLock grants binID to agentID under the same rule as LockInTurn but
// never queues the agent.
func (m *Manager) TryLock(binID, agentID int64) bool {
	return m.lock(binID, agentID, true, false)
}

func (m *Manager) lock(binID, agentID int64, inTurn, enqueue bool) bool {
	m.mu.Lock()
	acquired, changed := m.lockLocked(binID, agentID, inTurn, enqueue)
	m.mu.Unlock()

	if changed && acquired {
		m.bus.Publish(event.NewStatusUpdateEvent(event.EntityBinLock, binID, string(model.LockLocked)))
	}
	return acquired
}

// lockLocked performs a lock attempt while m.mu is held and persists the
// result. It reports whether the agent holds the lock and whether anything
// changed.
func (m *Manager) lockLocked(binID, agentID int64, inTurn, enqueue bool) (acquired, changed bool) {
	l, ok := m.locks[binID]
	switch {
	case !ok:
		l = &model.BinLock{BinID: binID, HolderID: agentID, Status: model.LockLocked}
		m.locks[binID] = l
		acquired = true
	case l.Status == model.LockLocked && l.HolderID == agentID:
		return true, false
	case l.Status == model.LockAvailable && (!inTurn || len(l.Waiting) == 0 || l.Waiting[0] == agentID):
		l.HolderID = agentID
		l.Status = model.LockLocked
		l.Waiting = slices.DeleteFunc(l.Waiting, func(id int64) bool { return id == agentID })
		acquired = true
	default:
		if !enqueue || slices.Contains(l.Waiting, agentID) {
			return false, false
		}
		l.Waiting = append(l.Waiting, agentID)
	}

	l.UpdatedAt = m.now()
	m.persistLocked(l)
	return acquired, true
}

// Unlock marks binID available and clears its holder. Waiters stay queued
// and are not granted the lock. Returns false if the bin was not locked.
func (m *Manager) Unlock(binID int64) bool {
	m.mu.Lock()
	ok := m.unlockLocked(binID)
	m.mu.Unlock()

	if ok {
		m.bus.Publish(event.NewStatusUpdateEvent(event.EntityBinLock, binID, string(model.LockAvailable)))
	}
	return ok
}

// UnlockIfHeld unlocks binID only when agentID is the holder.
func (m *Manager) UnlockIfHeld(binID, agentID int64) bool {
	m.mu.Lock()
	ok := false
	if l, found := m.locks[binID]; found && l.Status == model.LockLocked && l.HolderID == agentID {
		ok = m.unlockLocked(binID)
	}
	m.mu.Unlock()

	if ok {
		m.bus.Publish(event.NewStatusUpdateEvent(event.EntityBinLock, binID, string(model.LockAvailable)))
	}
	return ok
}

func (m *Manager) unlockLocked(binID int64) bool {
	l, ok := m.locks[binID]
	if !ok || l.Status != model.LockLocked {
		return false
	}
	l.Status = model.LockAvailable
	l.HolderID = 0
	l.UpdatedAt = m.now()
	m.persistLocked(l)
	return true
}

// ReleaseHeldBy unlocks every bin held by agentID and returns their ids
// in ascending order.
func (m *Manager) ReleaseHeldBy(agentID int64) []int64 {
	m.mu.Lock()
	var released []int64
	for id, l := range m.locks {
		if l.Status == model.LockLocked && l.HolderID == agentID {
			released = append(released, id)
		}
	}
	slices.Sort(released)
	for _, id := range released {
		m.unlockLocked(id)
	}
	m.mu.Unlock()

	for _, id := range released {
		m.bus.Publish(event.NewStatusUpdateEvent(event.EntityBinLock, id, string(model.LockAvailable)))
	}
	return released
}

// Forget removes agentID from every waiting list and returns how many lists
// it left. Called when the agent is assigned elsewhere or stops waiting.
func (m *Manager) Forget(agentID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	left := 0
	for _, l := range m.locks {
		n := len(l.Waiting)
		l.Waiting = slices.DeleteFunc(l.Waiting, func(id int64) bool { return id == agentID })
		if len(l.Waiting) != n {
			l.UpdatedAt = m.now()
			m.persistLocked(l)
			left++
		}
	}
	return left
}

// Holder returns the agent holding binID.
func (m *Manager) Holder(binID int64) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[binID]
	if !ok || l.Status != model.LockLocked {
		return 0, false
	}
	return l.HolderID, true
}

// Waiting returns a copy of binID's waiting list in arrival order.
func (m *Manager) Waiting(binID int64) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.locks[binID]; ok {
		return slices.Clone(l.Waiting)
	}
	return nil
}

// Next returns the agent at the front of binID's waiting list.
func (m *Manager) Next(binID int64) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.locks[binID]; ok && len(l.Waiting) > 0 {
		return l.Waiting[0], true
	}
	return 0, false
}

// Snapshot returns a copy of every lock ordered by bin id.
func (m *Manager) Snapshot() []model.BinLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.BinLock, 0, len(m.locks))
	for _, l := range m.locks {
		out = append(out, l.Clone())
	}
	slices.SortFunc(out, func(a, b model.BinLock) int { return int(a.BinID - b.BinID) })
	return out
}

// Restore replaces the in-memory locks with a persisted snapshot without
// publishing events or writing back.
func (m *Manager) Restore(locks []model.BinLock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.locks = make(map[int64]*model.BinLock, len(locks))
	for _, l := range locks {
		c := l.Clone()
		m.locks[l.BinID] = &c
	}
}

// Reset deletes every lock. Used by the admin "reset bins" action.
func (m *Manager) Reset() {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.locks))
	for id, l := range m.locks {
		if l.Status == model.LockLocked {
			ids = append(ids, id)
		}
	}
	m.locks = make(map[int64]*model.BinLock)
	if m.rec != nil {
		if err := m.rec.DeleteBinLocks(); err != nil {
			m.logger.Warn("failed to delete persisted bin locks", "error", err)
		}
	}
	m.mu.Unlock()

	slices.Sort(ids)
	for _, id := range ids {
		m.bus.Publish(event.NewStatusUpdateEvent(event.EntityBinLock, id, string(model.LockAvailable)))
	}
}

func (m *Manager) persistLocked(l *model.BinLock) {
	if m.rec == nil {
		return
	}
	if err := m.rec.SaveBinLock(l.Clone()); err != nil {
		m.logger.Warn("failed to persist bin lock", "bin_id", l.BinID, "error", err)
	}
}
