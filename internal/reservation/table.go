// Package reservation implements the shared space-time reservation table.
//
// A reservation binds a cell at a discrete timestep to one agent. When an
// agent moves from cell A at t-1 to cell B at t it owns (B, t) and a tail
// reservation on (A, t), which rules out both swap and follow conflicts.
// All access is serialized by a single mutex; Update runs a caller function
// inside that critical section so path search and path claim cannot race.
package reservation

import (
	"fmt"
	"slices"
	"sync"

	"github.com/Iron-Ham/autostore/internal/errors"
	"github.com/Iron-Ham/autostore/internal/grid"
)

// Reservation is one claimed (cell, timestep) pair.
type Reservation struct {
	Cell    grid.Point
	T       int64
	AgentID int64
	Tail    bool
}

// ConflictError reports the first cell of a path that another agent holds.
type ConflictError struct {
	Cell   grid.Point
	T      int64
	Holder int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cell %v at t=%d reserved by agent %d", e.Cell, e.T, e.Holder)
}

// Is lets callers test against errors.ErrNoPath.
func (e *ConflictError) Is(target error) bool { return target == errors.ErrNoPath }

type key struct {
	x, y int
	t    int64
}

func keyOf(p grid.Point, t int64) key { return key{x: p.X, y: p.Y, t: t} }

type entry struct {
	agent int64
	tail  bool
}

type undo struct {
	k    key
	prev entry
	had  bool
}

// Table is the reservation table. The zero value is not usable; use NewTable.
type Table struct {
	mu      sync.Mutex
	window  int64
	cells   map[key]entry
	byAgent map[int64]map[key]struct{}
}

// NewTable creates an empty table whose entries expire window steps after
// their timestep.
func NewTable(window int64) *Table {
	if window <= 0 {
		window = 1
	}
	return &Table{
		window:  window,
		cells:   make(map[key]entry),
		byAgent: make(map[int64]map[key]struct{}),
	}
}

// Window returns the expiry window in timesteps.
func (tb *Table) Window() int64 { return tb.window }

// Update runs fn with exclusive access to the table. If fn returns an
// error every write made through the Tx is undone and the error returned.
func (tb *Table) Update(fn func(tx *Tx) error) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tx := &Tx{tb: tb}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// Reserve claims (p, t) and, when from is non-nil, the tail (from, t).
// Nothing is written if either cell is held by another agent.
func (tb *Table) Reserve(p grid.Point, t int64, agent int64, from *grid.Point) bool {
	var ok bool
	_ = tb.Update(func(tx *Tx) error {
		ok = tx.Reserve(p, t, agent, from)
		return nil
	})
	return ok
}

// IsReserved reports whether (p, t) is held by an agent other than agent.
func (tb *Table) IsReserved(p grid.Point, t int64, agent int64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return (&Tx{tb: tb}).IsReserved(p, t, agent)
}

// Owner returns the agent holding (p, t).
func (tb *Table) Owner(p grid.Point, t int64) (int64, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	e, ok := tb.cells[keyOf(p, t)]
	return e.agent, ok
}

// ClearExpired evicts every entry older than now-window and returns the
// number removed.
func (tb *Table) ClearExpired(now int64) int {
	var n int
	_ = tb.Update(func(tx *Tx) error {
		n = tx.ClearExpired(now)
		return nil
	})
	return n
}

// ReservePath claims a whole path atomically. See Tx.ReservePath.
func (tb *Table) ReservePath(agent int64, cells []grid.Point, start int64, dwell int) error {
	return tb.Update(func(tx *Tx) error {
		return tx.ReservePath(agent, cells, start, dwell)
	})
}

// ReleaseAfter drops the agent's reservations with timestep greater than t.
func (tb *Table) ReleaseAfter(agent int64, t int64) int {
	var n int
	_ = tb.Update(func(tx *Tx) error {
		n = tx.ReleaseAfter(agent, t)
		return nil
	})
	return n
}

// Release drops every reservation held by agent.
func (tb *Table) Release(agent int64) int {
	var n int
	_ = tb.Update(func(tx *Tx) error {
		n = tx.ReleaseAfter(agent, -1<<62)
		return nil
	})
	return n
}

// ReservationsFor lists an agent's reservations ordered by timestep.
func (tb *Table) ReservationsFor(agent int64) []Reservation {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	keys := tb.byAgent[agent]
	out := make([]Reservation, 0, len(keys))
	for k := range keys {
		e := tb.cells[k]
		out = append(out, Reservation{Cell: grid.P(k.x, k.y), T: k.t, AgentID: agent, Tail: e.tail})
	}
	slices.SortFunc(out, func(a, b Reservation) int {
		if a.T != b.T {
			if a.T < b.T {
				return -1
			}
			return 1
		}
		if a.Tail != b.Tail {
			if !a.Tail {
				return -1
			}
			return 1
		}
		if a.Cell.X != b.Cell.X {
			return a.Cell.X - b.Cell.X
		}
		return a.Cell.Y - b.Cell.Y
	})
	return out
}

// Len returns the number of live entries.
func (tb *Table) Len() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.cells)
}

// Tx is a view of the table valid only inside Update.
type Tx struct {
	tb   *Table
	undo []undo
}

// IsReserved reports whether (p, t) is held by an agent other than agent.
func (tx *Tx) IsReserved(p grid.Point, t int64, agent int64) bool {
	e, ok := tx.tb.cells[keyOf(p, t)]
	return ok && e.agent != agent
}

// Reserve claims (p, t) and the tail (from, t) for agent, or nothing.
func (tx *Tx) Reserve(p grid.Point, t int64, agent int64, from *grid.Point) bool {
	if tx.IsReserved(p, t, agent) {
		return false
	}
	if from != nil && *from != p && tx.IsReserved(*from, t, agent) {
		return false
	}
	tx.set(keyOf(p, t), entry{agent: agent})
	if from != nil && *from != p {
		k := keyOf(*from, t)
		// An existing vertex claim on the same cell is stronger than a tail.
		if e, ok := tx.tb.cells[k]; !ok || e.agent != agent {
			tx.set(k, entry{agent: agent, tail: true})
		}
	}
	return true
}

// ReservePath replaces the agent's claims after start with the given path.
// cells[i] is occupied at start+i and each step also claims its tail. The
// final cell is held for dwell further steps. On conflict nothing changes
// and a *ConflictError is returned.
func (tx *Tx) ReservePath(agent int64, cells []grid.Point, start int64, dwell int) error {
	if len(cells) == 0 {
		return nil
	}
	mark := len(tx.undo)
	tx.ReleaseAfter(agent, start)

	fail := func(p grid.Point, t int64) error {
		e, ok := tx.tb.cells[keyOf(p, t)]
		holder := e.agent
		if from := t - start - 1; (!ok || holder == agent) && from >= 0 && from < int64(len(cells)) {
			holder = tx.tb.cells[keyOf(cells[from], t)].agent
		}
		tx.rollbackTo(mark)
		return &ConflictError{Cell: p, T: t, Holder: holder}
	}

	for i, c := range cells {
		t := start + int64(i)
		var from *grid.Point
		if i > 0 {
			from = &cells[i-1]
		}
		if !tx.Reserve(c, t, agent, from) {
			return fail(c, t)
		}
	}
	goal := cells[len(cells)-1]
	end := start + int64(len(cells)-1)
	for d := 1; d <= dwell; d++ {
		if !tx.Reserve(goal, end+int64(d), agent, &goal) {
			return fail(goal, end+int64(d))
		}
	}
	return nil
}

// ReleaseAfter drops the agent's reservations with timestep greater than t.
func (tx *Tx) ReleaseAfter(agent int64, t int64) int {
	var drop []key
	for k := range tx.tb.byAgent[agent] {
		if k.t > t {
			drop = append(drop, k)
		}
	}
	for _, k := range drop {
		tx.del(k)
	}
	return len(drop)
}

// ClearExpired evicts entries with timestep before now-window.
func (tx *Tx) ClearExpired(now int64) int {
	cutoff := now - tx.tb.window
	var drop []key
	for k := range tx.tb.cells {
		if k.t < cutoff {
			drop = append(drop, k)
		}
	}
	for _, k := range drop {
		tx.del(k)
	}
	return len(drop)
}

func (tx *Tx) set(k key, e entry) {
	prev, had := tx.tb.cells[k]
	tx.undo = append(tx.undo, undo{k: k, prev: prev, had: had})
	if had {
		tx.tb.unindex(prev.agent, k)
	}
	tx.tb.cells[k] = e
	tx.tb.index(e.agent, k)
}

func (tx *Tx) del(k key) {
	prev, had := tx.tb.cells[k]
	if !had {
		return
	}
	tx.undo = append(tx.undo, undo{k: k, prev: prev, had: true})
	tx.tb.unindex(prev.agent, k)
	delete(tx.tb.cells, k)
}

func (tx *Tx) rollback() { tx.rollbackTo(0) }

func (tx *Tx) rollbackTo(mark int) {
	for i := len(tx.undo) - 1; i >= mark; i-- {
		u := tx.undo[i]
		if cur, ok := tx.tb.cells[u.k]; ok {
			tx.tb.unindex(cur.agent, u.k)
			delete(tx.tb.cells, u.k)
		}
		if u.had {
			tx.tb.cells[u.k] = u.prev
			tx.tb.index(u.prev.agent, u.k)
		}
	}
	tx.undo = tx.undo[:mark]
}

func (tb *Table) index(agent int64, k key) {
	m := tb.byAgent[agent]
	if m == nil {
		m = make(map[key]struct{})
		tb.byAgent[agent] = m
	}
	m[k] = struct{}{}
}

func (tb *Table) unindex(agent int64, k key) {
	m := tb.byAgent[agent]
	delete(m, k)
	if len(m) == 0 {
		delete(tb.byAgent, agent)
	}
}
