// Package planner implements windowed cooperative A* over (cell, timestep)
// states against the shared reservation table.
//
// Every successful plan is claimed in the same table transaction that
// searched it, so two agents planning concurrently can never be handed
// overlapping routes.
package planner

import (
	"container/heap"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/Iron-Ham/autostore/internal/errors"
	"github.com/Iron-Ham/autostore/internal/grid"
	"github.com/Iron-Ham/autostore/internal/reservation"
)

// Planner plans collision-free routes for one fleet.
type Planner struct {
	table     *reservation.Table
	bounds    grid.Bounds
	window    int
	jitter    float64
	offsets   []int
	waypoints []grid.Point
}

// New creates a Planner over table for a grid of the given bounds. The
// search window defaults to the table's expiry window.
func New(table *reservation.Table, bounds grid.Bounds, opts ...Option) *Planner {
	p := &Planner{
		table:   table,
		bounds:  bounds,
		window:  int(table.Window()),
		offsets: []int{1, 2, 4, 8},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Table returns the reservation table the planner claims into.
func (p *Planner) Table() *reservation.Table { return p.table }

// Bounds returns the grid bounds.
func (p *Planner) Bounds() grid.Bounds { return p.bounds }

// Plan runs a single direct search and reserves the result. It returns
// ErrNoPath when no route reaches the goal inside the window.
func (p *Planner) Plan(req Request) (Route, error) {
	var route Route
	err := p.table.Update(func(tx *reservation.Tx) error {
		tx.ClearExpired(req.Now)
		cells := p.search(tx, p.query(req, req.Start, req.Goal, req.Now, req.Dwell, nil))
		if cells == nil {
			return fmt.Errorf("%w: %v -> %v at t=%d", errors.ErrNoPath, req.Start, req.Goal, req.Now)
		}
		if err := tx.ReservePath(req.AgentID, cells, req.Now, req.Dwell); err != nil {
			return err
		}
		route = Route{Cells: cells, Start: req.Now, Reserved: true, Strategy: StrategyDirect}
		return nil
	})
	return route, err
}

// PlanWithFallback tries, in order: a direct route (rerouted through the
// configured waypoints when it crosses req.Avoid), delayed starts, detours
// through neighbours of start and goal, and the configured waypoints. If
// all fail it returns the unreserved pair [Start, Goal]; the caller must
// re-check every step of such a route before taking it.
func (p *Planner) PlanWithFallback(req Request) (Route, error) {
	var route Route
	err := p.table.Update(func(tx *reservation.Tx) error {
		tx.ClearExpired(req.Now)
		cells, strategy := p.fallback(tx, req)
		if cells == nil {
			tx.ReleaseAfter(req.AgentID, req.Now)
			return nil
		}
		if err := tx.ReservePath(req.AgentID, cells, req.Now, req.Dwell); err != nil {
			return err
		}
		route = Route{Cells: cells, Start: req.Now, Reserved: true, Strategy: strategy}
		return nil
	})
	if err != nil {
		return Route{}, err
	}
	if route.Cells == nil {
		cells := []grid.Point{req.Start}
		if req.Goal != req.Start {
			cells = append(cells, req.Goal)
		}
		route = Route{Cells: cells, Start: req.Now, Strategy: StrategyStraight}
	}
	return route, nil
}

func (p *Planner) fallback(tx *reservation.Tx, req Request) ([]grid.Point, Strategy) {
	if cells := p.search(tx, p.query(req, req.Start, req.Goal, req.Now, req.Dwell, nil)); cells != nil {
		if crosses(cells, req) {
			if alt := p.viaAny(tx, req, p.waypoints, req.Avoid); alt != nil {
				return alt, StrategyExclusion
			}
		}
		return cells, StrategyDirect
	}

	for _, off := range p.offsets {
		if cells := p.delayed(tx, req, off); cells != nil {
			return cells, StrategyOffset
		}
	}

	detours := append(p.bounds.Neighbors(req.Start), p.bounds.Neighbors(req.Goal)...)
	if cells := p.viaAny(tx, req, detours, nil); cells != nil {
		return cells, StrategyDetour
	}

	if cells := p.viaAny(tx, req, p.waypoints, req.Avoid); cells != nil {
		return cells, StrategyExclusion
	}
	return nil, StrategyStraight
}

// delayed waits off steps at the start cell before searching.
func (p *Planner) delayed(tx *reservation.Tx, req Request, off int) []grid.Point {
	if off <= 0 || off >= p.window {
		return nil
	}
	for d := 1; d <= off; d++ {
		if tx.IsReserved(req.Start, req.Now+int64(d), req.AgentID) {
			return nil
		}
	}
	cells := p.search(tx, p.query(req, req.Start, req.Goal, req.Now+int64(off), req.Dwell, nil))
	if cells == nil {
		return nil
	}
	prefix := make([]grid.Point, off, off+len(cells))
	for i := range prefix {
		prefix[i] = req.Start
	}
	return append(prefix, cells...)
}

// viaAny returns the first two-leg route start -> wp -> goal that exists.
func (p *Planner) viaAny(tx *reservation.Tx, req Request, waypoints []grid.Point, avoid []grid.Point) []grid.Point {
	for _, wp := range waypoints {
		if wp == req.Start || wp == req.Goal || !p.bounds.Contains(wp) {
			continue
		}
		if slices.Contains(avoid, wp) || (req.Blocked != nil && req.Blocked(wp)) {
			continue
		}
		leg1 := p.search(tx, p.query(req, req.Start, wp, req.Now, 0, avoid))
		if leg1 == nil {
			continue
		}
		t1 := req.Now + int64(len(leg1)) - 1
		leg2 := p.search(tx, p.query(req, wp, req.Goal, t1, req.Dwell, avoid))
		if leg2 == nil {
			continue
		}
		return append(leg1, leg2[1:]...)
	}
	return nil
}

func crosses(cells []grid.Point, req Request) bool {
	for _, c := range cells {
		if c != req.Start && c != req.Goal && slices.Contains(req.Avoid, c) {
			return true
		}
	}
	return false
}

type query struct {
	agent   int64
	start   grid.Point
	goal    grid.Point
	t0      int64
	dwell   int
	blocked func(grid.Point) bool
	fixed   grid.Point // request goal, never treated as an obstacle
}

func (p *Planner) query(req Request, start, goal grid.Point, t0 int64, dwell int, avoid []grid.Point) query {
	blocked := req.Blocked
	if len(avoid) > 0 {
		base := blocked
		blocked = func(c grid.Point) bool {
			if slices.Contains(avoid, c) {
				return true
			}
			return base != nil && base(c)
		}
	}
	return query{
		agent:   req.AgentID,
		start:   start,
		goal:    goal,
		t0:      t0,
		dwell:   dwell,
		blocked: blocked,
		fixed:   req.Goal,
	}
}

type state struct {
	cell grid.Point
	t    int64
}

type node struct {
	cell   grid.Point
	t      int64
	g      int
	parent int
}

// search runs space-time A* and returns the cell sequence from q.start at
// q.t0 to q.goal, or nil. Only other agents' reservations block.
func (p *Planner) search(tx *reservation.Tx, q query) []grid.Point {
	if !p.bounds.Contains(q.start) || !p.bounds.Contains(q.goal) {
		return nil
	}
	horizon := q.t0 + int64(p.window)

	var rng *rand.Rand
	if p.jitter > 0 {
		rng = rand.New(rand.NewPCG(uint64(q.agent), uint64(q.t0)))
	}
	h := func(c grid.Point) float64 {
		v := float64(grid.Manhattan(c, q.goal))
		if rng != nil {
			v += rng.Float64() * p.jitter
		}
		return v
	}

	nodes := []node{{cell: q.start, t: q.t0, parent: -1}}
	open := &openSet{}
	heap.Push(open, item{f: h(q.start), id: 0})
	closed := make(map[state]struct{})
	seq := 0

	for open.Len() > 0 {
		it := heap.Pop(open).(item)
		n := nodes[it.id]
		s := state{cell: n.cell, t: n.t}
		if _, seen := closed[s]; seen {
			continue
		}
		closed[s] = struct{}{}

		if n.cell == q.goal && holdable(tx, q, n.t) {
			return unwind(nodes, it.id)
		}
		if n.t >= horizon {
			continue
		}

		nt := n.t + 1
		for _, next := range p.successors(n.cell) {
			if next != q.start && next != q.goal && next != q.fixed && q.blocked != nil && q.blocked(next) {
				continue
			}
			if tx.IsReserved(next, nt, q.agent) {
				continue
			}
			if next != n.cell && tx.IsReserved(n.cell, nt, q.agent) {
				continue
			}
			if _, seen := closed[state{cell: next, t: nt}]; seen {
				continue
			}
			nodes = append(nodes, node{cell: next, t: nt, g: n.g + 1, parent: it.id})
			seq++
			heap.Push(open, item{f: float64(n.g+1) + h(next), g: n.g + 1, seq: seq, id: len(nodes) - 1})
		}
	}
	return nil
}

// successors lists wait first, then the in-bounds axis moves.
func (p *Planner) successors(c grid.Point) []grid.Point {
	return append([]grid.Point{c}, p.bounds.Neighbors(c)...)
}

func holdable(tx *reservation.Tx, q query, t int64) bool {
	for d := 1; d <= q.dwell; d++ {
		if tx.IsReserved(q.goal, t+int64(d), q.agent) {
			return false
		}
	}
	return true
}

func unwind(nodes []node, id int) []grid.Point {
	var out []grid.Point
	for i := id; i >= 0; i = nodes[i].parent {
		out = append(out, nodes[i].cell)
	}
	slices.Reverse(out)
	return out
}

type item struct {
	f   float64
	g   int
	seq int
	id  int
}

// openSet orders by f, then deeper g, then insertion order.
type openSet []item

func (o openSet) Len() int { return len(o) }
func (o openSet) Less(i, j int) bool {
	if o[i].f != o[j].f {
		return o[i].f < o[j].f
	}
	if o[i].g != o[j].g {
		return o[i].g > o[j].g
	}
	return o[i].seq < o[j].seq
}
func (o openSet) Swap(i, j int) { o[i], o[j] = o[j], o[i] }
func (o *openSet) Push(x any)   { *o = append(*o, x.(item)) }
func (o *openSet) Pop() any {
	old := *o
	n := len(old)
	it := old[n-1]
	*o = old[:n-1]
	return it
}
