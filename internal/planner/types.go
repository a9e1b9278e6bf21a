package planner

import (
	"github.com/Iron-Ham/autostore/internal/grid"
)

// Strategy names the planning step that produced a route.
type Strategy string

const (
	StrategyDirect    Strategy = "direct"
	StrategyOffset    Strategy = "offset"
	StrategyDetour    Strategy = "detour"
	StrategyExclusion Strategy = "exclusion"
	StrategyStraight  Strategy = "straight"
)

// Request describes one planning call.
type Request struct {
	AgentID int64
	Start   grid.Point
	Goal    grid.Point
	// Now is the timestep at which the agent occupies Start.
	Now int64
	// Blocked reports static obstacles. Start and Goal are never blocked.
	Blocked func(grid.Point) bool
	// Avoid is an exclusion zone the route should stay out of when an
	// alternate exists. Start and Goal inside the zone are allowed.
	Avoid []grid.Point
	// Dwell holds the goal for this many steps after arrival.
	Dwell int
}

// Route is a planned, time-indexed path. Cells[i] is occupied at Start+i.
type Route struct {
	Cells    []grid.Point
	Start    int64
	Reserved bool
	Strategy Strategy
}

// End returns the timestep at which the route reaches its final cell.
func (r Route) End() int64 { return r.Start + int64(len(r.Cells)) - 1 }

// At returns the planned cell at timestep t, clamped to the route ends.
func (r Route) At(t int64) grid.Point {
	i := t - r.Start
	if i < 0 {
		i = 0
	}
	if i >= int64(len(r.Cells)) {
		i = int64(len(r.Cells)) - 1
	}
	return r.Cells[i]
}

// Goal returns the final cell.
func (r Route) Goal() grid.Point { return r.Cells[len(r.Cells)-1] }

// Option configures a Planner.
type Option func(*Planner)

// WithVaried enables heuristic jitter in [0, jitter) per expanded node.
// The jitter is seeded from the agent id and start step so runs repeat.
func WithVaried(jitter float64) Option {
	return func(p *Planner) {
		p.jitter = jitter
	}
}

// WithSearchWindow bounds how many timesteps past Now a search may explore.
func WithSearchWindow(steps int) Option {
	return func(p *Planner) {
		if steps > 0 {
			p.window = steps
		}
	}
}

// WithOffsets sets the start delays tried by the offset fallback.
func WithOffsets(offsets ...int) Option {
	return func(p *Planner) {
		p.offsets = offsets
	}
}

// WithWaypoints sets the alternate waypoints used to route around an
// exclusion zone, tried in order.
func WithWaypoints(points ...grid.Point) Option {
	return func(p *Planner) {
		p.waypoints = points
	}
}
