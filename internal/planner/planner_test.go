package planner

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	aserrors "github.com/Iron-Ham/autostore/internal/errors"
	"github.com/Iron-Ham/autostore/internal/grid"
	"github.com/Iron-Ham/autostore/internal/reservation"
)

func newTestPlanner(t *testing.T, w, h int, opts ...Option) *Planner {
	t.Helper()
	return New(reservation.NewTable(32), grid.Bounds{Width: w, Height: h}, opts...)
}

// assertValidRoute checks unit steps and bounds.
func assertValidRoute(t *testing.T, p *Planner, r Route, start, goal grid.Point) {
	t.Helper()
	if len(r.Cells) == 0 {
		t.Fatal("empty route")
	}
	if r.Cells[0] != start {
		t.Errorf("route starts at %v, want %v", r.Cells[0], start)
	}
	if r.Goal() != goal {
		t.Errorf("route ends at %v, want %v", r.Goal(), goal)
	}
	for i := 1; i < len(r.Cells); i++ {
		if grid.Manhattan(r.Cells[i-1], r.Cells[i]) > 1 {
			t.Errorf("jump %v -> %v at step %d", r.Cells[i-1], r.Cells[i], i)
		}
		if !p.Bounds().Contains(r.Cells[i]) {
			t.Errorf("cell %v out of bounds", r.Cells[i])
		}
	}
}

// assertNoConflicts checks vertex, swap and follow conflicts between routes.
func assertNoConflicts(t *testing.T, routes map[int64]Route) {
	t.Helper()
	for a, ra := range routes {
		for b, rb := range routes {
			if a >= b {
				continue
			}
			from := max(ra.Start, rb.Start)
			to := min(ra.End(), rb.End())
			for ts := from; ts <= to; ts++ {
				if ra.At(ts) == rb.At(ts) {
					t.Errorf("agents %d and %d both at %v t=%d", a, b, ra.At(ts), ts)
				}
				if ts > from {
					if ra.At(ts) == rb.At(ts-1) || rb.At(ts) == ra.At(ts-1) {
						t.Errorf("agents %d and %d swap/follow at t=%d", a, b, ts)
					}
				}
			}
		}
	}
}

func TestPlan_EmptyGridIsShortest(t *testing.T) {
	p := newTestPlanner(t, 6, 6)
	start, goal := grid.P(5, 5), grid.P(2, 3)

	r, err := p.Plan(Request{AgentID: 1, Start: start, Goal: goal, Now: 0})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	assertValidRoute(t, p, r, start, goal)
	if got, want := len(r.Cells)-1, grid.Manhattan(start, goal); got != want {
		t.Errorf("route steps = %d, want %d", got, want)
	}
	if !r.Reserved || r.Strategy != StrategyDirect {
		t.Errorf("route = %+v, want reserved direct", r)
	}
	if got := p.Table().ReservationsFor(1); len(got) < len(r.Cells) {
		t.Errorf("reservations = %d, want at least %d", len(got), len(r.Cells))
	}
}

func TestPlan_StartEqualsGoal(t *testing.T) {
	p := newTestPlanner(t, 3, 3)
	r, err := p.Plan(Request{AgentID: 1, Start: grid.P(1, 1), Goal: grid.P(1, 1), Now: 4, Dwell: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Cells) != 1 || r.End() != 4 {
		t.Errorf("route = %+v, want single cell at t=4", r)
	}
}

func TestPlan_AvoidsStaticObstacles(t *testing.T) {
	p := newTestPlanner(t, 5, 5)
	wall := map[grid.Point]bool{grid.P(2, 0): true, grid.P(2, 1): true, grid.P(2, 2): true, grid.P(2, 3): true}
	req := Request{
		AgentID: 1,
		Start:   grid.P(0, 0),
		Goal:    grid.P(4, 0),
		Blocked: func(c grid.Point) bool { return wall[c] },
	}

	r, err := p.Plan(req)
	if err != nil {
		t.Fatal(err)
	}
	assertValidRoute(t, p, r, req.Start, req.Goal)
	for _, c := range r.Cells {
		if wall[c] {
			t.Errorf("route passes obstacle %v", c)
		}
	}
}

func TestPlan_BlockedGoalAndStartAreAllowed(t *testing.T) {
	p := newTestPlanner(t, 4, 1)
	req := Request{
		AgentID: 1,
		Start:   grid.P(0, 0),
		Goal:    grid.P(3, 0),
		Blocked: func(c grid.Point) bool { return c == grid.P(0, 0) || c == grid.P(3, 0) },
	}
	if _, err := p.Plan(req); err != nil {
		t.Fatalf("Plan() error = %v, start/goal must not count as obstacles", err)
	}
}

func TestPlan_NoPath(t *testing.T) {
	p := newTestPlanner(t, 4, 4, WithSearchWindow(8))
	// goal (3,3) enclosed by obstacles
	req := Request{
		AgentID: 1,
		Start:   grid.P(0, 0),
		Goal:    grid.P(3, 3),
		Blocked: func(c grid.Point) bool { return c == grid.P(2, 3) || c == grid.P(3, 2) },
	}
	_, err := p.Plan(req)
	if !errors.Is(err, aserrors.ErrNoPath) {
		t.Fatalf("Plan() error = %v, want ErrNoPath", err)
	}
	if got := p.Table().ReservationsFor(1); len(got) != 0 {
		t.Errorf("failed plan left reservations: %+v", got)
	}
}

func TestPlan_RespectsOtherReservations(t *testing.T) {
	p := newTestPlanner(t, 6, 6)
	routes := map[int64]Route{}

	r1, err := p.Plan(Request{AgentID: 1, Start: grid.P(0, 2), Goal: grid.P(5, 2)})
	if err != nil {
		t.Fatal(err)
	}
	routes[1] = r1

	// Head-on along the same row.
	r2, err := p.Plan(Request{AgentID: 2, Start: grid.P(5, 2), Goal: grid.P(0, 2)})
	if err != nil {
		t.Fatal(err)
	}
	routes[2] = r2

	r3, err := p.Plan(Request{AgentID: 3, Start: grid.P(2, 0), Goal: grid.P(2, 5)})
	if err != nil {
		t.Fatal(err)
	}
	routes[3] = r3

	assertNoConflicts(t, routes)
}

func TestPlan_VariedIsReproducible(t *testing.T) {
	plan := func() []grid.Point {
		p := newTestPlanner(t, 8, 8, WithVaried(0.9))
		r, err := p.Plan(Request{AgentID: 4, Start: grid.P(0, 0), Goal: grid.P(7, 7), Now: 3})
		if err != nil {
			t.Fatal(err)
		}
		return r.Cells
	}
	a, b := plan(), plan()
	if fmt.Sprint(a) != fmt.Sprint(b) {
		t.Errorf("varied plans differ:\n%v\n%v", a, b)
	}
	if len(a)-1 != 14 {
		t.Errorf("varied route steps = %d, want optimal 14 with sub-unit jitter", len(a)-1)
	}
}

func TestPlanWithFallback_Offset(t *testing.T) {
	p := New(reservation.NewTable(32), grid.Bounds{Width: 4, Height: 1}, WithSearchWindow(4))
	p.Table().Reserve(grid.P(1, 0), 1, 9, nil)
	p.Table().Reserve(grid.P(1, 0), 2, 9, nil)

	r, err := p.PlanWithFallback(Request{AgentID: 1, Start: grid.P(0, 0), Goal: grid.P(3, 0)})
	if err != nil {
		t.Fatal(err)
	}
	if r.Strategy != StrategyOffset || !r.Reserved {
		t.Fatalf("route = %+v, want reserved offset route", r)
	}
	if r.At(1) != grid.P(0, 0) {
		t.Errorf("offset route should wait at start, got %v at t=1", r.At(1))
	}
	assertNoConflicts(t, map[int64]Route{
		1: r,
		9: {Cells: []grid.Point{grid.P(1, 0), grid.P(1, 0)}, Start: 1},
	})
}

func TestPlanWithFallback_ExclusionZone(t *testing.T) {
	delivery := grid.P(2, 0)
	p := newTestPlanner(t, 5, 3, WithWaypoints(grid.P(2, 2)))
	req := Request{
		AgentID: 1,
		Start:   grid.P(0, 0),
		Goal:    grid.P(4, 0),
		Avoid:   []grid.Point{delivery},
	}

	r, err := p.PlanWithFallback(req)
	if err != nil {
		t.Fatal(err)
	}
	if r.Strategy != StrategyExclusion {
		t.Fatalf("strategy = %s, want exclusion", r.Strategy)
	}
	assertValidRoute(t, p, r, req.Start, req.Goal)
	for _, c := range r.Cells {
		if c == delivery {
			t.Errorf("route crosses exclusion zone at %v", c)
		}
	}
}

func TestPlanWithFallback_ExclusionAllowsZoneGoal(t *testing.T) {
	delivery := grid.P(2, 0)
	p := newTestPlanner(t, 5, 3, WithWaypoints(grid.P(2, 2)))
	r, err := p.PlanWithFallback(Request{AgentID: 1, Start: grid.P(0, 0), Goal: delivery, Avoid: []grid.Point{delivery}})
	if err != nil {
		t.Fatal(err)
	}
	if r.Strategy != StrategyDirect || r.Goal() != delivery {
		t.Errorf("route = %+v, want direct route into the zone", r)
	}
}

func TestPlanWithFallback_Straight(t *testing.T) {
	p := newTestPlanner(t, 4, 4, WithSearchWindow(6), WithOffsets())
	req := Request{
		AgentID: 1,
		Start:   grid.P(0, 0),
		Goal:    grid.P(3, 3),
		Blocked: func(c grid.Point) bool { return c == grid.P(2, 3) || c == grid.P(3, 2) },
	}

	r, err := p.PlanWithFallback(req)
	if err != nil {
		t.Fatal(err)
	}
	if r.Reserved || r.Strategy != StrategyStraight {
		t.Fatalf("route = %+v, want unreserved straight pair", r)
	}
	if len(r.Cells) != 2 || r.Cells[0] != req.Start || r.Cells[1] != req.Goal {
		t.Errorf("cells = %v", r.Cells)
	}
}

func TestPlanWithFallback_ReleasesStaleClaimsOnStraight(t *testing.T) {
	p := newTestPlanner(t, 4, 4, WithSearchWindow(6), WithOffsets())
	if _, err := p.Plan(Request{AgentID: 1, Start: grid.P(0, 0), Goal: grid.P(0, 3)}); err != nil {
		t.Fatal(err)
	}
	_, _ = p.PlanWithFallback(Request{
		AgentID: 1,
		Start:   grid.P(0, 0),
		Goal:    grid.P(3, 3),
		Blocked: func(c grid.Point) bool { return c == grid.P(2, 3) || c == grid.P(3, 2) },
	})
	for _, r := range p.Table().ReservationsFor(1) {
		if r.T > 0 {
			t.Errorf("future claim %+v survived straight fallback", r)
		}
	}
}

// Many agents planning at once never receive conflicting routes.
func TestPlan_ConcurrentAgentsNeverConflict(t *testing.T) {
	p := newTestPlanner(t, 8, 8, WithSearchWindow(40))
	rng := rand.New(rand.NewPCG(1, 2))

	type job struct {
		agent       int64
		start, goal grid.Point
	}
	var jobs []job
	used := map[grid.Point]bool{}
	pick := func() grid.Point {
		for {
			c := grid.P(rng.IntN(8), rng.IntN(8))
			if !used[c] {
				used[c] = true
				return c
			}
		}
	}
	for a := int64(1); a <= 8; a++ {
		jobs = append(jobs, job{agent: a, start: pick(), goal: pick()})
	}

	var mu sync.Mutex
	routes := map[int64]Route{}
	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			r, err := p.PlanWithFallback(Request{AgentID: j.agent, Start: j.start, Goal: j.goal})
			if err != nil || !r.Reserved {
				return
			}
			mu.Lock()
			routes[j.agent] = r
			mu.Unlock()
		}(j)
	}
	wg.Wait()

	if len(routes) == 0 {
		t.Fatal("no agent obtained a reserved route")
	}
	assertNoConflicts(t, routes)
}
