// Package grid holds the integer geometry shared by the planner and the fleet:
// cells, bounds and the distance metrics used for nearest-bot selection.
package grid

import "fmt"

// Point is a cell on the top layer of the storage grid.
type Point struct {
	X int `json:"x" yaml:"x" mapstructure:"x"`
	Y int `json:"y" yaml:"y" mapstructure:"y"`
}

// P is shorthand for Point{X: x, Y: y}.
func P(x, y int) Point { return Point{X: x, Y: y} }

func (p Point) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Add returns p shifted by d.
func (p Point) Add(d Point) Point { return Point{X: p.X + d.X, Y: p.Y + d.Y} }

// Manhattan returns the L1 distance between two cells.
func Manhattan(a, b Point) int {
	return abs(a.X-b.X) + abs(a.Y-b.Y)
}

// EuclideanSq returns the squared straight-line distance between two cells.
func EuclideanSq(a, b Point) int {
	dx, dy := a.X-b.X, a.Y-b.Y
	return dx*dx + dy*dy
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Moves are the four axis-aligned steps. Waiting in place is handled by callers.
var Moves = [4]Point{{X: 0, Y: 1}, {X: 1, Y: 0}, {X: 0, Y: -1}, {X: -1, Y: 0}}

// Bounds is the fixed size of the grid. Layers describes the stack depth
// below the top layer; movement only happens on the top layer.
type Bounds struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
	Layers int `mapstructure:"layers"`
}

// Contains reports whether p lies inside the grid.
func (b Bounds) Contains(p Point) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < b.Width && p.Y < b.Height
}

// Neighbors returns the in-bounds axis neighbours of p in a fixed order.
func (b Bounds) Neighbors(p Point) []Point {
	out := make([]Point, 0, len(Moves))
	for _, d := range Moves {
		if n := p.Add(d); b.Contains(n) {
			out = append(out, n)
		}
	}
	return out
}

// Metric measures distance between cells for nearest-bot selection.
type Metric string

const (
	MetricManhattan Metric = "manhattan"
	MetricEuclidean Metric = "euclidean"
)

// Distance returns the metric distance between a and b. Euclidean
// distance is returned squared; only the ordering matters to callers.
func (m Metric) Distance(a, b Point) int {
	if m == MetricEuclidean {
		return EuclideanSq(a, b)
	}
	return Manhattan(a, b)
}
