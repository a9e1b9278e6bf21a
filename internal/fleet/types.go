package fleet

import (
	"time"

	"github.com/Iron-Ham/autostore/internal/grid"
	"github.com/Iron-Ham/autostore/internal/logging"
	"github.com/Iron-Ham/autostore/internal/model"
	"github.com/Iron-Ham/autostore/internal/simclock"
)

// Config holds the fleet tunables.
type Config struct {
	// Delivery is the station cell where bins are dropped.
	Delivery grid.Point
	// Metric selects the nearest-bot distance.
	Metric grid.Metric
	// Dwell is how many steps a bot holds a pickup, drop or parking cell.
	Dwell int
	// MaxReplans bounds consecutive failed plans per leg.
	MaxReplans int
	// BinReturnSteps is how long a delivered bin spends in transit home.
	BinReturnSteps int
}

// DefaultConfig returns the tunables used when none are supplied.
func DefaultConfig() Config {
	return Config{
		Delivery:       grid.P(5, 0),
		Metric:         grid.MetricManhattan,
		Dwell:          1,
		MaxReplans:     20,
		BinReturnSteps: 2,
	}
}

// Job is one order handed to the coordinator. Items carry resolved bin ids;
// delivered items are skipped.
type Job struct {
	OrderID int64
	Items   []model.OrderItem
}

// Assignment is the result of a successful Assign.
type Assignment struct {
	BotID int64
	// Token identifies this fulfillment. Reclaim must present it.
	Token string
}

// Listener receives order-level progress from fulfillment tasks. Calls are
// made without coordinator locks held and must not block for long.
// OrderAssigned is called before the task starts.
type Listener interface {
	OrderAssigned(orderID, botID int64, token string)
	ItemDelivered(orderID int64, index int)
	OrderPacked(orderID int64)
	// OrderReleased reports that the task gave up; the order should return
	// to pending for reassignment.
	OrderReleased(orderID int64, reason error)
}

// Recorder persists bot and bin state. *store.Store satisfies it.
type Recorder interface {
	SaveBot(b model.Bot) error
	SaveBin(b model.Bin) error
}

// Profile describes what a bot can do. The fleet currently runs a single
// profile; heterogeneous fleets can register others per bot.
type Profile interface {
	Name() string
	CanCarry(bin model.Bin) bool
}

// StandardProfile can carry any bin.
type StandardProfile struct{}

// Name implements Profile.
func (StandardProfile) Name() string { return "standard" }

// CanCarry implements Profile.
func (StandardProfile) CanCarry(model.Bin) bool { return true }

// ShallowProfile only digs bins stored at most MaxDepth layers down.
type ShallowProfile struct {
	MaxDepth int
}

// Name implements Profile.
func (ShallowProfile) Name() string { return "shallow" }

// CanCarry implements Profile.
func (p ShallowProfile) CanCarry(bin model.Bin) bool { return bin.HomeZ <= p.MaxDepth }

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l.WithComponent("fleet")
		}
	}
}

// WithClock sets the step source. Defaults to a Real clock with 500ms steps.
func WithClock(clk simclock.Clock) Option {
	return func(c *Coordinator) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithRecorder writes bot and bin state through to r.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		c.rec = r
	}
}

// WithProfile assigns a capability profile to one bot.
func WithProfile(botID int64, p Profile) Option {
	return func(c *Coordinator) {
		c.profiles[botID] = p
	}
}

// WithNowFunc overrides the wall clock used for progress timestamps.
func WithNowFunc(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}
