package order

import (
	"context"
	"time"

	"github.com/Iron-Ham/autostore/internal/fleet"
	"github.com/Iron-Ham/autostore/internal/logging"
	"github.com/Iron-Ham/autostore/internal/model"
)

const (
	defaultReconcileInterval = 2 * time.Second
	defaultWatchdogInterval  = 10 * time.Second
	defaultStuckTimeout      = 5 * time.Minute
)

// Coordinator is the subset of *fleet.Coordinator the manager drives.
type Coordinator interface {
	Assign(ctx context.Context, job fleet.Job) (fleet.Assignment, error)
	Reclaim(botID int64, token string, staleBefore time.Time) error
	SweepStaleLocks() int
}

// Store is the subset of store.StoreInterface the manager needs.
type Store interface {
	CreateOrder(o model.Order) (int64, error)
	SaveOrder(o model.Order) error
	GetOrder(id int64) (*model.Order, error)
	ListOrders(statuses ...model.OrderStatus) ([]model.Order, error)
	GetProduct(sku string) (*model.Product, error)
	ClearOrders() (int64, error)
}

// Result reports what Create achieved. AssignedBotID is zero when the
// order is still waiting for a bot or a bin.
type Result struct {
	OrderID       int64             `json:"order_id"`
	Status        model.OrderStatus `json:"status"`
	AssignedBotID int64             `json:"assigned_bot_id,omitempty"`
	Items         []model.OrderItem `json:"items"`
}

// SweepResult summarizes one watchdog pass.
type SweepResult struct {
	// Reclaimed counts stuck orders forced to packed.
	Reclaimed int
	// StillLive counts stuck orders whose bot was still making progress.
	StillLive int
	// Repaired counts stale locks and orphaned bots fixed by the sweep.
	Repaired int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l.WithComponent("orders")
		}
	}
}

// WithNowFunc overrides the wall clock.
func WithNowFunc(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithReconcileInterval sets how often pending orders are retried.
// Zero disables the periodic pass; pokes still trigger it.
func WithReconcileInterval(d time.Duration) Option {
	return func(m *Manager) { m.reconcileInterval.Store(int64(d)) }
}

// WithWatchdogInterval sets how often stuck orders are swept. Zero
// disables the watchdog loop.
func WithWatchdogInterval(d time.Duration) Option {
	return func(m *Manager) { m.watchdogInterval.Store(int64(d)) }
}

// WithStuckTimeout sets how long a packing order may go without progress.
func WithStuckTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.stuckTimeout.Store(int64(d))
		}
	}
}
