// Package order owns the order lifecycle: intake, assignment through the
// fleet coordinator, periodic reconciliation of pending orders and the
// watchdog that forces stuck orders to completion.
//
// The manager never holds its own lock while calling the coordinator. The
// coordinator reports progress back through the fleet.Listener methods,
// which only take the lock briefly and are idempotent.
package order

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/autostore/internal/errors"
	"github.com/Iron-Ham/autostore/internal/event"
	"github.com/Iron-Ham/autostore/internal/fleet"
	"github.com/Iron-Ham/autostore/internal/logging"
	"github.com/Iron-Ham/autostore/internal/model"
)

// Manager tracks orders and drives them through the fleet.
type Manager struct {
	coord  Coordinator
	store  Store
	bus    *event.Bus
	logger *logging.Logger
	now    func() time.Time

	// emitMu keeps each order's persistence and events in production order.
	emitMu sync.Mutex
	mu     sync.Mutex
	orders map[int64]*entry

	reconcileInterval atomic.Int64
	watchdogInterval  atomic.Int64
	stuckTimeout      atomic.Int64

	poke     chan struct{}
	runMu    sync.Mutex
	stopFunc context.CancelFunc
	loops    conc.WaitGroup
}

type entry struct {
	order     model.Order
	token     string
	assigning bool
	// progress is the last time the order moved forward.
	progress time.Time
}

// Compile-time check that *Manager receives fleet progress.
var _ fleet.Listener = (*Manager)(nil)

// NewManager creates a Manager. Register it with the coordinator through
// SetListener before creating orders.
func NewManager(coord Coordinator, st Store, bus *event.Bus, opts ...Option) *Manager {
	m := &Manager{
		coord:  coord,
		store:  st,
		bus:    bus,
		logger: logging.NopLogger(),
		now:    time.Now,
		orders: make(map[int64]*entry),
		poke:   make(chan struct{}, 1),
	}
	m.reconcileInterval.Store(int64(defaultReconcileInterval))
	m.watchdogInterval.Store(int64(defaultWatchdogInterval))
	m.stuckTimeout.Store(int64(defaultStuckTimeout))
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create validates and stores a new pending order, then tries to assign
// it immediately. A missing bot or bin lock is not an error: the order
// stays pending and reconciliation retries it.
func (m *Manager) Create(ctx context.Context, items []model.OrderItem) (Result, error) {
	if err := ValidateItems(items); err != nil {
		return Result{}, err
	}

	now := m.now()
	o := model.Order{
		Status:    model.OrderPending,
		Items:     make([]model.OrderItem, len(items)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, it := range items {
		o.Items[i] = model.OrderItem{ProductRef: it.ProductRef, Quantity: it.Quantity, BinID: it.BinID}
	}

	id, err := m.store.CreateOrder(o)
	if err != nil {
		return Result{}, err
	}
	o.ID = id

	m.emitMu.Lock()
	m.mu.Lock()
	m.orders[id] = &entry{order: o.Clone(), progress: now}
	m.mu.Unlock()
	m.bus.Publish(event.NewStatusUpdateEvent(event.EntityOrder, id, string(model.OrderPending)))
	m.emitMu.Unlock()

	m.logger.WithOrder(id).Info("order created", "items", len(items))

	res, err := m.tryAssign(ctx, id)
	if err != nil && !errors.IsRetryable(err) {
		m.logger.WithOrder(id).Warn("order left pending", "error", err)
	}
	return res, nil
}

// ValidateItems checks that an order has at least one item and every item
// names a product with a positive quantity.
func ValidateItems(items []model.OrderItem) error {
	if len(items) == 0 {
		return errors.NewValidationError("order must have at least one item").WithField("items")
	}
	for i, it := range items {
		field := "items[" + strconv.Itoa(i) + "]"
		if it.ProductRef == "" {
			return errors.NewValidationError("product reference is required").WithField(field + ".product")
		}
		if it.Quantity < 1 {
			return errors.NewValidationError("quantity must be at least 1").WithField(field + ".quantity").WithValue(it.Quantity)
		}
	}
	return nil
}

// tryAssign resolves the order's bins and asks the coordinator for a bot.
// It returns the order's state afterwards.
func (m *Manager) tryAssign(ctx context.Context, id int64) (Result, error) {
	m.mu.Lock()
	e, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return Result{}, errors.NewNotFoundError("order", strconv.FormatInt(id, 10)).WithCause(errors.ErrOrderNotFound)
	}
	if e.order.Status != model.OrderPending || e.assigning {
		res := resultOf(e.order)
		m.mu.Unlock()
		return res, nil
	}
	e.assigning = true
	items := slices.Clone(e.order.Items)
	m.mu.Unlock()

	err := m.resolveBins(items)
	if err == nil {
		m.mu.Lock()
		if e.order.Status == model.OrderPending {
			e.order.Items = slices.Clone(items)
		}
		m.mu.Unlock()
		_, err = m.coord.Assign(ctx, fleet.Job{OrderID: id, Items: items})
	}

	m.mu.Lock()
	e.assigning = false
	res := resultOf(e.order)
	m.mu.Unlock()

	if err != nil {
		log := m.logger.WithOrder(id)
		switch errors.GetSeverity(err) {
		case errors.SeverityDebug, errors.SeverityInfo:
			log.Debug("assignment deferred", "reason", err)
		case errors.SeverityWarning:
			log.Warn("assignment failed", "error", err)
		default:
			log.Error("assignment failed", "error", err)
		}
		return res, err
	}
	return res, nil
}

// resolveBins fills in the bin of every item from the product catalog.
func (m *Manager) resolveBins(items []model.OrderItem) error {
	for i := range items {
		if items[i].BinID != 0 {
			continue
		}
		p, err := m.store.GetProduct(items[i].ProductRef)
		if err != nil {
			return err
		}
		items[i].BinID = p.BinID
	}
	return nil
}

func resultOf(o model.Order) Result {
	return Result{
		OrderID:       o.ID,
		Status:        o.Status,
		AssignedBotID: o.AssignedBotID,
		Items:         slices.Clone(o.Items),
	}
}

// update mutates one tracked order, persists it and publishes a status
// event when the status changed. fn returns false to leave it untouched.
func (m *Manager) update(id int64, fn func(e *entry) bool) bool {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	e, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	before := e.order.Status
	if !fn(e) {
		m.mu.Unlock()
		return false
	}
	now := m.now()
	e.order.UpdatedAt = now
	e.progress = now
	snap := e.order.Clone()
	m.mu.Unlock()

	if err := m.store.SaveOrder(snap); err != nil {
		m.logger.WithOrder(id).Warn("failed to persist order", "error", err)
	}
	if snap.Status != before {
		m.bus.Publish(event.NewStatusUpdateEvent(event.EntityOrder, id, string(snap.Status)))
	}
	return true
}

// OrderAssigned implements fleet.Listener.
func (m *Manager) OrderAssigned(orderID, botID int64, token string) {
	m.update(orderID, func(e *entry) bool {
		e.order.Status = model.OrderPacking
		e.order.AssignedBotID = botID
		e.token = token
		return true
	})
	m.logger.WithOrder(orderID).WithBot(botID).Info("order assigned")
}

// ItemDelivered implements fleet.Listener.
func (m *Manager) ItemDelivered(orderID int64, index int) {
	m.update(orderID, func(e *entry) bool {
		if index < 0 || index >= len(e.order.Items) || e.order.Items[index].Delivered {
			return false
		}
		e.order.Items[index].Delivered = true
		return true
	})
}

// OrderPacked implements fleet.Listener.
func (m *Manager) OrderPacked(orderID int64) {
	if m.update(orderID, func(e *entry) bool {
		if e.order.Status == model.OrderPacked {
			return false
		}
		e.order.Status = model.OrderPacked
		e.token = ""
		return true
	}) {
		m.logger.WithOrder(orderID).Info("order packed")
	}
}

// OrderReleased implements fleet.Listener. The order returns to pending
// and the reconcile loop is woken to reassign it.
func (m *Manager) OrderReleased(orderID int64, reason error) {
	if m.update(orderID, func(e *entry) bool {
		if e.order.Status != model.OrderPacking {
			return false
		}
		e.order.Status = model.OrderPending
		e.order.AssignedBotID = 0
		e.token = ""
		return true
	}) {
		m.logger.WithOrder(orderID).Warn("order released for reassignment", "reason", reason)
		m.Poke()
	}
}

// Poke asks the reconcile loop to run soon. It never blocks.
func (m *Manager) Poke() {
	select {
	case m.poke <- struct{}{}:
	default:
	}
}

// Get returns one order, falling back to the store for orders this
// process has not seen.
func (m *Manager) Get(id int64) (model.Order, error) {
	m.mu.Lock()
	e, ok := m.orders[id]
	if ok {
		o := e.order.Clone()
		m.mu.Unlock()
		return o, nil
	}
	m.mu.Unlock()

	o, err := m.store.GetOrder(id)
	if err != nil {
		return model.Order{}, err
	}
	return *o, nil
}

// List returns stored orders, oldest first, optionally filtered by status.
func (m *Manager) List(statuses ...model.OrderStatus) ([]model.Order, error) {
	return m.store.ListOrders(statuses...)
}

// ClearOrders deletes every order. Running fulfillments finish but their
// progress is no longer recorded.
func (m *Manager) ClearOrders() (int64, error) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	n, err := m.store.ClearOrders()
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.orders = make(map[int64]*entry)
	m.mu.Unlock()
	m.logger.Info("orders cleared", "count", n)
	return n, nil
}

// Recover returns orders left packing by a previous process to pending.
// No fulfillment survives a restart.
func (m *Manager) Recover() (int, error) {
	stuck, err := m.store.ListOrders(model.OrderPacking)
	if err != nil {
		return 0, err
	}
	for _, o := range stuck {
		o.Status = model.OrderPending
		o.AssignedBotID = 0
		o.UpdatedAt = m.now()
		if err := m.store.SaveOrder(o); err != nil {
			return 0, err
		}
		m.bus.Publish(event.NewStatusUpdateEvent(event.EntityOrder, o.ID, string(model.OrderPending)))
	}
	if len(stuck) > 0 {
		m.logger.Info("requeued interrupted orders", "count", len(stuck))
	}
	return len(stuck), nil
}

// SetStuckTimeout changes the watchdog threshold at runtime.
func (m *Manager) SetStuckTimeout(d time.Duration) {
	if d > 0 {
		m.stuckTimeout.Store(int64(d))
	}
}

// SetReconcileInterval changes the reconcile period from the next tick on.
func (m *Manager) SetReconcileInterval(d time.Duration) {
	m.reconcileInterval.Store(int64(d))
	m.Poke()
}

// SetWatchdogInterval changes the watchdog period from the next tick on.
func (m *Manager) SetWatchdogInterval(d time.Duration) {
	m.watchdogInterval.Store(int64(d))
}

// StuckTimeout returns the current watchdog threshold.
func (m *Manager) StuckTimeout() time.Duration {
	return time.Duration(m.stuckTimeout.Load())
}
