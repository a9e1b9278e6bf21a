package coordination

import (
	"context"
	"sync"

	"github.com/Iron-Ham/autostore/internal/binlock"
	"github.com/Iron-Ham/autostore/internal/config"
	"github.com/Iron-Ham/autostore/internal/errors"
	"github.com/Iron-Ham/autostore/internal/event"
	"github.com/Iron-Ham/autostore/internal/fleet"
	"github.com/Iron-Ham/autostore/internal/grid"
	"github.com/Iron-Ham/autostore/internal/logging"
	"github.com/Iron-Ham/autostore/internal/order"
	"github.com/Iron-Ham/autostore/internal/planner"
	"github.com/Iron-Ham/autostore/internal/reservation"
	"github.com/Iron-Ham/autostore/internal/simclock"
	"github.com/Iron-Ham/autostore/internal/store"
)

// Config holds required dependencies for creating a Hub.
type Config struct {
	Settings *config.Config
	Store    store.StoreInterface
	// Bus is optional; a private bus is created when nil.
	Bus *event.Bus
	// Logger is optional; logging is discarded when nil.
	Logger *logging.Logger
}

// Hub wires the warehouse components together for one running system.
// It owns the lifecycle of the event log, the fleet tasks and the order
// manager's background loops.
type Hub struct {
	mu      sync.RWMutex
	started bool
	stopped bool
	cancel  context.CancelFunc

	// logStop is closed to drain and stop the event log.
	logStop chan struct{}
	elog    *eventLog

	settings *config.Config
	hc       *hubConfig
	logger   *logging.Logger

	// Components
	st      store.StoreInterface
	bus     *event.Bus
	clock   simclock.Clock
	table   *reservation.Table
	planner *planner.Planner
	locks   *binlock.Manager
	coord   *fleet.Coordinator
	orders  *order.Manager
}

// NewHub creates a Hub with every component built from cfg.Settings.
func NewHub(cfg Config, opts ...Option) (*Hub, error) {
	if cfg.Settings == nil {
		return nil, errors.New("coordination: Settings is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("coordination: Store is required")
	}

	hc := &hubConfig{eventLog: true}
	for _, opt := range opts {
		opt(hc)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	bus := cfg.Bus
	if bus == nil {
		bus = event.NewBus(event.WithLogger(logger))
	}

	s := cfg.Settings
	clock := hc.clock
	if clock == nil {
		if s.Fleet.Clock == "virtual" {
			clock = simclock.NewVirtual(0)
		} else {
			clock = simclock.NewReal(s.Fleet.Step())
		}
	}

	table := reservation.NewTable(int64(s.Planner.Window))
	plannerOpts := []planner.Option{
		planner.WithSearchWindow(s.Planner.Window),
		planner.WithWaypoints(s.Layout.Waypoints...),
	}
	if len(s.Planner.Offsets) > 0 {
		plannerOpts = append(plannerOpts, planner.WithOffsets(s.Planner.Offsets...))
	}
	if s.Planner.Varied {
		plannerOpts = append(plannerOpts, planner.WithVaried(s.Planner.Jitter))
	}
	p := planner.New(table, s.Grid.Bounds(), plannerOpts...)

	locks := binlock.NewManager(bus, binlock.WithRecorder(cfg.Store), binlock.WithLogger(logger))

	coord := fleet.NewCoordinator(fleet.Config{
		Delivery:       s.Layout.Delivery,
		Metric:         grid.Metric(s.Fleet.Distance),
		Dwell:          s.Planner.DwellSteps,
		MaxReplans:     s.Fleet.MaxReplans,
		BinReturnSteps: s.Fleet.BinReturnSteps,
	}, p, locks, bus,
		fleet.WithLogger(logger),
		fleet.WithClock(clock),
		fleet.WithRecorder(cfg.Store),
	)

	orders := order.NewManager(coord, cfg.Store, bus,
		order.WithLogger(logger),
		order.WithReconcileInterval(s.Orders.ReconcileInterval()),
		order.WithWatchdogInterval(s.Orders.WatchdogInterval()),
		order.WithStuckTimeout(s.Orders.StuckTimeout()),
	)
	coord.SetListener(orders)

	return &Hub{
		settings: s,
		hc:       hc,
		logger:   logger.WithComponent("hub"),
		st:       cfg.Store,
		bus:      bus,
		clock:    clock,
		table:    table,
		planner:  p,
		locks:    locks,
		coord:    coord,
		orders:   orders,
	}, nil
}

// Start provisions the configured layout, loads persisted state, repairs
// anything a previous run left mid-task and starts the background loops.
// Returns an error if the hub has already been started.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return errors.New("coordination: hub already started")
	}
	if h.stopped {
		return errors.New("coordination: hub already stopped")
	}

	bots, bins, products := Layout(h.settings)
	if err := h.st.Provision(bots, bins, products); err != nil {
		return err
	}
	storedBots, err := h.st.ListBots()
	if err != nil {
		return err
	}
	storedBins, err := h.st.ListBins()
	if err != nil {
		return err
	}
	storedLocks, err := h.st.ListBinLocks()
	if err != nil {
		return err
	}

	if h.hc.eventLog {
		h.elog = newEventLog(h.bus, h.st, h.logger, h.hc.eventBuffer)
		h.logStop = make(chan struct{})
		go h.elog.run(h.logStop)
	}

	h.coord.Provision(storedBots, storedBins)
	h.locks.Restore(storedLocks)
	repaired := h.coord.Recover()
	requeued, err := h.orders.Recover()
	if err != nil {
		h.stopEventLogLocked()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.orders.Start(runCtx)
	h.started = true

	h.logger.Info("hub started",
		"bots", len(storedBots),
		"bins", len(storedBins),
		"repaired", repaired,
		"requeued", requeued,
	)
	return nil
}

// Stop halts the background loops, cancels every fulfillment task and
// flushes the event log. Safe to call multiple times.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return
	}
	h.started = false
	h.stopped = true

	// Stop in reverse order of start
	h.orders.Stop()
	h.coord.Stop()
	if h.cancel != nil {
		h.cancel()
	}
	h.stopEventLogLocked()
	h.logger.Info("hub stopped")
}

func (h *Hub) stopEventLogLocked() {
	if h.elog == nil {
		return
	}
	close(h.logStop)
	<-h.elog.done
	h.elog = nil
}

// Running reports whether the hub is started.
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// ApplyOrders updates the order manager's intervals and stuck timeout on a
// running hub.
func (h *Hub) ApplyOrders(cfg config.OrdersConfig) {
	h.orders.SetReconcileInterval(cfg.ReconcileInterval())
	h.orders.SetWatchdogInterval(cfg.WatchdogInterval())
	h.orders.SetStuckTimeout(cfg.StuckTimeout())
	h.logger.Info("order settings applied",
		"reconcile_interval", cfg.ReconcileInterval(),
		"watchdog_interval", cfg.WatchdogInterval(),
		"stuck_timeout", cfg.StuckTimeout(),
	)
}

// Orders returns the order manager.
func (h *Hub) Orders() *order.Manager { return h.orders }

// Coordinator returns the fleet coordinator.
func (h *Hub) Coordinator() *fleet.Coordinator { return h.coord }

// Locks returns the bin lock manager.
func (h *Hub) Locks() *binlock.Manager { return h.locks }

// Planner returns the path planner.
func (h *Hub) Planner() *planner.Planner { return h.planner }

// Table returns the reservation table.
func (h *Hub) Table() *reservation.Table { return h.table }

// Bus returns the event bus.
func (h *Hub) Bus() *event.Bus { return h.bus }

// Store returns the backing store.
func (h *Hub) Store() store.StoreInterface { return h.st }

// Clock returns the step source.
func (h *Hub) Clock() simclock.Clock { return h.clock }
