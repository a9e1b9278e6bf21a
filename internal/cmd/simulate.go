package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Iron-Ham/autostore/internal/config"
	"github.com/Iron-Ham/autostore/internal/coordination"
	"github.com/Iron-Ham/autostore/internal/logging"
	"github.com/Iron-Ham/autostore/internal/model"
	"github.com/Iron-Ham/autostore/internal/simclock"
	"github.com/Iron-Ham/autostore/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate [order]...",
	Short: "Run orders to completion on a virtual clock",
	Long: `Run a batch of orders to completion on a virtual clock and print what
happened. Time advances as fast as the bots can move, so a simulation
finishes in milliseconds.

Each argument is one order: a comma-separated list of sku[:qty]. Without
arguments, one order is created per configured product.

Examples:
  autostore simulate
  autostore simulate P1 P2,P3 P4:2`,
	RunE: runSimulate,
}

var (
	simulateStore   string
	simulateTimeout time.Duration
	simulateVerbose bool
)

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringVar(&simulateStore, "store", "", "Database to simulate against (default: a temporary database)")
	simulateCmd.Flags().DurationVar(&simulateTimeout, "timeout", time.Minute, "Give up after this much wall time")
	simulateCmd.Flags().BoolVarP(&simulateVerbose, "verbose", "v", false, "Log fleet activity to stderr")
}

// simulation is the outcome of one simulate run.
type simulation struct {
	Orders []model.Order
	Bots   []model.Bot
	Steps  int64
	Events int64
	Rounds int
}

// parseOrderArgs turns each argument into one order's items. With no
// arguments every product becomes a single-item order.
func parseOrderArgs(args []string, cfg *config.Config) ([][]model.OrderItem, error) {
	if len(args) == 0 {
		var out [][]model.OrderItem
		for _, b := range cfg.Layout.Bins {
			for _, p := range b.Products {
				out = append(out, []model.OrderItem{{ProductRef: p.SKU, Quantity: 1}})
			}
		}
		return out, nil
	}
	out := make([][]model.OrderItem, 0, len(args))
	for _, arg := range args {
		items, err := parseItems(strings.Split(arg, ","))
		if err != nil {
			return nil, fmt.Errorf("order %q: %w", arg, err)
		}
		out = append(out, items)
	}
	return out, nil
}

// simulate runs the orders through a hub on a virtual clock. Finished
// rounds are followed by a reconciliation pass until no order is left to
// assign.
func simulate(ctx context.Context, cfg *config.Config, st store.StoreInterface, logger *logging.Logger, orders [][]model.OrderItem) (*simulation, error) {
	cfg.Fleet.Clock = "virtual"
	// reconciliation is driven between rounds instead of on a timer
	cfg.Orders.ReconcileIntervalMs = 0
	cfg.Orders.WatchdogIntervalMs = 0

	clock := simclock.NewVirtual(0)
	hub, err := coordination.NewHub(coordination.Config{
		Settings: cfg,
		Store:    st,
		Logger:   logger,
	}, coordination.WithClock(clock))
	if err != nil {
		return nil, err
	}
	if err := hub.Start(ctx); err != nil {
		return nil, err
	}
	defer hub.Stop()

	ids := make([]int64, 0, len(orders))
	for _, items := range orders {
		res, err := hub.Orders().Create(ctx, items)
		if err != nil {
			return nil, err
		}
		ids = append(ids, res.OrderID)
	}

	sim := &simulation{}
	for {
		sim.Rounds++
		if err := waitIdle(ctx, hub); err != nil {
			return nil, err
		}
		if hub.Orders().Reconcile(ctx) == 0 {
			break
		}
	}

	for _, id := range ids {
		o, err := hub.Orders().Get(id)
		if err != nil {
			return nil, err
		}
		sim.Orders = append(sim.Orders, o)
	}
	sim.Bots = hub.Coordinator().Bots()
	sim.Steps = clock.Now()
	hub.Stop()
	sim.Events = st.CountEvents()
	return sim, nil
}

// waitIdle blocks until every fulfillment task has exited.
func waitIdle(ctx context.Context, hub *coordination.Hub) error {
	done := make(chan struct{})
	go func() {
		hub.Coordinator().Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("simulation did not finish: %w", ctx.Err())
	}
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	orders, err := parseOrderArgs(args, cfg)
	if err != nil {
		return err
	}

	path := simulateStore
	if path == "" {
		dir, err := os.MkdirTemp("", "autostore-sim-*")
		if err != nil {
			return fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer func() { _ = os.RemoveAll(dir) }()
		path = filepath.Join(dir, "sim.db")
	}
	st, err := store.New(path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	logger := logging.NopLogger()
	if simulateVerbose {
		logger = logging.NewWriterLogger(cmd.ErrOrStderr(), logging.LevelDebug)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), simulateTimeout)
	defer cancel()

	start := time.Now()
	sim, err := simulate(ctx, cfg, st, logger, orders)
	if err != nil {
		return err
	}
	printSimulation(cmd.OutOrStdout(), sim, time.Since(start))
	return nil
}

func printSimulation(w io.Writer, sim *simulation, elapsed time.Duration) {
	packed := 0
	for _, o := range sim.Orders {
		if o.Status == model.OrderPacked {
			packed++
		}
		printOrderLine(w, o)
	}
	fmt.Fprintln(w)
	for _, b := range sim.Bots {
		fmt.Fprintf(w, "bot %d (%s) at %s, %s cells travelled\n",
			b.ID, b.Status, b.Pos(), humanize.Comma(int64(len(b.FullPath))))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d/%d orders packed in %s steps over %d round(s); %s events (%s wall time)\n",
		packed, len(sim.Orders), humanize.Comma(sim.Steps), sim.Rounds,
		humanize.Comma(sim.Events), elapsed.Round(time.Millisecond))
}
