package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/Iron-Ham/autostore/internal/config"
	"github.com/Iron-Ham/autostore/internal/coordination"
	"github.com/Iron-Ham/autostore/internal/logging"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fleet coordinator",
	Long: `Run the fleet coordinator until interrupted.

On start the configured layout is provisioned into the store, state left
behind by a previous run is repaired, and interrupted orders return to
pending. Orders written by 'autostore order create' are picked up by the
reconciliation loop.

Changes to the orders section of the config file (reconcile and watchdog
intervals, stuck timeout) are applied without a restart.`,
	RunE: runServe,
}

var serveNoEventLog bool

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveNoEventLog, "no-event-log", false, "Do not mirror events into the store")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	hub, err := coordination.NewHub(coordination.Config{
		Settings: cfg,
		Store:    st,
		Logger:   logger,
	}, coordination.WithEventLog(!serveNoEventLog))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer hub.Stop()

	watchOrderSettings(hub, logger)

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %d bots on a %dx%d grid (store: %s)\n",
		len(cfg.Layout.Bots), cfg.Grid.Width, cfg.Grid.Height, cfg.StorePath())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop")

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// watchOrderSettings reloads the config file on change and applies the
// orders section to the running hub. Other sections need a restart.
func watchOrderSettings(hub *coordination.Hub, logger *logging.Logger) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	log := logger.WithComponent("config")
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := config.Load()
		if err != nil {
			log.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		hub.ApplyOrders(cfg.Orders)
	})
	viper.WatchConfig()
	log.Info("watching config file", "file", viper.ConfigFileUsed())
}
