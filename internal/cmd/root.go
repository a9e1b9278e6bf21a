package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/autostore/internal/config"
	"github.com/Iron-Ham/autostore/internal/coordination"
	"github.com/Iron-Ham/autostore/internal/logging"
	"github.com/Iron-Ham/autostore/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "autostore",
	Short: "Grid bot fleet coordinator",
	Long: `Autostore coordinates a fleet of bots on a storage grid. Bots reserve
space-time cells, lock bins, carry them to the delivery station and bring
them home, while an order manager assigns pending orders and a watchdog
reclaims stuck ones.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/autostore/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("AUTOSTORE")
	// e.g., AUTOSTORE_ORDERS_STUCK_TIMEOUT_SECONDS for orders.stuck_timeout_seconds
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// loadConfig returns the validated configuration. Unlike config.Get it
// surfaces validation errors instead of silently using defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openStore opens the database at the configured path, creating its
// directory if needed.
func openStore(cfg *config.Config) (*store.Store, error) {
	path := cfg.StorePath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}

// openProvisionedStore opens the store and inserts any configured bots,
// bins and products it does not have yet. Existing rows are untouched.
func openProvisionedStore(cfg *config.Config) (*store.Store, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := st.Provision(coordination.Layout(cfg)); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to provision layout: %w", err)
	}
	return st, nil
}

// newLogger creates the process logger from the logging section.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	rot := logging.DefaultRotationConfig()
	if cfg.Logging.MaxSizeMB > 0 {
		rot.MaxSizeMB = cfg.Logging.MaxSizeMB
	}
	if cfg.Logging.MaxBackups > 0 {
		rot.MaxBackups = cfg.Logging.MaxBackups
	}
	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level, rot)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
