package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/Iron-Ham/autostore/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify autostore configuration",
	Long: `View or modify autostore configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  autostore config set orders.stuck_timeout_seconds 120
  autostore config set fleet.clock virtual
  autostore config set planner.varied true

Valid keys:
  fleet.clock                  - Step source (real, virtual)
  fleet.step_ms                - Real-clock step length in milliseconds
  fleet.distance               - Nearest-bot metric (manhattan, euclidean)
  fleet.max_replans            - Failed plans per leg before giving up
  fleet.bin_return_steps       - Steps a delivered bin spends in transit
  planner.window               - Reservation window in steps
  planner.dwell_steps          - Steps held at pickup, drop and parking
  planner.varied               - Jitter the heuristic (true/false)
  planner.jitter               - Jitter amplitude
  orders.reconcile_interval_ms - Pending-order retry period (0 disables)
  orders.watchdog_interval_ms  - Stuck-order check period (0 disables)
  orders.stuck_timeout_seconds - No-progress threshold for packing orders
  store.path                   - Database file
  logging.level                - debug, info, warn, error
  logging.dir                  - Log directory (empty logs to stderr)`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/autostore/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// settableKeys maps each key accepted by 'config set' to its value type.
var settableKeys = map[string]string{
	"fleet.clock":                  "string",
	"fleet.step_ms":                "int",
	"fleet.distance":               "string",
	"fleet.max_replans":            "int",
	"fleet.bin_return_steps":       "int",
	"planner.window":               "int",
	"planner.dwell_steps":          "int",
	"planner.varied":               "bool",
	"planner.jitter":               "float",
	"orders.reconcile_interval_ms": "int",
	"orders.watchdog_interval_ms":  "int",
	"orders.stuck_timeout_seconds": "int",
	"store.path":                   "string",
	"logging.level":                "string",
	"logging.dir":                  "string",
}

// parseSetting converts a raw 'config set' value to the key's type.
func parseSetting(key, value string) (any, error) {
	keyType, ok := settableKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'autostore config set --help' to see valid keys", key)
	}

	switch keyType {
	case "bool":
		if value != "true" && value != "false" {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return value == "true", nil
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return n, nil
	case "float":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected number", key)
		}
		return f, nil
	}

	switch key {
	case "fleet.clock":
		if !slices.Contains(config.ValidClocks(), value) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidClocks(), ", "))
		}
	case "fleet.distance":
		if !slices.Contains(config.ValidDistances(), value) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidDistances(), ", "))
		}
	case "logging.level":
		value = strings.ToLower(value)
		if !slices.Contains(config.ValidLogLevels(), value) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidLogLevels(), ", "))
		}
	}
	return value, nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(out, "Warning: %v\nShowing defaults instead.\n\n", err)
		cfg = config.Default()
	}

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}
	fmt.Fprintf(out, "# Store: %s\n\n", cfg.StorePath())

	return writeYAML(out, cfg)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	typedValue, err := parseSetting(key, args[1])
	if err != nil {
		return err
	}

	// Ensure config directory exists
	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Set the value in viper and reject combinations that fail validation
	previous := viper.Get(key)
	viper.Set(key, typedValue)
	if _, err := config.Load(); err != nil {
		viper.Set(key, previous)
		return err
	}

	// Write to config file
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = config.ConfigFile()
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)

	return nil
}

const configHeader = `# autostore configuration
#
# grid:     storage grid size (cells are addressed from (0,0))
# layout:   delivery station, detour waypoints, bots (with parking cells)
#           and bins (with home cells and the products they hold)
# planner:  reservation window, dwell and fallback offsets
# fleet:    step source (real or virtual), step length, nearest-bot metric
# orders:   reconciliation and watchdog periods, stuck timeout
# store:    database path (empty uses the data directory)
# logging:  level and directory (empty logs to stderr)
#
# Changes to the orders section are applied by a running 'autostore serve'.

`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'autostore config set' to modify values", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(configHeader)
	if err := writeYAML(&sb, config.Default()); err != nil {
		return err
	}

	if err := os.WriteFile(configFile, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	fmt.Fprintln(cmd.OutOrStdout(), "Edit this file to customize the grid layout and fleet behavior.")

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: AUTOSTORE_* (e.g., AUTOSTORE_ORDERS_STUCK_TIMEOUT_SECONDS)")

	return nil
}
