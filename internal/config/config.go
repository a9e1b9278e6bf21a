package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/autostore/internal/grid"
)

// Config represents the complete autostore configuration
type Config struct {
	Grid    GridConfig    `mapstructure:"grid" yaml:"grid"`
	Layout  LayoutConfig  `mapstructure:"layout" yaml:"layout"`
	Planner PlannerConfig `mapstructure:"planner" yaml:"planner"`
	Fleet   FleetConfig   `mapstructure:"fleet" yaml:"fleet"`
	Orders  OrdersConfig  `mapstructure:"orders" yaml:"orders"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// GridConfig sets the grid bounds
type GridConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
	// Layers is the stack depth under the top layer (bins live at z in [0, layers))
	Layers int `mapstructure:"layers" yaml:"layers"`
}

// Bounds returns the grid bounds
func (g GridConfig) Bounds() grid.Bounds {
	return grid.Bounds{Width: g.Width, Height: g.Height, Layers: g.Layers}
}

// LayoutConfig describes the provisioned fleet and storage
type LayoutConfig struct {
	// Delivery is the station cell where bins are dropped
	Delivery grid.Point `mapstructure:"delivery" yaml:"delivery"`
	// Waypoints route pickups around the delivery station, tried in order
	Waypoints []grid.Point `mapstructure:"waypoints" yaml:"waypoints"`
	Bots      []BotSpec    `mapstructure:"bots" yaml:"bots"`
	Bins      []BinSpec    `mapstructure:"bins" yaml:"bins"`
}

// BotSpec provisions one bot parked at (X, Y)
type BotSpec struct {
	ID   int64  `mapstructure:"id" yaml:"id"`
	Name string `mapstructure:"name" yaml:"name"`
	X    int    `mapstructure:"x" yaml:"x"`
	Y    int    `mapstructure:"y" yaml:"y"`
}

// BinSpec provisions one bin at its home cell with the products it stores
type BinSpec struct {
	ID       int64         `mapstructure:"id" yaml:"id"`
	X        int           `mapstructure:"x" yaml:"x"`
	Y        int           `mapstructure:"y" yaml:"y"`
	Z        int           `mapstructure:"z" yaml:"z"`
	Products []ProductSpec `mapstructure:"products" yaml:"products"`
}

// ProductSpec is a catalog entry
type ProductSpec struct {
	SKU  string `mapstructure:"sku" yaml:"sku"`
	Name string `mapstructure:"name" yaml:"name"`
}

// PlannerConfig controls path planning
type PlannerConfig struct {
	// Window is both the search horizon and the reservation expiry, in steps
	Window int `mapstructure:"window" yaml:"window"`
	// DwellSteps holds pickup, drop and parking cells after arrival
	DwellSteps int `mapstructure:"dwell_steps" yaml:"dwell_steps"`
	// Varied adds bounded random jitter to the heuristic
	Varied bool    `mapstructure:"varied" yaml:"varied"`
	Jitter float64 `mapstructure:"jitter" yaml:"jitter"`
	// Offsets are the delayed starts tried after a failed direct plan
	Offsets []int `mapstructure:"offsets" yaml:"offsets"`
}

// FleetConfig controls bot behavior
type FleetConfig struct {
	// Clock is "real" (wall-clock paced) or "virtual" (discrete-event)
	Clock string `mapstructure:"clock" yaml:"clock"`
	// StepMs is the duration of one step with the real clock
	StepMs int `mapstructure:"step_ms" yaml:"step_ms"`
	// Distance is the nearest-bot metric: "manhattan" or "euclidean"
	Distance string `mapstructure:"distance" yaml:"distance"`
	// MaxReplans bounds replanning per leg before the order is released
	MaxReplans int `mapstructure:"max_replans" yaml:"max_replans"`
	// BinReturnSteps is how long a bin spends in transit back to its home cell
	BinReturnSteps int `mapstructure:"bin_return_steps" yaml:"bin_return_steps"`
}

// OrdersConfig controls reconciliation and the watchdog
type OrdersConfig struct {
	// ReconcileIntervalMs is how often pending orders are retried (0 = disabled)
	ReconcileIntervalMs int `mapstructure:"reconcile_interval_ms" yaml:"reconcile_interval_ms"`
	// WatchdogIntervalMs is how often stuck orders and stale locks are swept (0 = disabled)
	WatchdogIntervalMs int `mapstructure:"watchdog_interval_ms" yaml:"watchdog_interval_ms"`
	// StuckTimeoutSeconds is how long a packing order may go without progress
	StuckTimeoutSeconds int `mapstructure:"stuck_timeout_seconds" yaml:"stuck_timeout_seconds"`
}

// StoreConfig controls the record store
type StoreConfig struct {
	// Path is the SQLite database file (empty = <data dir>/autostore.db)
	Path string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is where autostore.log is written (empty = stderr)
	Dir        string `mapstructure:"dir" yaml:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// Default returns a Config with sensible default values: a 6x6 grid with
// two bots parked on the east edge and the delivery station at (5,0).
func Default() *Config {
	return &Config{
		Grid: GridConfig{Width: 6, Height: 6, Layers: 1},
		Layout: LayoutConfig{
			Delivery: grid.P(5, 0),
			Waypoints: []grid.Point{
				grid.P(4, 1), grid.P(4, 2), grid.P(4, 3), grid.P(4, 4), grid.P(4, 5),
				grid.P(3, 1), grid.P(3, 2), grid.P(3, 3), grid.P(3, 4), grid.P(3, 5),
				grid.P(2, 1), grid.P(2, 2), grid.P(2, 3), grid.P(2, 4), grid.P(2, 5),
			},
			Bots: []BotSpec{
				{ID: 1, Name: "bot1", X: 5, Y: 5},
				{ID: 2, Name: "bot2", X: 5, Y: 4},
			},
			Bins: []BinSpec{
				{ID: 1, X: 2, Y: 3, Products: []ProductSpec{{SKU: "P1", Name: "Widget"}}},
				{ID: 2, X: 1, Y: 1, Products: []ProductSpec{{SKU: "P2", Name: "Gadget"}}},
				{ID: 3, X: 0, Y: 4, Products: []ProductSpec{{SKU: "P3", Name: "Sprocket"}}},
				{ID: 4, X: 3, Y: 0, Products: []ProductSpec{{SKU: "P4", Name: "Flange"}}},
			},
		},
		Planner: PlannerConfig{
			Window:     32,
			DwellSteps: 1,
			Varied:     false,
			Jitter:     0.5,
			Offsets:    []int{1, 2, 4, 8},
		},
		Fleet: FleetConfig{
			Clock:          "real",
			StepMs:         500,
			Distance:       string(grid.MetricManhattan),
			MaxReplans:     20,
			BinReturnSteps: 2,
		},
		Orders: OrdersConfig{
			ReconcileIntervalMs: 2000,
			WatchdogIntervalMs:  10000,
			StuckTimeoutSeconds: 300,
		},
		Store: StoreConfig{Path: ""},
		Logging: LoggingConfig{
			Level:      "info",
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Step returns the real-clock step duration
func (c *FleetConfig) Step() time.Duration {
	return time.Duration(c.StepMs) * time.Millisecond
}

// ReconcileInterval returns the reconciliation period (0 means disabled)
func (c *OrdersConfig) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalMs) * time.Millisecond
}

// WatchdogInterval returns the watchdog period (0 means disabled)
func (c *OrdersConfig) WatchdogInterval() time.Duration {
	return time.Duration(c.WatchdogIntervalMs) * time.Millisecond
}

// StuckTimeout returns the no-progress threshold for packing orders
func (c *OrdersConfig) StuckTimeout() time.Duration {
	return time.Duration(c.StuckTimeoutSeconds) * time.Second
}

// StorePath resolves the database path
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(DataDir(), "autostore.db")
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("grid.width", defaults.Grid.Width)
	viper.SetDefault("grid.height", defaults.Grid.Height)
	viper.SetDefault("grid.layers", defaults.Grid.Layers)

	viper.SetDefault("layout.delivery", defaults.Layout.Delivery)
	viper.SetDefault("layout.waypoints", defaults.Layout.Waypoints)
	viper.SetDefault("layout.bots", defaults.Layout.Bots)
	viper.SetDefault("layout.bins", defaults.Layout.Bins)

	viper.SetDefault("planner.window", defaults.Planner.Window)
	viper.SetDefault("planner.dwell_steps", defaults.Planner.DwellSteps)
	viper.SetDefault("planner.varied", defaults.Planner.Varied)
	viper.SetDefault("planner.jitter", defaults.Planner.Jitter)
	viper.SetDefault("planner.offsets", defaults.Planner.Offsets)

	viper.SetDefault("fleet.clock", defaults.Fleet.Clock)
	viper.SetDefault("fleet.step_ms", defaults.Fleet.StepMs)
	viper.SetDefault("fleet.distance", defaults.Fleet.Distance)
	viper.SetDefault("fleet.max_replans", defaults.Fleet.MaxReplans)
	viper.SetDefault("fleet.bin_return_steps", defaults.Fleet.BinReturnSteps)

	viper.SetDefault("orders.reconcile_interval_ms", defaults.Orders.ReconcileIntervalMs)
	viper.SetDefault("orders.watchdog_interval_ms", defaults.Orders.WatchdogIntervalMs)
	viper.SetDefault("orders.stuck_timeout_seconds", defaults.Orders.StuckTimeoutSeconds)

	viper.SetDefault("store.path", defaults.Store.Path)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "autostore")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autostore"
	}
	return filepath.Join(home, ".config", "autostore")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns the directory for the database and logs
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "autostore")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autostore"
	}
	return filepath.Join(home, ".local", "share", "autostore")
}

// ValidClocks returns the valid fleet.clock values
func ValidClocks() []string {
	return []string{"real", "virtual"}
}

// ValidDistances returns the valid fleet.distance values
func ValidDistances() []string {
	return []string{string(grid.MetricManhattan), string(grid.MetricEuclidean)}
}
