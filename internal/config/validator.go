package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/autostore/internal/grid"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "planner.window")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateGrid()...)

	// Layout checks need sane bounds to be meaningful
	if len(errors) == 0 {
		errors = append(errors, c.validateLayout()...)
	}

	errors = append(errors, c.validatePlanner()...)
	errors = append(errors, c.validateFleet()...)
	errors = append(errors, c.validateOrders()...)
	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateGrid validates the GridConfig
func (c *Config) validateGrid() []ValidationError {
	var errors []ValidationError

	const maxSide = 10000
	for _, f := range []struct {
		field string
		value int
	}{
		{"grid.width", c.Grid.Width},
		{"grid.height", c.Grid.Height},
	} {
		if f.value < 1 {
			errors = append(errors, ValidationError{Field: f.field, Value: f.value, Message: "must be at least 1"})
		} else if f.value > maxSide {
			errors = append(errors, ValidationError{
				Field:   f.field,
				Value:   f.value,
				Message: fmt.Sprintf("exceeds maximum of %d", maxSide),
			})
		}
	}

	if c.Grid.Layers < 1 {
		errors = append(errors, ValidationError{
			Field:   "grid.layers",
			Value:   c.Grid.Layers,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateLayout validates the LayoutConfig against the grid bounds
func (c *Config) validateLayout() []ValidationError {
	var errors []ValidationError
	b := c.Grid.Bounds()

	if !b.Contains(c.Layout.Delivery) {
		errors = append(errors, ValidationError{
			Field:   "layout.delivery",
			Value:   c.Layout.Delivery,
			Message: "must lie inside the grid",
		})
	}

	for i, w := range c.Layout.Waypoints {
		if !b.Contains(w) {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("layout.waypoints[%d]", i),
				Value:   w,
				Message: "must lie inside the grid",
			})
		}
	}

	botIDs := make(map[int64]bool)
	parking := make(map[grid.Point]int64)
	for i, bot := range c.Layout.Bots {
		field := fmt.Sprintf("layout.bots[%d]", i)
		if bot.ID <= 0 {
			errors = append(errors, ValidationError{Field: field + ".id", Value: bot.ID, Message: "must be positive"})
		} else if botIDs[bot.ID] {
			errors = append(errors, ValidationError{Field: field + ".id", Value: bot.ID, Message: "duplicate bot id"})
		}
		botIDs[bot.ID] = true

		p := grid.P(bot.X, bot.Y)
		if !b.Contains(p) {
			errors = append(errors, ValidationError{Field: field, Value: p, Message: "parking cell must lie inside the grid"})
			continue
		}
		if other, ok := parking[p]; ok {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   p,
				Message: fmt.Sprintf("parking cell already used by bot %d", other),
			})
		}
		parking[p] = bot.ID
	}

	binIDs := make(map[int64]bool)
	skus := make(map[string]bool)
	for i, bin := range c.Layout.Bins {
		field := fmt.Sprintf("layout.bins[%d]", i)
		if bin.ID <= 0 {
			errors = append(errors, ValidationError{Field: field + ".id", Value: bin.ID, Message: "must be positive"})
		} else if binIDs[bin.ID] {
			errors = append(errors, ValidationError{Field: field + ".id", Value: bin.ID, Message: "duplicate bin id"})
		}
		binIDs[bin.ID] = true

		if home := grid.P(bin.X, bin.Y); !b.Contains(home) {
			errors = append(errors, ValidationError{Field: field, Value: home, Message: "home cell must lie inside the grid"})
		}
		if bin.Z < 0 || bin.Z >= c.Grid.Layers {
			errors = append(errors, ValidationError{
				Field:   field + ".z",
				Value:   bin.Z,
				Message: fmt.Sprintf("must be in [0, %d)", c.Grid.Layers),
			})
		}

		for j, p := range bin.Products {
			pf := fmt.Sprintf("%s.products[%d].sku", field, j)
			switch {
			case strings.TrimSpace(p.SKU) == "":
				errors = append(errors, ValidationError{Field: pf, Value: p.SKU, Message: "must not be empty"})
			case skus[p.SKU]:
				errors = append(errors, ValidationError{Field: pf, Value: p.SKU, Message: "duplicate sku"})
			}
			skus[p.SKU] = true
		}
	}

	return errors
}

// validatePlanner validates the PlannerConfig
func (c *Config) validatePlanner() []ValidationError {
	var errors []ValidationError

	if c.Planner.Window < 1 {
		errors = append(errors, ValidationError{
			Field:   "planner.window",
			Value:   c.Planner.Window,
			Message: "must be at least 1",
		})
	}

	if c.Planner.DwellSteps < 0 {
		errors = append(errors, ValidationError{
			Field:   "planner.dwell_steps",
			Value:   c.Planner.DwellSteps,
			Message: "must be non-negative",
		})
	}

	// Jitter above 1 lets the heuristic overestimate by more than a step
	if c.Planner.Jitter < 0 || c.Planner.Jitter > 1 {
		errors = append(errors, ValidationError{
			Field:   "planner.jitter",
			Value:   c.Planner.Jitter,
			Message: "must be between 0 and 1",
		})
	}

	for i, off := range c.Planner.Offsets {
		if off < 1 {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("planner.offsets[%d]", i),
				Value:   off,
				Message: "must be at least 1",
			})
		}
	}

	return errors
}

// validateFleet validates the FleetConfig
func (c *Config) validateFleet() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidClocks(), c.Fleet.Clock) {
		errors = append(errors, ValidationError{
			Field:   "fleet.clock",
			Value:   c.Fleet.Clock,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidClocks(), ", ")),
		})
	}

	const minStepMs = 10
	const maxStepMs = 60000
	if c.Fleet.StepMs < minStepMs {
		errors = append(errors, ValidationError{
			Field:   "fleet.step_ms",
			Value:   c.Fleet.StepMs,
			Message: fmt.Sprintf("must be at least %dms", minStepMs),
		})
	}
	if c.Fleet.StepMs > maxStepMs {
		errors = append(errors, ValidationError{
			Field:   "fleet.step_ms",
			Value:   c.Fleet.StepMs,
			Message: fmt.Sprintf("exceeds maximum of %dms", maxStepMs),
		})
	}

	if !slices.Contains(ValidDistances(), c.Fleet.Distance) {
		errors = append(errors, ValidationError{
			Field:   "fleet.distance",
			Value:   c.Fleet.Distance,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidDistances(), ", ")),
		})
	}

	if c.Fleet.MaxReplans < 1 {
		errors = append(errors, ValidationError{
			Field:   "fleet.max_replans",
			Value:   c.Fleet.MaxReplans,
			Message: "must be at least 1",
		})
	}

	if c.Fleet.BinReturnSteps < 0 {
		errors = append(errors, ValidationError{
			Field:   "fleet.bin_return_steps",
			Value:   c.Fleet.BinReturnSteps,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateOrders validates the OrdersConfig
func (c *Config) validateOrders() []ValidationError {
	var errors []ValidationError

	if c.Orders.ReconcileIntervalMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "orders.reconcile_interval_ms",
			Value:   c.Orders.ReconcileIntervalMs,
			Message: "must be non-negative (0 disables reconciliation)",
		})
	}

	if c.Orders.WatchdogIntervalMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "orders.watchdog_interval_ms",
			Value:   c.Orders.WatchdogIntervalMs,
			Message: "must be non-negative (0 disables the watchdog)",
		})
	}

	if c.Orders.StuckTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "orders.stuck_timeout_seconds",
			Value:   c.Orders.StuckTimeoutSeconds,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateStore validates the StoreConfig
func (c *Config) validateStore() []ValidationError {
	var errors []ValidationError

	path := c.Store.Path
	if path == "" {
		return nil
	}

	if strings.ContainsRune(path, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "store.path",
			Value:   path,
			Message: "path contains invalid null character",
		})
	}

	const maxPathLength = 4096
	if len(path) > maxPathLength {
		errors = append(errors, ValidationError{
			Field:   "store.path",
			Value:   path,
			Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
