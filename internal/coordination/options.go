package coordination

import (
	"github.com/Iron-Ham/autostore/internal/simclock"
)

// hubConfig holds optional configuration for a Hub.
type hubConfig struct {
	clock       simclock.Clock
	eventLog    bool
	eventBuffer int
}

// Option configures a Hub.
type Option func(*hubConfig)

// WithClock overrides the step source chosen by fleet.clock.
func WithClock(c simclock.Clock) Option {
	return func(h *hubConfig) { h.clock = c }
}

// WithEventLog enables or disables mirroring events into the store.
// Enabled by default.
func WithEventLog(enabled bool) Option {
	return func(h *hubConfig) { h.eventLog = enabled }
}

// WithEventBuffer sets how many events may queue for the event log before
// new ones are dropped. A value of 0 uses the default.
func WithEventBuffer(n int) Option {
	return func(h *hubConfig) { h.eventBuffer = n }
}
