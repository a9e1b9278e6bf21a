package binlock

import (
	"github.com/Iron-Ham/autostore/internal/logging"
	"github.com/Iron-Ham/autostore/internal/model"
)

// Recorder persists lock changes. The record store implements it; a nil
// Recorder keeps locks in memory only.
type Recorder interface {
	SaveBinLock(l model.BinLock) error
	DeleteBinLocks() error
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder writes every lock change through to r.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		m.rec = r
	}
}

// WithLogger sets the logger used for write-through failures.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		m.logger = l.WithComponent("binlock")
	}
}
