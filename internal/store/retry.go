package store

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/Iron-Ham/autostore/internal/errors"
)

// retryConfig controls retry behavior for transient SQLite errors.
type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// defaultRetryConfig is used for all store write operations.
var defaultRetryConfig = retryConfig{
	maxRetries: 3,
	baseDelay:  50 * time.Millisecond,
	maxDelay:   500 * time.Millisecond,
}

// isTransientSQLiteErr reports whether err is SQLite contention that a retry
// can resolve: BUSY (5), LOCKED (6) or IOERR_SHORT_READ (522) under WAL.
func isTransientSQLiteErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
		"(5)",
		"(6)",
		"(522)",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// retryOp executes fn with exponential backoff and jitter for transient
// errors. A transient error that survives every attempt is reported as
// ErrStoreBusy so callers can classify it.
func retryOp(cfg retryConfig, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransientSQLiteErr(lastErr) {
			return lastErr
		}
		if attempt < cfg.maxRetries {
			time.Sleep(backoffDelay(cfg, attempt))
		}
	}
	return fmt.Errorf("%w: %v", errors.ErrStoreBusy, lastErr)
}

// backoffDelay returns baseDelay * 2^attempt capped at maxDelay, plus
// jitter in [0, baseDelay).
func backoffDelay(cfg retryConfig, attempt int) time.Duration {
	delay := cfg.baseDelay << uint(attempt)
	if delay > cfg.maxDelay {
		delay = cfg.maxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(cfg.baseDelay)))
	return delay + jitter
}

// retryOnContention wraps retryOp with the default config. All writes use it.
func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}
