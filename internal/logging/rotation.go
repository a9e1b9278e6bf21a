package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig controls size-based rotation of the log file.
type RotationConfig struct {
	// MaxSizeMB is the size at which the file is rotated. 0 disables rotation.
	MaxSizeMB int
	// MaxBackups is how many rotated files (.1 newest ... .N oldest) are kept.
	MaxBackups int
}

// DefaultRotationConfig returns the rotation used when none is configured.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{MaxSizeMB: 10, MaxBackups: 3}
}

// RotatingWriter is an append-only file writer that rotates by size.
// It is safe for concurrent use.
type RotatingWriter struct {
	mu         sync.Mutex
	path       string
	maxBytes   int64
	maxBackups int
	file       *os.File
	size       int64
}

// NewRotatingWriter opens (or creates) path for appending.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		path:       path,
		maxBytes:   int64(cfg.MaxSizeMB) * 1024 * 1024,
		maxBackups: cfg.MaxBackups,
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(rw.path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	rw.file = f
	rw.size = info.Size()
	return nil
}

// Write appends p, rotating first when p would push the file past the limit.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return 0, fmt.Errorf("log file is closed")
	}
	if rw.maxBytes > 0 && rw.size > 0 && rw.size+int64(len(p)) > rw.maxBytes {
		if err := rw.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: log rotation failed: %v\n", err)
			if rw.file == nil {
				return 0, err
			}
		}
	}
	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	rw.file = nil

	if rw.maxBackups <= 0 {
		_ = os.Remove(rw.path)
		return rw.open()
	}

	_ = os.Remove(rw.backup(rw.maxBackups))
	for i := rw.maxBackups - 1; i >= 1; i-- {
		if _, err := os.Stat(rw.backup(i)); err == nil {
			_ = os.Rename(rw.backup(i), rw.backup(i+1))
		}
	}
	renameErr := os.Rename(rw.path, rw.backup(1))
	if err := rw.open(); err != nil {
		return err
	}
	if renameErr != nil {
		return fmt.Errorf("failed to rename log file: %w", renameErr)
	}
	return nil
}

func (rw *RotatingWriter) backup(n int) string {
	return fmt.Sprintf("%s.%d", rw.path, n)
}

// Path returns the active log file path.
func (rw *RotatingWriter) Path() string { return rw.path }

// Size returns the current size of the active file in bytes.
func (rw *RotatingWriter) Size() int64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.size
}

// Close syncs and closes the active file.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return nil
	}
	if err := rw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	err := rw.file.Close()
	rw.file = nil
	return err
}
