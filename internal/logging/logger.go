package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// FileName is the log file written inside the data directory.
const FileName = "autostore.log"

// Logger provides structured logging with persistent attributes.
// It is safe for concurrent use.
type Logger struct {
	logger *slog.Logger
	out    *RotatingWriter
	mu     sync.Mutex
	attrs  []slog.Attr
}

// NewLogger creates a Logger writing JSON lines to {dir}/autostore.log,
// rotated according to rot. If dir is empty, logs go to stderr.
func NewLogger(dir string, level string, rot RotationConfig) (*Logger, error) {
	var writer io.Writer = os.Stderr
	var out *RotatingWriter

	if dir != "" {
		var err error
		out, err = NewRotatingWriter(filepath.Join(dir, FileName), rot)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writer = out
	}

	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: parseLevel(level)})
	return &Logger{
		logger: slog.New(handler),
		out:    out,
	}, nil
}

// NewWriterLogger creates a Logger writing JSON lines to w. Used by tests
// and by commands that log to an already-open stream.
func NewWriterLogger(w io.Writer, level string) *Logger {
	return &Logger{
		logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})),
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithBot returns a child Logger tagging every entry with bot_id.
func (l *Logger) WithBot(botID int64) *Logger {
	return l.withAttr(slog.Int64("bot_id", botID))
}

// WithOrder returns a child Logger tagging every entry with order_id.
func (l *Logger) WithOrder(orderID int64) *Logger {
	return l.withAttr(slog.Int64("order_id", orderID))
}

// WithComponent returns a child Logger tagging every entry with component.
// Components include "fleet", "orders", "watchdog", "store" and "binlock".
func (l *Logger) WithComponent(name string) *Logger {
	return l.withAttr(slog.String("component", name))
}

// With returns a child Logger with arbitrary key-value attributes.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}

	attrs := make([]slog.Attr, 0, len(l.attrs)+len(args)/2)
	attrs = append(attrs, l.attrs...)
	for i := 0; i < len(args)-1; i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	return &Logger{logger: l.logger, out: l.out, attrs: attrs}
}

func (l *Logger) withAttr(attr slog.Attr) *Logger {
	attrs := make([]slog.Attr, len(l.attrs)+1)
	copy(attrs, l.attrs)
	attrs[len(l.attrs)] = attr
	return &Logger{logger: l.logger, out: l.out, attrs: attrs}
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	all := make([]any, 0, len(l.attrs)*2+len(args))
	for _, attr := range l.attrs {
		all = append(all, attr.Key, attr.Value.Any())
	}
	all = append(all, args...)
	l.logger.Log(context.Background(), level, msg, all...)
}

// Close flushes and closes the log file. A stderr logger is a no-op.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		return nil
	}
	err := l.out.Close()
	l.out = nil
	return err
}

// NopLogger returns a Logger that discards all log output.
func NopLogger() *Logger {
	return &Logger{logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
}

// ParseLevel normalizes a level string, defaulting to LevelInfo.
func ParseLevel(level string) string {
	switch strings.ToUpper(level) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return strings.ToUpper(level)
	default:
		return LevelInfo
	}
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}
