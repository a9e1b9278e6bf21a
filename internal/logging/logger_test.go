package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	t.Run("creates log file in data directory", func(t *testing.T) {
		dir := t.TempDir()

		logger, err := NewLogger(dir, LevelDebug, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		defer logger.Close()

		if _, err := os.Stat(filepath.Join(dir, FileName)); os.IsNotExist(err) {
			t.Errorf("log file was not created in %s", dir)
		}
	})

	t.Run("writes to stderr when dir is empty", func(t *testing.T) {
		logger, err := NewLogger("", LevelInfo, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		if logger.out != nil {
			t.Error("expected no file writer when dir is empty")
		}
		if err := logger.Close(); err != nil {
			t.Errorf("Close() = %v, want nil", err)
		}
	})
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  int
	}{
		{LevelDebug, 4},
		{LevelInfo, 3},
		{LevelWarn, 2},
		{LevelError, 1},
		{"bogus", 3},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewWriterLogger(&buf, tt.level)
			l.Debug("d")
			l.Info("i")
			l.Warn("w")
			l.Error("e")
			if got := len(decodeLines(t, &buf)); got != tt.want {
				t.Errorf("entries = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLogger_ChildAttributes(t *testing.T) {
	var buf bytes.Buffer
	root := NewWriterLogger(&buf, LevelDebug)

	root.WithComponent("fleet").WithBot(2).WithOrder(7).With("phase", "moving").Info("step", "x", 3)
	root.Info("plain")

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	first := lines[0]
	if first["component"] != "fleet" || first["bot_id"] != float64(2) || first["order_id"] != float64(7) {
		t.Errorf("child attributes missing: %v", first)
	}
	if first["phase"] != "moving" || first["x"] != float64(3) {
		t.Errorf("With/call attributes missing: %v", first)
	}
	if _, ok := lines[1]["bot_id"]; ok {
		t.Error("parent logger must not inherit child attributes")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug": LevelDebug,
		"WARN":  LevelWarn,
		"Error": LevelError,
		"":      LevelInfo,
		"loud":  LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRotatingWriter_Rotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer rw.Close()

	chunk := bytes.Repeat([]byte("x"), 600*1024)
	for i := 0; i < 3; i++ {
		if _, err := rw.Write(chunk); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("backup .1 missing: %v", err)
	}
	if _, err := os.Stat(path + ".2"); err != nil {
		t.Errorf("backup .2 missing: %v", err)
	}
	if rw.Size() != int64(len(chunk)) {
		t.Errorf("Size() = %d, want %d", rw.Size(), len(chunk))
	}
}

func TestReadEntriesAndFilter(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, LevelDebug, DefaultRotationConfig())
	if err != nil {
		t.Fatal(err)
	}
	fleet := logger.WithComponent("fleet")
	fleet.WithBot(1).Info("bot assigned")
	fleet.WithBot(2).Warn("replanning blocked step")
	logger.WithComponent("orders").WithOrder(5).Error("order reclaimed")
	logger.Debug("noise")
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	entries, err := ReadEntries(dir)
	if err != nil {
		t.Fatalf("ReadEntries() error = %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"warn and above", Filter{Level: "warn"}, 2},
		{"bot 2", Filter{BotID: 2}, 1},
		{"order 5", Filter{OrderID: 5}, 1},
		{"fleet", Filter{Component: "fleet"}, 2},
		{"contains", Filter{Contains: "REPLANNING"}, 1},
		{"future", Filter{Since: time.Now().Add(time.Hour)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(tt.filter.Apply(entries)); got != tt.want {
				t.Errorf("Apply() = %d entries, want %d", got, tt.want)
			}
		})
	}
}

func TestParseEntries_SkipsGarbage(t *testing.T) {
	in := strings.NewReader("not json\n{\"time\":\"2026-01-02T03:04:05Z\",\"level\":\"INFO\",\"msg\":\"ok\",\"extra\":1}\n\n")
	entries, err := ParseEntries(in)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Message != "ok" || entries[0].Attrs["extra"] != float64(1) {
		t.Errorf("entries = %+v", entries)
	}
}
