package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Entry is one parsed log line.
type Entry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	BotID     int64          `json:"bot_id,omitempty"`
	OrderID   int64          `json:"order_id,omitempty"`
	Component string         `json:"component,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	Level     string
	Since     time.Time
	BotID     int64
	OrderID   int64
	Component string
	Contains  string
}

var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ReadEntries parses {dir}/autostore.log, skipping malformed lines, and
// returns entries sorted by time.
func ReadEntries(dir string) ([]Entry, error) {
	f, err := os.Open(filepath.Join(dir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no log file in %s: %w", dir, err)
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseEntries(f)
}

// ParseEntries parses JSON log lines from r.
func ParseEntries(r io.Reader) ([]Entry, error) {
	var entries []Entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		e, err := parseEntry(line)
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("error reading log: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time.Before(entries[j].Time)
	})
	return entries, nil
}

func parseEntry(line string) (Entry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Entry{}, err
	}

	e := Entry{Attrs: map[string]any{}}
	for k, v := range raw {
		switch k {
		case "time":
			if s, ok := v.(string); ok {
				e.Time, _ = time.Parse(time.RFC3339Nano, s)
			}
		case "level":
			e.Level, _ = v.(string)
		case "msg":
			e.Message, _ = v.(string)
		case "bot_id":
			if n, ok := v.(float64); ok {
				e.BotID = int64(n)
			}
		case "order_id":
			if n, ok := v.(float64); ok {
				e.OrderID = int64(n)
			}
		case "component":
			e.Component, _ = v.(string)
		default:
			e.Attrs[k] = v
		}
	}
	return e, nil
}

// Apply returns the entries that match f.
func (f Filter) Apply(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if f.match(e) {
			out = append(out, e)
		}
	}
	return out
}

func (f Filter) match(e Entry) bool {
	if f.Level != "" && levelOrder[strings.ToUpper(e.Level)] < levelOrder[ParseLevel(f.Level)] {
		return false
	}
	if !f.Since.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	if f.BotID != 0 && e.BotID != f.BotID {
		return false
	}
	if f.OrderID != 0 && e.OrderID != f.OrderID {
		return false
	}
	if f.Component != "" && e.Component != f.Component {
		return false
	}
	if f.Contains != "" && !strings.Contains(strings.ToLower(e.Message), strings.ToLower(f.Contains)) {
		return false
	}
	return true
}
