package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Iron-Ham/autostore/internal/config"
	"github.com/Iron-Ham/autostore/internal/logging"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View coordinator logs",
	Long: `View and filter the JSON log written by 'autostore serve'.

Logs are read from logging.dir, or the data directory when it is unset.

Examples:
  # Show the last 50 lines
  autostore logs

  # Follow logs in real-time
  autostore logs -f

  # Only one bot's warnings and errors
  autostore logs --bot 2 --level warn

  # Show logs from the last hour
  autostore logs --since 1h

  # Search for specific patterns
  autostore logs --grep "reclaim|stale"`,
	RunE: runLogs,
}

var (
	logsDir       string
	logsTail      int
	logsFollow    bool
	logsLevel     string
	logsSince     string
	logsBot       int64
	logsOrder     int64
	logsComponent string
	logsGrep      string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVar(&logsDir, "dir", "", "Log directory (default: logging.dir or the data directory)")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of lines to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().Int64Var(&logsBot, "bot", 0, "Only entries for this bot")
	logsCmd.Flags().Int64Var(&logsOrder, "order", 0, "Only entries for this order")
	logsCmd.Flags().StringVar(&logsComponent, "component", "", "Only entries from this component (fleet, orders, binlock, hub...)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter logs matching pattern (regex)")
}

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorGray   = "\033[90m"
	colorBlue   = "\033[34m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
)

// levelColor returns the ANSI color code for a log level
func levelColor(level string) string {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return colorGray
	case logging.LevelInfo:
		return colorBlue
	case logging.LevelWarn:
		return colorYellow
	case logging.LevelError:
		return colorRed
	default:
		return colorReset
	}
}

// logView holds the filters and formatting for one logs invocation.
type logView struct {
	filter logging.Filter
	grep   *regexp.Regexp
	color  bool
}

// match applies the grep pattern to the message and attributes. The other
// filters are applied by logging.Filter.
func (v logView) match(e logging.Entry) bool {
	if len(v.filter.Apply([]logging.Entry{e})) == 0 {
		return false
	}
	if v.grep == nil {
		return true
	}
	search := e.Message
	for _, val := range e.Attrs {
		search += " " + fmt.Sprintf("%v", val)
	}
	return v.grep.MatchString(search)
}

func (v logView) paint(code, s string) string {
	if !v.color {
		return s
	}
	return code + s + colorReset
}

// format renders an entry as one terminal line.
func (v logView) format(e logging.Entry) string {
	var sb strings.Builder

	sb.WriteString(v.paint(colorGray, "["+e.Time.Format("15:04:05.000")+"]"))
	sb.WriteString(" ")
	sb.WriteString(v.paint(levelColor(e.Level), "["+strings.ToUpper(e.Level)+"]"))
	sb.WriteString(" ")
	sb.WriteString(e.Message)

	if e.Component != "" {
		sb.WriteString(" " + v.paint(colorCyan, "component=") + e.Component)
	}
	if e.BotID != 0 {
		sb.WriteString(" " + v.paint(colorCyan, "bot_id=") + fmt.Sprint(e.BotID))
	}
	if e.OrderID != 0 {
		sb.WriteString(" " + v.paint(colorCyan, "order_id=") + fmt.Sprint(e.OrderID))
	}

	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(" " + v.paint(colorCyan, k+"=") + fmt.Sprintf("%v", e.Attrs[k]))
	}
	return sb.String()
}

func newLogView() (logView, error) {
	v := logView{
		filter: logging.Filter{
			Level:     logsLevel,
			BotID:     logsBot,
			OrderID:   logsOrder,
			Component: logsComponent,
		},
		color: term.IsTerminal(int(os.Stdout.Fd())),
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return v, fmt.Errorf("invalid duration format: %w", err)
		}
		v.filter.Since = time.Now().Add(-d)
	}
	if logsGrep != "" {
		re, err := regexp.Compile(logsGrep)
		if err != nil {
			return v, fmt.Errorf("invalid grep pattern: %w", err)
		}
		v.grep = re
	}
	return v, nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	dir := logsDir
	if dir == "" {
		dir = config.Get().Logging.Dir
	}
	if dir == "" {
		dir = config.DataDir()
	}
	logPath := filepath.Join(dir, logging.FileName)

	out := cmd.OutOrStdout()
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Fprintf(out, "No logs found at %s\n", logPath)
		fmt.Fprintln(out, "Set logging.dir so 'autostore serve' writes a log file.")
		return nil
	}

	view, err := newLogView()
	if err != nil {
		return err
	}

	if logsFollow {
		return followLogs(cmd, logPath, view)
	}
	return displayLogs(out, dir, logsTail, view)
}

// displayLogs reads the log file and displays filtered entries
func displayLogs(w io.Writer, dir string, tail int, view logView) error {
	entries, err := logging.ReadEntries(dir)
	if err != nil {
		return err
	}

	var lines []string
	for _, e := range entries {
		if view.match(e) {
			lines = append(lines, view.format(e))
		}
	}

	// Apply tail limit
	if tail > 0 && len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}

	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
	if len(lines) == 0 {
		fmt.Fprintln(w, "No matching log entries found.")
	}
	return nil
}

// followLogs prints entries appended to the log file until the command's
// context is cancelled. Writes are detected with fsnotify; rotation
// reopens the file.
func followLogs(cmd *cobra.Command, logPath string, view logView) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to watch log file: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory so a rotated file is noticed
	if err := watcher.Add(filepath.Dir(logPath)); err != nil {
		return fmt.Errorf("failed to watch log directory: %w", err)
	}

	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// Seek to end of file
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Following %s... (Ctrl+C to stop)\n\n", logPath)

	reader := bufio.NewReader(file)
	var partial string
	drain := func() error {
		for {
			line, err := reader.ReadString('\n')
			if err == io.EOF {
				// keep an unterminated line for the next write
				partial += line
				return nil
			}
			if err != nil {
				return fmt.Errorf("error reading log file: %w", err)
			}
			line, partial = partial+line, ""
			printFollowLine(out, strings.TrimSpace(line), view)
		}
	}

	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(logPath) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Write):
				if err := drain(); err != nil {
					return err
				}
			case ev.Has(fsnotify.Create):
				// rotated: start over on the new file
				_ = file.Close()
				if file, err = os.Open(logPath); err != nil {
					return fmt.Errorf("failed to reopen log file: %w", err)
				}
				reader = bufio.NewReader(file)
				partial = ""
				if err := drain(); err != nil {
					return err
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch error: %w", err)
		}
	}
}

func printFollowLine(w io.Writer, line string, view logView) {
	if line == "" {
		return
	}
	entries, err := logging.ParseEntries(strings.NewReader(line))
	if err != nil || len(entries) == 0 {
		// If we can't parse as JSON, display raw line
		fmt.Fprintln(w, line)
		return
	}
	if view.match(entries[0]) {
		fmt.Fprintln(w, view.format(entries[0]))
	}
}
