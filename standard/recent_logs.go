// Package standard provides the bridge's ambient components: logs, connectivity, service info.
package standard

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// LogLevel represents the severity of a log entry.
type LogLevel string

const (
	LevelError LogLevel = "ERROR"
	LevelWarn  LogLevel = "WARN"
	LevelInfo  LogLevel = "INFO"
	LevelDebug LogLevel = "DEBUG"
)

// LogEntry represents a single log entry.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     LogLevel               `json:"level"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// RecentLogs keeps the most recent log entries and mirrors each one to an output writer.
type RecentLogs struct {
	mu         sync.Mutex
	entries    []LogEntry
	maxEntries int
	out        *log.Logger
	markers    bool // prefix lines with ✓/✗ when writing to a terminal
}

// NewRecentLogs creates a RecentLogs tracker writing to out (nil = stdout).
func NewRecentLogs(maxEntries int, out io.Writer) *RecentLogs {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	if out == nil {
		out = os.Stdout
	}

	markers := false
	if f, ok := out.(*os.File); ok {
		markers = term.IsTerminal(int(f.Fd()))
	}

	return &RecentLogs{
		entries:    make([]LogEntry, 0, maxEntries),
		maxEntries: maxEntries,
		out:        log.New(out, "", log.LstdFlags),
		markers:    markers,
	}
}

// Log adds a log entry with context.
// Context must be non-empty to ensure structured logging.
func (r *RecentLogs) Log(level LogLevel, message string, context map[string]interface{}) {
	if len(context) == 0 {
		panic("RecentLogs.Log: context must be non-empty (use structured logging!)")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   context,
	}

	r.entries = append(r.entries, entry)
	if len(r.entries) > r.maxEntries {
		r.entries = r.entries[len(r.entries)-r.maxEntries:]
	}

	r.out.Print(r.format(entry))
}

// format renders an entry as "[LEVEL] message key=value ..." with keys sorted.
func (r *RecentLogs) format(entry LogEntry) string {
	var b strings.Builder

	if r.markers {
		switch entry.Level {
		case LevelError, LevelWarn:
			b.WriteString("✗ ")
		case LevelInfo:
			b.WriteString("✓ ")
		}
	}

	fmt.Fprintf(&b, "[%s] %s", entry.Level, entry.Message)

	keys := make([]string, 0, len(entry.Context))
	for k := range entry.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Context[k])
	}

	return b.String()
}

// Error logs an error message with context.
func (r *RecentLogs) Error(message string, context map[string]interface{}) {
	r.Log(LevelError, message, context)
}

// Warn logs a warning message with context.
func (r *RecentLogs) Warn(message string, context map[string]interface{}) {
	r.Log(LevelWarn, message, context)
}

// Info logs an info message with context.
func (r *RecentLogs) Info(message string, context map[string]interface{}) {
	r.Log(LevelInfo, message, context)
}

// Debug logs a debug message with context.
func (r *RecentLogs) Debug(message string, context map[string]interface{}) {
	r.Log(LevelDebug, message, context)
}

// Entries returns a copy of the buffered entries, oldest first.
func (r *RecentLogs) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]LogEntry(nil), r.entries...)
}

// Find returns buffered entries with the given message, oldest first.
func (r *RecentLogs) Find(message string) []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found []LogEntry
	for _, entry := range r.entries {
		if entry.Message == message {
			found = append(found, entry)
		}
	}
	return found
}

// GetData returns log entries and per-level counts.
func (r *RecentLogs) GetData() interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errorCount, warnCount, infoCount, debugCount int
	for _, entry := range r.entries {
		switch entry.Level {
		case LevelError:
			errorCount++
		case LevelWarn:
			warnCount++
		case LevelInfo:
			infoCount++
		case LevelDebug:
			debugCount++
		}
	}

	return map[string]interface{}{
		"entries": append([]LogEntry(nil), r.entries...),
		"stats": map[string]interface{}{
			"total_count":    len(r.entries),
			"errors_count":   errorCount,
			"warnings_count": warnCount,
			"info_count":     infoCount,
			"debug_count":    debugCount,
			"max_entries":    r.maxEntries,
		},
	}
}
