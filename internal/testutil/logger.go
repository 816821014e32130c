package testutil

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// TestLogger records every entry an engine or command logs so tests can
// assert on run and action context.
type TestLogger struct {
	mu      sync.RWMutex
	Entries []LogEntry
	Logger  *slog.Logger
}

// LogEntry is one captured record with its attributes flattened.
// Grouped attributes are keyed "group.key".
type LogEntry struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// Attr returns the attribute as a string, or "" when absent.
func (e LogEntry) Attr(key string) string {
	v, ok := e.Attrs[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return slog.AnyValue(v).String()
}

// NewTestLogger creates a logger that captures entries at every level.
func NewTestLogger(t *testing.T) *TestLogger {
	t.Helper()
	tl := &TestLogger{}
	tl.Logger = slog.New(&captureHandler{sink: tl})
	return tl
}

type captureHandler struct {
	sink  *TestLogger
	attrs []slog.Attr
	group string
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	entry := LogEntry{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
		Attrs:   make(map[string]any, len(h.attrs)+r.NumAttrs()),
	}
	for _, a := range h.attrs {
		entry.Attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		entry.Attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.sink.mu.Lock()
	h.sink.Entries = append(h.sink.Entries, entry)
	h.sink.mu.Unlock()
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, a := range attrs {
		merged = append(merged, slog.Attr{Key: h.key(a.Key), Value: a.Value})
	}
	return &captureHandler{sink: h.sink, attrs: merged, group: h.group}
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	return &captureHandler{sink: h.sink, attrs: h.attrs, group: h.key(name)}
}

func (h *captureHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

// GetEntries returns a copy of all captured entries.
func (l *TestLogger) GetEntries() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]LogEntry, len(l.Entries))
	copy(out, l.Entries)
	return out
}

// Filter returns the entries for which keep returns true.
func (l *TestLogger) Filter(keep func(LogEntry) bool) []LogEntry {
	var out []LogEntry
	for _, e := range l.GetEntries() {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// GetEntriesOfLevel returns entries logged at exactly level.
func (l *TestLogger) GetEntriesOfLevel(level slog.Level) []LogEntry {
	return l.Filter(func(e LogEntry) bool { return e.Level == level })
}

// GetEntriesWithAttrValue returns entries carrying key=value.
func (l *TestLogger) GetEntriesWithAttrValue(key string, value any) []LogEntry {
	return l.Filter(func(e LogEntry) bool {
		v, ok := e.Attrs[key]
		return ok && v == value
	})
}

// GetEntriesContaining returns entries whose message contains substring.
func (l *TestLogger) GetEntriesContaining(substring string) []LogEntry {
	return l.Filter(func(e LogEntry) bool { return strings.Contains(e.Message, substring) })
}

// ForRun returns the entries logged with run_id set to runID.
func (l *TestLogger) ForRun(runID string) []LogEntry {
	return l.Filter(func(e LogEntry) bool { return e.Attr("run_id") == runID })
}

// ForAction returns the entries logged while the named action was current.
func (l *TestLogger) ForAction(action string) []LogEntry {
	return l.Filter(func(e LogEntry) bool { return e.Attr("action") == action })
}

// Count returns the number of captured entries.
func (l *TestLogger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.Entries)
}

// AssertContains asserts that some entry's message contains msg.
func (l *TestLogger) AssertContains(t *testing.T, msg string) {
	t.Helper()
	if len(l.GetEntriesContaining(msg)) == 0 {
		t.Errorf("Expected log to contain message %q, but it wasn't found", msg)
	}
}

// AssertNoErrors asserts that nothing was logged at ERROR.
func (l *TestLogger) AssertNoErrors(t *testing.T) {
	t.Helper()
	errs := l.GetEntriesOfLevel(slog.LevelError)
	if len(errs) == 0 {
		return
	}
	messages := make([]string, len(errs))
	for i, e := range errs {
		messages[i] = e.Message + " " + e.Attr("error")
	}
	t.Errorf("Expected no errors, got %d: %v", len(errs), messages)
}

// AssertWarnContains asserts that a WARN entry contains msg.
func (l *TestLogger) AssertWarnContains(t *testing.T, msg string) {
	t.Helper()
	for _, e := range l.GetEntriesOfLevel(slog.LevelWarn) {
		if strings.Contains(e.Message, msg) {
			return
		}
	}
	t.Errorf("Expected a warning containing %q, but none found", msg)
}

// AssertAttrValue asserts that some entry carries key=value.
func (l *TestLogger) AssertAttrValue(t *testing.T, key string, value any) {
	t.Helper()
	if len(l.GetEntriesWithAttrValue(key, value)) == 0 {
		t.Errorf("Expected at least one log entry with %s=%v", key, value)
	}
}

// AssertActionLogged asserts that msg was logged in the context of action.
func (l *TestLogger) AssertActionLogged(t *testing.T, action, msg string) {
	t.Helper()
	for _, e := range l.ForAction(action) {
		if strings.Contains(e.Message, msg) {
			return
		}
	}
	t.Errorf("Expected %q to be logged for action %s", msg, action)
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
