package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TraceAction represents the type of event being traced.
type TraceAction string

const (
	TraceActionStart      TraceAction = "start"      // New run created
	TraceActionResume     TraceAction = "resume"     // Persisted run picked up again
	TraceActionTransition TraceAction = "transition" // Stage changed
	TraceActionDispatch   TraceAction = "dispatch"   // Action process about to start
	TraceActionStep       TraceAction = "step"       // Action result recorded
	TraceActionLifecycle  TraceAction = "lifecycle"  // Ticket write attempted
	TraceActionError      TraceAction = "error"      // Error occurred
)

// TraceEntry represents a single trace log entry.
type TraceEntry struct {
	Timestamp time.Time      `json:"ts"`
	Action    TraceAction    `json:"action"`
	RunID     string         `json:"run_id,omitempty"`
	Stage     string         `json:"stage,omitempty"`
	StepID    string         `json:"step_id,omitempty"`
	Script    string         `json:"script,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// RunTracer records the execution history of one run.
type RunTracer interface {
	Log(entry TraceEntry) error
	LogStart(classification, ticket string) error
	LogResume(stage string, index int) error
	LogTransition(from, to string) error
	LogDispatch(stepID, script string, index int, digest string) error
	LogStep(stepID, script string, status string, failed bool, note string) error
	LogLifecycle(op, value string, err error) error
	LogError(stage string, err error) error
	Close() error
	Path() string
}

// Tracer logs execution traces to a JSONL file.
type Tracer struct {
	mu    sync.Mutex
	file  *os.File
	path  string
	runID string
}

// NewTracer opens <dir>/<runID>.jsonl for appending. A resumed run keeps
// extending the same file.
func NewTracer(dir, runID string) (*Tracer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating trace directory: %w", err)
	}

	path := filepath.Join(dir, runID+".jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}

	return &Tracer{file: file, path: path, runID: runID}, nil
}

// Close closes the trace file.
func (t *Tracer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file != nil {
		err := t.file.Close()
		t.file = nil
		return err
	}
	return nil
}

// Path returns the trace file path.
func (t *Tracer) Path() string {
	return t.path
}

// Log writes a trace entry to the file.
func (t *Tracer) Log(entry TraceEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return fmt.Errorf("tracer closed")
	}
	entry.Timestamp = time.Now()
	if entry.RunID == "" {
		entry.RunID = t.runID
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling trace entry: %w", err)
	}

	if _, err := t.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing trace entry: %w", err)
	}
	return nil
}

// LogStart traces run creation.
func (t *Tracer) LogStart(classification, ticket string) error {
	return t.Log(TraceEntry{
		Action:  TraceActionStart,
		Details: map[string]any{"classification": classification, "ticket": ticket},
	})
}

// LogResume traces a run picked up from the store.
func (t *Tracer) LogResume(stage string, index int) error {
	return t.Log(TraceEntry{
		Action:  TraceActionResume,
		Stage:   stage,
		Details: map[string]any{"action_index": index},
	})
}

// LogTransition traces a stage change.
func (t *Tracer) LogTransition(from, to string) error {
	return t.Log(TraceEntry{
		Action:  TraceActionTransition,
		Stage:   to,
		Details: map[string]any{"from": from},
	})
}

// LogDispatch traces an action about to run.
func (t *Tracer) LogDispatch(stepID, script string, index int, digest string) error {
	return t.Log(TraceEntry{
		Action:  TraceActionDispatch,
		StepID:  stepID,
		Script:  script,
		Details: map[string]any{"index": index, "digest": digest},
	})
}

// LogStep traces a recorded action result.
func (t *Tracer) LogStep(stepID, script, status string, failed bool, note string) error {
	return t.Log(TraceEntry{
		Action:  TraceActionStep,
		StepID:  stepID,
		Script:  script,
		Details: map[string]any{"status": status, "failed": failed, "note": note},
	})
}

// LogLifecycle traces a ticket write and its outcome.
func (t *Tracer) LogLifecycle(op, value string, err error) error {
	entry := TraceEntry{
		Action:  TraceActionLifecycle,
		Details: map[string]any{"operation": op, "value": value},
	}
	if err != nil {
		entry.Error = err.Error()
	}
	return t.Log(entry)
}

// LogError traces an error.
func (t *Tracer) LogError(stage string, err error) error {
	return t.Log(TraceEntry{
		Action: TraceActionError,
		Stage:  stage,
		Error:  err.Error(),
	})
}

var (
	_ RunTracer = (*Tracer)(nil)
	_ RunTracer = (*NullTracer)(nil)
)

// NullTracer is a tracer that discards all entries.
type NullTracer struct{}

func (n *NullTracer) Log(_ TraceEntry) error                         { return nil }
func (n *NullTracer) LogStart(_, _ string) error                     { return nil }
func (n *NullTracer) LogResume(_ string, _ int) error                { return nil }
func (n *NullTracer) LogTransition(_, _ string) error                { return nil }
func (n *NullTracer) LogDispatch(_, _ string, _ int, _ string) error { return nil }
func (n *NullTracer) LogStep(_, _, _ string, _ bool, _ string) error { return nil }
func (n *NullTracer) LogLifecycle(_, _ string, _ error) error        { return nil }
func (n *NullTracer) LogError(_ string, _ error) error               { return nil }
func (n *NullTracer) Close() error                                   { return nil }
func (n *NullTracer) Path() string                                   { return "" }

// ReadTrace loads all entries of a trace file.
func ReadTrace(path string) ([]TraceEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []TraceEntry
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var e TraceEntry
		if err := dec.Decode(&e); err != nil {
			return entries, fmt.Errorf("decoding trace entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
