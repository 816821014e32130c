package e2e

import (
	"fmt"
	"time"

	"github.com/meow-stack/remedy/internal/types"
)

// pollInterval is how often RunWatch re-reads the record.
const pollInterval = 50 * time.Millisecond

// RunWatch observes one run through its persisted record.
type RunWatch struct {
	// ID is the run identifier.
	ID string

	harness *Harness
}

// Record loads the current record.
func (w *RunWatch) Record() (*types.RunRecord, error) {
	return w.harness.LoadRun(w.ID)
}

// WaitFor polls the record until cond holds or the timeout expires.
func (w *RunWatch) WaitFor(desc string, timeout time.Duration, cond func(*types.RunRecord) bool) error {
	deadline := time.Now().Add(timeout)
	for {
		rec, err := w.Record()
		if err == nil && cond(rec) {
			return nil
		}
		if time.Now().After(deadline) {
			if err != nil {
				return fmt.Errorf("timeout waiting for run %s to be %s: %w", w.ID, desc, err)
			}
			return fmt.Errorf("timeout waiting for run %s to be %s (stage %s)", w.ID, desc, rec.Stage)
		}
		time.Sleep(pollInterval)
	}
}

// WaitForInFlight waits until action has been checkpointed as started.
func (w *RunWatch) WaitForInFlight(action string, timeout time.Duration) error {
	return w.WaitFor("executing "+action, timeout, func(rec *types.RunRecord) bool {
		return rec.Stage == types.StageExecutingAction && rec.InFlight == action
	})
}

// WaitForTerminated waits until the run retires.
func (w *RunWatch) WaitForTerminated(timeout time.Duration) error {
	return w.WaitFor("terminated", timeout, func(rec *types.RunRecord) bool {
		return rec.Retired()
	})
}

// AssertCompleted checks that the run terminated as completed.
func (w *RunWatch) AssertCompleted() error {
	rec, err := w.Record()
	if err != nil {
		return err
	}
	if !rec.Retired() || !rec.Completed || rec.Failed {
		return fmt.Errorf("run %s: expected completed, got stage=%s outcome=%s reason=%q",
			w.ID, rec.Stage, rec.Outcome(), rec.FailureReason)
	}
	return nil
}

// AssertFailed checks that the run terminated as failed.
func (w *RunWatch) AssertFailed() error {
	rec, err := w.Record()
	if err != nil {
		return err
	}
	if !rec.Retired() || !rec.Failed {
		return fmt.Errorf("run %s: expected failed, got stage=%s outcome=%s", w.ID, rec.Stage, rec.Outcome())
	}
	return nil
}
