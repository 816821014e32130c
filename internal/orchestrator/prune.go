package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/meow-stack/remedy/internal/errors"
	"github.com/meow-stack/remedy/internal/types"
)

// PruneOptions selects terminated runs to remove.
type PruneOptions struct {
	Before  time.Time // Only runs that terminated before this instant
	Outcome string    // "completed" or "failed" (empty = both)
	DryRun  bool      // Report without deleting
}

// Prune deletes terminated runs and their traces from the store. Runs that
// have not terminated, or that a live process still holds, are never
// touched. Lock files are kept. It returns the pruned run IDs.
func Prune(ctx context.Context, store RunStore, stateDir string, opts PruneOptions) ([]string, error) {
	switch opts.Outcome {
	case "", "completed", "failed":
	default:
		return nil, fmt.Errorf("cannot prune runs with outcome %q", opts.Outcome)
	}

	recs, err := store.List(ctx, RunFilter{Stage: types.StageTerminated, Outcome: opts.Outcome})
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	lockDir := LockDir(stateDir)
	var pruned []string
	for _, rec := range recs {
		if rec.DoneAt == nil || !rec.DoneAt.Before(opts.Before) {
			continue
		}
		if IsRunLocked(lockDir, rec.TicketID) {
			continue
		}
		if !opts.DryRun {
			if err := store.Delete(ctx, rec.TicketID); err != nil && !errors.HasCode(err, errors.CodeRunNotFound) {
				return pruned, fmt.Errorf("deleting run %s: %w", rec.TicketID, err)
			}
			trace := filepath.Join(TraceDir(stateDir), rec.TicketID+".jsonl")
			if err := os.Remove(trace); err != nil && !os.IsNotExist(err) {
				return pruned, fmt.Errorf("removing trace of %s: %w", rec.TicketID, err)
			}
		}
		pruned = append(pruned, rec.TicketID)
	}
	return pruned, nil
}
