package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/meow-stack/remedy/internal/errors"
	"github.com/meow-stack/remedy/internal/testutil"
)

func TestPrune(t *testing.T) {
	ctx := context.Background()
	stateDir := t.TempDir()
	store, err := NewYAMLRunStore(stateDir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	now := time.Now()
	old := now.Add(-48 * time.Hour)
	save := func(number string, failed bool, doneAt *time.Time) string {
		rec := sampleRecord(t, number)
		if failed {
			rec.Fail("boom")
		} else {
			rec.Complete()
		}
		if doneAt != nil {
			rec.Terminate()
			rec.DoneAt = doneAt
		}
		if err := store.Save(ctx, rec); err != nil {
			t.Fatal(err)
		}
		return rec.TicketID
	}

	oldDone := save("SCTASK0301", false, &old)
	oldFailed := save("SCTASK0302", true, &old)
	recent := save("SCTASK0303", false, &now)
	active := save("SCTASK0304", false, nil)
	held := save("SCTASK0305", false, &old)

	traceDir := TraceDir(stateDir)
	os.MkdirAll(traceDir, 0755)
	oldTrace := filepath.Join(traceDir, oldDone+".jsonl")
	os.WriteFile(oldTrace, []byte("{}\n"), 0644)

	lock, err := AcquireRunLock(LockDir(stateDir), held)
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	cutoff := now.Add(-24 * time.Hour)

	t.Run("dry run", func(t *testing.T) {
		got, err := Prune(ctx, store, stateDir, PruneOptions{Before: cutoff, DryRun: true})
		if err != nil {
			t.Fatalf("Prune failed: %v", err)
		}
		if strings.Join(got, ",") != oldDone+","+oldFailed {
			t.Errorf("pruned = %v, want [%s %s]", got, oldDone, oldFailed)
		}
		if _, err := store.Load(ctx, oldDone); err != nil {
			t.Errorf("dry run deleted %s: %v", oldDone, err)
		}
		testutil.AssertFileExists(t, oldTrace)
	})

	t.Run("by outcome", func(t *testing.T) {
		got, err := Prune(ctx, store, stateDir, PruneOptions{Before: cutoff, Outcome: "failed"})
		if err != nil {
			t.Fatalf("Prune failed: %v", err)
		}
		if len(got) != 1 || got[0] != oldFailed {
			t.Errorf("pruned = %v, want [%s]", got, oldFailed)
		}
		_, err = store.Load(ctx, oldFailed)
		testutil.AssertErrorCode(t, err, errors.CodeRunNotFound)
	})

	t.Run("everything eligible", func(t *testing.T) {
		got, err := Prune(ctx, store, stateDir, PruneOptions{Before: cutoff})
		if err != nil {
			t.Fatalf("Prune failed: %v", err)
		}
		if len(got) != 1 || got[0] != oldDone {
			t.Errorf("pruned = %v, want [%s]", got, oldDone)
		}
		testutil.AssertFileNotExists(t, oldTrace)
		for _, id := range []string{recent, active, held} {
			if _, err := store.Load(ctx, id); err != nil {
				t.Errorf("%s should survive: %v", id, err)
			}
		}
	})

	t.Run("unknown outcome", func(t *testing.T) {
		if _, err := Prune(ctx, store, stateDir, PruneOptions{Before: cutoff, Outcome: "active"}); err == nil {
			t.Error("expected error pruning active runs")
		}
	})
}
