package cmd

import (
	"encoding/json"
	"testing"

	"github.com/meow-stack/remedy/internal/status"
	"github.com/meow-stack/remedy/internal/testutil"
)

func TestStatusCmdFlags(t *testing.T) {
	for _, name := range []string{"json", "stage", "outcome", "quiet", "no-color", "strict"} {
		if statusCmd.Flags().Lookup(name) == nil {
			t.Errorf("--%s flag not found", name)
		}
	}
}

func TestStatus_NoRuns(t *testing.T) {
	p := newProject(t, successActions())

	out, err := execute(t, p.Dir, "status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	testutil.AssertContains(t, out, "No runs found.")

	_, err = execute(t, p.Dir, "status", "--strict")
	if code := exitCode(t, err); code != ExitFailure {
		t.Errorf("--strict with no runs should exit %d, got %d", ExitFailure, code)
	}
}

func TestStatus_AfterRun(t *testing.T) {
	p := newProject(t, successActions())
	if out, err := execute(t, p.Dir, "run", p.Payload); err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}

	t.Run("detail", func(t *testing.T) {
		out, err := execute(t, p.Dir, "status", "--no-color", "task_RITM001")
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		testutil.AssertContains(t, out, "Run:      task_RITM001")
		testutil.AssertContains(t, out, "completed")
		testutil.AssertContains(t, out, "01_reset.sh")
	})

	t.Run("list json", func(t *testing.T) {
		out, err := execute(t, p.Dir, "status", "--json")
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		var summaries []status.RunSummary
		if err := json.Unmarshal([]byte(out), &summaries); err != nil {
			t.Fatalf("output is not JSON: %v\n%s", err, out)
		}
		if len(summaries) != 1 || summaries[0].Outcome != "completed" {
			t.Errorf("unexpected summaries: %+v", summaries)
		}
	})

	t.Run("filtered out", func(t *testing.T) {
		out, err := execute(t, p.Dir, "status", "--outcome", "failed")
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		testutil.AssertContains(t, out, "No runs found.")
	})

	t.Run("unknown run", func(t *testing.T) {
		_, err := execute(t, p.Dir, "status", "task_NOPE")
		if code := exitCode(t, err); code != ExitNotFound {
			t.Errorf("expected exit %d, got %d", ExitNotFound, code)
		}
	})
}

func TestStatus_RejectsBadFilters(t *testing.T) {
	p := newProject(t, successActions())

	if _, err := execute(t, p.Dir, "status", "--stage", "sleeping"); err == nil {
		t.Error("expected an error for an unknown stage")
	}
	if _, err := execute(t, p.Dir, "status", "--outcome", "maybe"); err == nil {
		t.Error("expected an error for an unknown outcome")
	}
}
