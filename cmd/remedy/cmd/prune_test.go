package cmd

import (
	"encoding/json"
	"testing"

	"github.com/meow-stack/remedy/internal/testutil"
)

func TestPruneCmdFlags(t *testing.T) {
	for _, name := range []string{"older-than", "outcome", "dry-run", "json"} {
		if pruneCmd.Flags().Lookup(name) == nil {
			t.Errorf("--%s flag not found", name)
		}
	}
	if def := pruneCmd.Flags().Lookup("older-than").DefValue; def != "720h0m0s" {
		t.Errorf("--older-than default = %s, want 720h0m0s", def)
	}
}

func TestPrune_TerminatedRuns(t *testing.T) {
	p := newProject(t, successActions())
	if out, err := execute(t, p.Dir, "run", p.Payload); err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}

	out, err := execute(t, p.Dir, "prune")
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	testutil.AssertContains(t, out, "No runs to prune.")

	out, err = execute(t, p.Dir, "prune", "--older-than", "0s", "--dry-run", "--json")
	if err != nil {
		t.Fatalf("prune --dry-run failed: %v", err)
	}
	var preview pruneResult
	if err := json.Unmarshal([]byte(out), &preview); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if !preview.DryRun || len(preview.Runs) != 1 || preview.Runs[0] != "task_RITM001" {
		t.Errorf("preview = %+v", preview)
	}

	out, err = execute(t, p.Dir, "prune", "--older-than", "0s", "--outcome", "failed")
	if err != nil {
		t.Fatalf("prune --outcome failed: %v", err)
	}
	testutil.AssertContains(t, out, "No runs to prune.")

	out, err = execute(t, p.Dir, "prune", "--older-than", "0s")
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	testutil.AssertContains(t, out, "Pruned 1 run(s).")

	_, err = execute(t, p.Dir, "status", "task_RITM001")
	if code := exitCode(t, err); code != ExitNotFound {
		t.Errorf("pruned run still present, status exit %d", code)
	}
}

func TestPrune_RejectsBadOptions(t *testing.T) {
	p := newProject(t, successActions())
	if _, err := execute(t, p.Dir, "prune", "--outcome", "active"); err == nil {
		t.Error("expected error pruning active runs")
	}
	if _, err := execute(t, p.Dir, "prune", "--older-than", "-1h"); err == nil {
		t.Error("expected error for a negative age")
	}
}
