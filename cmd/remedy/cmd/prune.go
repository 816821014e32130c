package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/meow-stack/remedy/internal/orchestrator"
	"github.com/spf13/cobra"
)

// Prune command flags
var (
	pruneOlderThan time.Duration
	pruneOutcome   string
	pruneDryRun    bool
	pruneJSON      bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old terminated runs",
	Long: `Delete terminated runs and their traces from the run store.

Only runs that terminated longer ago than --older-than are removed. Runs
that have not terminated, and runs a live process still holds, are kept.

Examples:
  remedy prune                        # Runs terminated over 30 days ago
  remedy prune --older-than 24h       # Runs terminated over a day ago
  remedy prune --outcome completed    # Keep failed runs for review
  remedy prune --dry-run              # Preview only`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "minimum time since the run terminated")
	pruneCmd.Flags().StringVar(&pruneOutcome, "outcome", "", "only prune runs with this outcome (completed, failed)")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "show what would be pruned without deleting")
	pruneCmd.Flags().BoolVarP(&pruneJSON, "json", "j", false, "output as JSON")
	rootCmd.AddCommand(pruneCmd)
}

type pruneResult struct {
	DryRun bool     `json:"dry_run"`
	Runs   []string `json:"runs"`
}

func runPrune(cmd *cobra.Command, args []string) error {
	if pruneOlderThan < 0 {
		return fmt.Errorf("--older-than must not be negative")
	}

	ctx := context.Background()
	a, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	pruned, err := orchestrator.Prune(ctx, a.store, a.cfg.StateDir(a.dir), orchestrator.PruneOptions{
		Before:  time.Now().Add(-pruneOlderThan),
		Outcome: pruneOutcome,
		DryRun:  pruneDryRun,
	})
	if err != nil {
		return err
	}
	if !pruneDryRun && len(pruned) > 0 {
		a.logger.Info("pruned runs", "count", len(pruned), "older_than", pruneOlderThan.String())
	}

	out := cmd.OutOrStdout()
	if pruneJSON {
		if pruned == nil {
			pruned = []string{}
		}
		return writeJSON(out, pruneResult{DryRun: pruneDryRun, Runs: pruned})
	}

	if len(pruned) == 0 {
		fmt.Fprintln(out, "No runs to prune.")
		return nil
	}
	verb := "Pruned"
	if pruneDryRun {
		verb = "Would prune"
	}
	for _, id := range pruned {
		fmt.Fprintf(out, "  %s\n", id)
	}
	fmt.Fprintf(out, "%s %d run(s).\n", verb, len(pruned))
	return nil
}
