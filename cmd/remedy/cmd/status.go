package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/meow-stack/remedy/internal/errors"
	"github.com/meow-stack/remedy/internal/orchestrator"
	"github.com/meow-stack/remedy/internal/status"
	"github.com/meow-stack/remedy/internal/types"
	"github.com/spf13/cobra"
)

// Status command flags
var (
	statusJSON    bool
	statusStage   string
	statusOutcome string
	statusQuiet   bool
	statusNoColor bool
	statusStrict  bool
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show run status",
	Long: `Display persisted remediation runs.

Without an argument, lists every run in the store. With a run ID, shows
the detailed record of that run including its execution log.

A run that has not terminated and that no process holds is orphaned; it
can be continued with 'remedy resume'.

Examples:
  remedy status                       # List all runs
  remedy status task_RITM001          # Detailed status of one run
  remedy status --outcome failed      # Only failed runs
  remedy status --stage deciding      # Runs parked in a stage
  remedy status --json                # Output as JSON`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusJSON, "json", "j", false, "output as JSON")
	statusCmd.Flags().StringVar(&statusStage, "stage", "", "filter by stage")
	statusCmd.Flags().StringVar(&statusOutcome, "outcome", "", "filter by outcome (active, completed, failed)")
	statusCmd.Flags().BoolVarP(&statusQuiet, "quiet", "q", false, "minimal output")
	statusCmd.Flags().BoolVar(&statusNoColor, "no-color", false, "disable colors")
	statusCmd.Flags().BoolVar(&statusStrict, "strict", false, "exit non-zero when no runs match (for scripts)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	filter := orchestrator.RunFilter{Stage: types.RunStage(statusStage), Outcome: statusOutcome}
	if filter.Stage != "" && !filter.Stage.Valid() {
		return fmt.Errorf("unknown stage %q", statusStage)
	}
	switch filter.Outcome {
	case "", "active", "completed", "failed":
	default:
		return fmt.Errorf("unknown outcome %q", statusOutcome)
	}

	ctx := context.Background()
	a, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := status.FormatOptions{NoColor: statusNoColor, Quiet: statusQuiet}
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		return displayRunDetail(ctx, out, a, args[0], opts)
	}
	return displayRunList(ctx, out, a, filter, opts)
}

func displayRunDetail(ctx context.Context, out io.Writer, a *app, runID string, opts status.FormatOptions) error {
	rec, err := a.store.Load(ctx, runID)
	if err != nil {
		if errors.HasCode(err, errors.CodeRunNotFound) {
			return &ExitError{Code: ExitNotFound, Message: fmt.Sprintf("run not found: %s", runID)}
		}
		return err
	}

	summary := status.NewRunSummary(rec, a.locked(runID))
	if statusJSON {
		return writeJSON(out, summary)
	}
	fmt.Fprint(out, status.FormatDetailedRun(summary, opts))
	return nil
}

func displayRunList(ctx context.Context, out io.Writer, a *app, filter orchestrator.RunFilter, opts status.FormatOptions) error {
	recs, err := a.store.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}

	summaries := make([]*status.RunSummary, 0, len(recs))
	for _, rec := range recs {
		summaries = append(summaries, status.NewRunSummary(rec, a.locked(rec.TicketID)))
	}

	if statusJSON {
		if err := writeJSON(out, summaries); err != nil {
			return err
		}
	} else if len(summaries) == 0 {
		fmt.Fprintln(out, "No runs found.")
	} else {
		fmt.Fprint(out, status.FormatRunList(summaries, opts))
		fmt.Fprintln(out)
	}

	if len(summaries) == 0 && statusStrict {
		return &ExitError{Code: ExitFailure}
	}
	return nil
}

// locked reports whether a process currently holds runID.
func (a *app) locked(runID string) bool {
	return orchestrator.IsRunLocked(orchestrator.LockDir(a.cfg.StateDir(a.dir)), runID)
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}
