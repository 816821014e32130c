package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>...",
	Short: "Resume interrupted runs",
	Long: `Continue runs that were interrupted before they terminated.

Each run continues from the stage its record last reached. An action that
was started but whose result was never recorded is replayed when
resume.replay_interrupted is set, and otherwise recorded as failed so the
ticket is reassigned.

A run that already terminated is rejected.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResume,
}

var resumeJSON bool

func init() {
	resumeCmd.Flags().BoolVarP(&resumeJSON, "json", "j", false, "output results as JSON")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	results := make([]runResult, 0, len(args))
	for _, id := range args {
		rec, err := a.engine.Resume(ctx, id)
		results = append(results, newRunResult("", id, rec, err))
		if ctx.Err() != nil {
			break
		}
	}

	if err := printResults(cmd.OutOrStdout(), results, resumeJSON); err != nil {
		return err
	}
	return resultsError(results)
}
