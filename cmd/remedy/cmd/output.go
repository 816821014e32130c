package cmd

import (
	"context"
	"fmt"
	"strconv"

	"filippo.io/age"

	"github.com/meow-stack/remedy/internal/archive"
	"github.com/meow-stack/remedy/internal/errors"
	"github.com/spf13/cobra"
)

// Output command flags
var (
	outputIdentity string
	outputJSON     bool
)

var outputCmd = &cobra.Command{
	Use:   "output <run-id> <step-index>",
	Short: "Show the archived output of an action",
	Long: `Print the raw stdout and stderr an action produced, read back from
the output archive.

Encrypted archives need an age identity file, given with --identity or
archive.identity_file in the config.

Examples:
  remedy output task_RITM001 0                         # First action of the run
  remedy output task_RITM001 2 --identity ops.key      # Encrypted archive
  remedy output task_RITM001 0 --json                  # Full archived entry`,
	Args: cobra.ExactArgs(2),
	RunE: runOutput,
}

func init() {
	outputCmd.Flags().StringVar(&outputIdentity, "identity", "", "age identity file for encrypted archives")
	outputCmd.Flags().BoolVarP(&outputJSON, "json", "j", false, "output as JSON")
	rootCmd.AddCommand(outputCmd)
}

func runOutput(cmd *cobra.Command, args []string) error {
	runID := args[0]
	index, err := strconv.Atoi(args[1])
	if err != nil || index < 0 {
		return fmt.Errorf("invalid step index %q", args[1])
	}

	ctx := context.Background()
	a, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.store.Load(ctx, runID)
	if err != nil {
		if errors.HasCode(err, errors.CodeRunNotFound) {
			return &ExitError{Code: ExitNotFound, Message: fmt.Sprintf("run not found: %s", runID)}
		}
		return err
	}

	ref := ""
	found := false
	for _, step := range rec.Log {
		if step.Index == index {
			ref, found = step.ArtifactRef, true
			break
		}
	}
	if !found {
		return &ExitError{Code: ExitNotFound, Message: fmt.Sprintf("run %s has no step %d", runID, index)}
	}
	if ref == "" {
		return &ExitError{Code: ExitNotFound, Message: fmt.Sprintf("step %d of %s has no archived output", index, runID)}
	}

	arc, err := archive.New(ctx, a.cfg, a.dir)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	if arc == nil {
		return fmt.Errorf("archiving is disabled in the config")
	}

	identities, err := outputIdentities(a)
	if err != nil {
		return err
	}
	entry, err := arc.Load(ctx, ref, identities...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outputJSON {
		return writeJSON(out, entry)
	}
	fmt.Fprintf(out, "Action:   %s (exit %d, %s)\n", entry.Action, entry.ExitCode, entry.Duration)
	fmt.Fprintln(out, "--- stdout ---")
	fmt.Fprintln(out, entry.Stdout)
	fmt.Fprintln(out, "--- stderr ---")
	fmt.Fprintln(out, entry.Stderr)
	return nil
}

func outputIdentities(a *app) ([]age.Identity, error) {
	path := outputIdentity
	if path == "" {
		path = a.cfg.ArchiveIdentityFile(a.dir)
	}
	if path == "" {
		return nil, nil
	}
	return archive.LoadIdentities(path)
}
