package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/meow-stack/remedy/internal/orchestrator"
	"github.com/spf13/cobra"
)

var traceCmd = &cobra.Command{
	Use:   "trace <run-id>",
	Short: "Show the execution trace of a run",
	Long: `Display the execution trace of a run.

Shows stage transitions, dispatched actions with their script digests,
recorded results and ticket writes, in the order they happened. Useful
for reconstructing what a crashed or failed run did.`,
	Args: cobra.ExactArgs(1),
	RunE: runTrace,
}

var (
	traceLimit  int
	traceFormat string
)

func init() {
	traceCmd.Flags().IntVar(&traceLimit, "limit", 0, "show only the last N entries (0 = all)")
	traceCmd.Flags().StringVar(&traceFormat, "format", "text", "output format: text, json")
	rootCmd.AddCommand(traceCmd)
}

func runTrace(cmd *cobra.Command, args []string) error {
	runID := args[0]
	if err := orchestrator.ValidateRunID(runID); err != nil {
		return err
	}
	if traceFormat != "text" && traceFormat != "json" {
		return fmt.Errorf("unknown format %q", traceFormat)
	}

	cfg, dir, err := loadConfig()
	if err != nil {
		return err
	}

	tracePath := filepath.Join(orchestrator.TraceDir(cfg.StateDir(dir)), runID+".jsonl")
	entries, err := orchestrator.ReadTrace(tracePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &ExitError{Code: ExitNotFound, Message: fmt.Sprintf("no trace for run %s", runID)}
		}
		return fmt.Errorf("reading trace: %w", err)
	}

	if traceLimit > 0 && len(entries) > traceLimit {
		entries = entries[len(entries)-traceLimit:]
	}

	out := cmd.OutOrStdout()
	if traceFormat == "json" {
		return writeJSON(out, entries)
	}

	for _, e := range entries {
		line := fmt.Sprintf("%s  %-10s", e.Timestamp.Format("15:04:05.000"), e.Action)
		if e.Stage != "" {
			line += "  " + e.Stage
		}
		if e.Script != "" {
			line += "  " + e.Script
		}
		if len(e.Details) > 0 {
			line += "  " + formatDetails(e.Details)
		}
		if e.Error != "" {
			line += "  error: " + e.Error
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func formatDetails(details map[string]any) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, details[k]))
	}
	return strings.Join(parts, " ")
}
