package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/meow-stack/remedy/internal/errors"
	"github.com/meow-stack/remedy/internal/ticket"
	"github.com/meow-stack/remedy/internal/types"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run <payload.json>...",
	Short: "Remediate tickets from payload files",
	Long: `Start a remediation run for each ticket payload.

A payload is the ServiceNow table API response for the ticket: a JSON
object whose non-empty "result" array carries short_description,
sys_class_name and sys_id. A payload of "-" is read from stdin.

The run identifier defaults to task_<number>. Starting a run whose record
exists and has not terminated resumes it instead.

Examples:
  remedy run ticket.json
  remedy run --id task_RITM001 ticket.json
  remedy run --parallel 4 incoming/*.json
  remedy run --dry-run ticket.json       # actions run, ServiceNow is not touched`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var (
	runID       string
	runJSON     bool
	runDry      bool
	runParallel int
)

func init() {
	runCmd.Flags().StringVar(&runID, "id", "", "run identifier (only with a single payload)")
	runCmd.Flags().BoolVarP(&runJSON, "json", "j", false, "output results as JSON")
	runCmd.Flags().BoolVar(&runDry, "dry-run", false, "run actions but only print the ticket writes, with throwaway state")
	runCmd.Flags().IntVarP(&runParallel, "parallel", "p", 1, "maximum runs in flight")
	rootCmd.AddCommand(runCmd)
}

// runResult is the outcome of one payload, as printed by run and resume.
type runResult struct {
	Payload string           `json:"payload,omitempty"`
	RunID   string           `json:"run_id"`
	Outcome string           `json:"outcome"`
	Stage   types.RunStage   `json:"stage,omitempty"`
	Code    string           `json:"code,omitempty"`
	Error   string           `json:"error,omitempty"`
	Record  *types.RunRecord `json:"record,omitempty"`
	Writes  []ticket.Write   `json:"ticket_writes,omitempty"`

	err error
}

func runRun(cmd *cobra.Command, args []string) error {
	if runID != "" && len(args) > 1 {
		return fmt.Errorf("--id needs exactly one payload, got %d", len(args))
	}
	if runParallel < 1 {
		return fmt.Errorf("--parallel must be at least 1")
	}

	tickets := make([]*types.Ticket, len(args))
	for i, path := range args {
		t, err := readPayload(cmd.InOrStdin(), path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		tickets[i] = t
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := appOptions{}
	var recorder *ticket.Recorder
	if runDry {
		recorder = &ticket.Recorder{}
		opts = appOptions{tickets: recorder, scratch: true}
	}
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	results := make([]runResult, len(tickets))
	var g errgroup.Group
	g.SetLimit(runParallel)
	for i, t := range tickets {
		id := runID
		if id == "" {
			id = t.DefaultRunID()
		}
		g.Go(func() error {
			rec, err := a.engine.Start(ctx, id, t)
			results[i] = newRunResult(args[i], id, rec, err)
			return nil
		})
	}
	g.Wait()

	if recorder != nil {
		for i := range results {
			results[i].Writes = writesFor(recorder.Writes(), tickets[i].Ref)
		}
	}

	if err := printResults(cmd.OutOrStdout(), results, runJSON); err != nil {
		return err
	}
	return resultsError(results)
}

// readPayload parses a payload file, or stdin for "-".
func readPayload(stdin io.Reader, path string) (*types.Ticket, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	return types.ParseTicket(data)
}

func newRunResult(payload, id string, rec *types.RunRecord, err error) runResult {
	res := runResult{Payload: payload, RunID: id, Record: rec, err: err}
	if err != nil {
		res.Code = errors.Code(err)
		res.Error = err.Error()
	}
	switch {
	case rec != nil:
		res.Outcome = rec.Outcome()
		res.Stage = rec.Stage
	case err != nil:
		res.Outcome = "error"
	}
	return res
}

func writesFor(all []ticket.Write, ref types.TicketRef) []ticket.Write {
	var out []ticket.Write
	for _, w := range all {
		if w.Ref.SysID == ref.SysID {
			out = append(out, w)
		}
	}
	return out
}

func printResults(w io.Writer, results []runResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	for _, res := range results {
		fmt.Fprintf(w, "%s: %s", res.RunID, res.Outcome)
		if res.Record != nil {
			fmt.Fprintf(w, " (%d/%d actions", res.Record.ActionIndex, len(res.Record.Actions))
			if res.Record.FlowName != "" {
				fmt.Fprintf(w, ", flow %s", res.Record.FlowName)
			}
			fmt.Fprint(w, ")")
		}
		fmt.Fprintln(w)
		if res.Record != nil && res.Record.FailureReason != "" {
			fmt.Fprintf(w, "  reason: %s\n", res.Record.FailureReason)
		}
		if res.err != nil {
			fmt.Fprintf(w, "  error: %v\n", res.err)
		}
		for _, wr := range res.Writes {
			fmt.Fprintf(w, "  would %s: %s\n", wr.Op, wr.Value)
		}
	}
	return nil
}

// resultsError fails the command when any run stopped on an error. A run
// that failed an action and reassigned its ticket is a normal outcome.
func resultsError(results []runResult) error {
	failed := 0
	code := ExitFailure
	for _, res := range results {
		if res.err == nil {
			continue
		}
		failed++
		if errors.HasCode(res.err, errors.CodeRunNotFound) {
			code = ExitNotFound
		}
	}
	if failed == 0 {
		return nil
	}
	return &ExitError{Code: code, Message: fmt.Sprintf("%d of %d runs stopped on an error", failed, len(results))}
}
