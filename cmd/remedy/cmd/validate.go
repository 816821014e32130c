package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/meow-stack/remedy/internal/catalog"
	"github.com/meow-stack/remedy/internal/runner"
	"github.com/meow-stack/remedy/internal/ticket"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check configuration, catalog and flow directories",
	Long: `Validate the remedy setup without running anything.

Checks that:
  - the configuration parses and is consistent
  - the flow catalog parses, with no duplicate classifications
  - every flow directory exists and holds at least one action
  - every action has a supported kind (.py, .js, .ps1, .sh)
  - ServiceNow credentials are present in the environment

Use --skip-credentials when validating on a machine that never talks to
ServiceNow.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

var validateSkipCredentials bool

func init() {
	validateCmd.Flags().BoolVar(&validateSkipCredentials, "skip-credentials", false, "do not require ServiceNow credentials")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, dir, err := loadConfig()
	if err != nil {
		fmt.Fprintf(out, "✗ config: %v\n", err)
		return &ExitError{Code: ExitFailure, Message: "validation failed"}
	}
	fmt.Fprintln(out, "✓ config")

	problems := 0
	if !validateSkipCredentials {
		if _, err := ticket.New(cfg); err != nil {
			fmt.Fprintf(out, "✗ servicenow: %v\n", err)
			problems++
		} else {
			fmt.Fprintf(out, "✓ servicenow (%s auth)\n", cfg.ServiceNow.Auth)
		}
	}

	flows, err := catalog.Load(cfg.CatalogPath(dir), cfg.UseCasesDir(dir))
	if err != nil {
		fmt.Fprintf(out, "✗ catalog: %v\n", err)
		return &ExitError{Code: ExitFailure, Message: "validation failed"}
	}
	fmt.Fprintf(out, "✓ catalog %s (%d flows)\n", flows.Path(), len(flows.Flows()))

	problems += validateFlows(out, flows)
	if problems > 0 {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("validation failed: %d problem(s)", problems)}
	}
	return nil
}

// validateFlows reports each flow's actions and returns the number of problems.
func validateFlows(out io.Writer, flows *catalog.Catalog) int {
	problems := 0
	for _, f := range flows.Flows() {
		actions, err := flows.Actions(f.Name)
		if err != nil {
			fmt.Fprintf(out, "✗ flow %s: %v\n", f.Name, err)
			problems++
			continue
		}

		var unsupported []string
		for _, action := range actions {
			if _, ok := runner.KindOf(action); !ok {
				unsupported = append(unsupported, action)
			}
		}
		if len(unsupported) > 0 {
			fmt.Fprintf(out, "✗ flow %s: unsupported action kind: %s\n", f.Name, strings.Join(unsupported, ", "))
			problems++
			continue
		}
		fmt.Fprintf(out, "✓ flow %s (%d actions)\n", f.Name, len(actions))
	}
	return problems
}
