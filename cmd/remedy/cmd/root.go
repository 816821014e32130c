package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Global flags
	verbose    bool
	workDir    string
	configPath string
)

// Exit codes shared by commands that report more than success or failure.
const (
	ExitSuccess  = 0
	ExitFailure  = 1
	ExitNotFound = 2
)

// ExitError carries a specific process exit code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

var rootCmd = &cobra.Command{
	Use:   "remedy",
	Short: "remedy - automated ServiceNow ticket remediation",
	Long: `remedy resolves ServiceNow tickets by running the remediation flow
registered for the ticket's classification.

A flow is a directory of action scripts (Python, JavaScript, PowerShell or
shell) executed in name order. Each action's outputs become variables for
the next one and its message is appended to the ticket as a work note.
When every action succeeds the ticket is closed; the first failure hands
it to the flow's reassignment group.

Run state is persisted after every transition, so an interrupted run can
be continued with 'remedy resume'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&workDir, "workdir", "C", "", "working directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ~/.remedy/config.toml then .remedy/config.toml)")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("remedy {{.Version}}\n")
}

// getWorkDir returns the effective working directory.
func getWorkDir() (string, error) {
	if workDir != "" {
		return workDir, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return dir, nil
}
