package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/meow-stack/remedy/internal/testutil"
)

// project is a remedy working directory wired to a mock ServiceNow.
type project struct {
	Dir     string
	SN      *testutil.MockServiceNow
	Payload string
}

// newProject creates a working directory holding one flow, a config
// pointing at a mock ServiceNow and a ticket payload for that flow.
// extraConfig is appended to the config file.
func newProject(t *testing.T, actions map[string]string, extraConfig ...string) *project {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SERVICENOW_USERNAME", "remedy")
	t.Setenv("SERVICENOW_PASSWORD", "secret")

	dir := t.TempDir()
	sn := testutil.NewMockServiceNow(t)

	testutil.RequireFile(t, filepath.Join(dir, ".remedy", "config.toml"), fmt.Sprintf(`version = "1"

[servicenow]
endpoint = %q

[logging]
level = "error"
`, sn.URL())+strings.Join(extraConfig, "\n"))
	testutil.RequireFile(t, filepath.Join(dir, "flow_details.yml"), `flows:
  - short_description: "Reset password"
    flow_name: "reset_password"
    reassignment_group: "IAM L2"
`)
	for name, body := range actions {
		path := filepath.Join(dir, "UseCases", "reset_password", name)
		testutil.RequireFile(t, path, body)
		if err := os.Chmod(path, 0755); err != nil {
			t.Fatalf("chmod %s: %v", path, err)
		}
	}

	payload := filepath.Join(dir, "ticket.json")
	testutil.RequireFile(t, payload, string(testutil.SamplePayload("RITM001", "Reset password")))

	return &project{Dir: dir, SN: sn, Payload: payload}
}

func successActions() map[string]string {
	return map[string]string{
		"01_reset.sh": testutil.ShellAction(testutil.SuccessEnvelope("password reset", nil), 0),
	}
}

// resetFlags restores every flag variable to its default between runs of
// the shared command tree.
func resetFlags() {
	verbose, workDir, configPath = false, "", ""
	runID, runJSON, runDry, runParallel = "", false, false, 1
	resumeJSON = false
	statusJSON, statusStage, statusOutcome = false, "", ""
	statusQuiet, statusNoColor, statusStrict = false, false, false
	validateSkipCredentials = false
	flowsActions, flowsJSON = false, false
	traceLimit, traceFormat = 0, "text"
	pruneOlderThan, pruneOutcome, pruneDryRun, pruneJSON = 30*24*time.Hour, "", false, false
	outputIdentity, outputJSON = "", false
}

// execute runs the command tree in dir and returns what it printed.
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	t.Cleanup(resetFlags)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(append([]string{"--workdir", dir}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return ExitSuccess
	}
	exitErr, ok := err.(*ExitError)
	if !ok {
		t.Fatalf("expected *ExitError, got %T: %v", err, err)
	}
	return exitErr.Code
}
