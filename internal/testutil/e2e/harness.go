package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/meow-stack/remedy/internal/testutil"
	"github.com/meow-stack/remedy/internal/types"
)

// Flow and group every harness catalog registers.
const (
	Classification = "Reset password"
	FlowName       = "reset_password"
	Group          = "IAM L2"
)

// Harness provides test isolation for E2E tests.
// Each harness creates an isolated environment with its own:
// - Working directory with config, catalog and flow directories
// - Mock ServiceNow endpoint
type Harness struct {
	// TempDir is the working directory remedy runs in.
	TempDir string

	// StateDir is where run records, locks and traces live.
	StateDir string

	// UseCasesDir holds one directory per flow.
	UseCasesDir string

	// SN records every ticket write the binary makes.
	SN *testutil.MockServiceNow

	// Bin is the remedy binary under test.
	Bin string

	t *testing.T

	// cleanupFuncs are called on Cleanup().
	cleanupFuncs []func()
}

// NewHarness creates a harness with a one-flow catalog. extraConfig is
// appended verbatim to the generated config.toml.
func NewHarness(t *testing.T, extraConfig ...string) *Harness {
	t.Helper()

	tempDir := t.TempDir()
	h := &Harness{
		TempDir:     tempDir,
		StateDir:    filepath.Join(tempDir, ".remedy", "state"),
		UseCasesDir: filepath.Join(tempDir, "UseCases"),
		SN:          testutil.NewMockServiceNow(t),
		Bin:         BinaryPath(),
		t:           t,
	}

	configContent := fmt.Sprintf(`version = "1"

[servicenow]
endpoint = %q

[runner]
kill_grace = "500ms"

[logging]
level = "debug"
format = "text"
`, h.SN.URL())
	for _, extra := range extraConfig {
		configContent += "\n" + extra + "\n"
	}
	testutil.RequireFile(t, filepath.Join(tempDir, ".remedy", "config.toml"), configContent)

	testutil.RequireFile(t, filepath.Join(tempDir, "flow_details.yml"), fmt.Sprintf(`flows:
  - short_description: %q
    flow_name: %q
    reassignment_group: %q
`, Classification, FlowName, Group))

	t.Cleanup(h.Cleanup)
	return h
}

// BinaryPath returns the remedy binary built for E2E tests.
func BinaryPath() string {
	if bin := os.Getenv("REMEDY_BIN"); bin != "" {
		return bin
	}
	return filepath.Join(os.TempDir(), "remedy-e2e-bin")
}

// Cleanup releases resources. Called automatically via t.Cleanup.
func (h *Harness) Cleanup() {
	for i := len(h.cleanupFuncs) - 1; i >= 0; i-- {
		h.cleanupFuncs[i]()
	}
}

// OnCleanup registers a function to be called during cleanup.
func (h *Harness) OnCleanup(fn func()) {
	h.cleanupFuncs = append(h.cleanupFuncs, fn)
}

// WriteAction writes an executable action into the harness flow.
func (h *Harness) WriteAction(name, body string) string {
	h.t.Helper()
	path := filepath.Join(h.UseCasesDir, FlowName, name)
	testutil.RequireFile(h.t, path, body)
	if err := os.Chmod(path, 0755); err != nil {
		h.t.Fatalf("chmod %s: %v", path, err)
	}
	return path
}

// WritePayload writes a ticket payload for the harness flow and returns its path.
func (h *Harness) WritePayload(number string) string {
	h.t.Helper()
	path := filepath.Join(h.TempDir, number+".json")
	testutil.RequireFile(h.t, path, string(testutil.SamplePayload(number, Classification)))
	return path
}

// Path returns a path inside the harness directory.
func (h *Harness) Path(elem ...string) string {
	return filepath.Join(append([]string{h.TempDir}, elem...)...)
}

// Env returns environment variables for subprocess execution.
func (h *Harness) Env() []string {
	return append(os.Environ(),
		"HOME="+h.Path("home"),
		"SERVICENOW_USERNAME=remedy",
		"SERVICENOW_PASSWORD=secret",
	)
}

// LoadRun reads a run record straight from its file. It never opens a
// store, so it cannot interfere with a live process.
func (h *Harness) LoadRun(id string) (*types.RunRecord, error) {
	data, err := os.ReadFile(filepath.Join(h.StateDir, "runs", id+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("read run: %w", err)
	}
	var rec types.RunRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &rec, nil
}

// Watch returns a RunWatch for a run identifier.
func (h *Harness) Watch(id string) *RunWatch {
	return &RunWatch{ID: id, harness: h}
}
