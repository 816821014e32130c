// Package testutil provides test infrastructure, fixtures, and helpers for remedy.
package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/meow-stack/remedy/internal/config"
	"github.com/meow-stack/remedy/internal/types"
)

// FlowEntry is one catalog line written by WriteCatalog.
type FlowEntry struct {
	Classification string
	Name           string
	Group          string
}

// Workspace is a throwaway remedy project rooted in a temp directory.
type Workspace struct {
	Root   string
	Config *config.Config
}

// NewWorkspace creates a workspace whose configured paths all live under
// a temporary directory. Action timeouts are disabled and the kill grace
// is short so cancellation tests stay fast.
func NewWorkspace(t *testing.T) *Workspace {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Paths.Catalog = filepath.Join(root, "flow_details.yml")
	cfg.Paths.UseCasesDir = filepath.Join(root, "UseCases")
	cfg.Paths.StateDir = filepath.Join(root, "state")
	cfg.Paths.LogsDir = filepath.Join(root, "logs")
	cfg.Store.SQLitePath = filepath.Join(root, "state", "runs.db")
	cfg.Archive.Dir = filepath.Join(root, "archive")
	cfg.Runner.KillGrace = 200 * time.Millisecond
	cfg.Logging.Level = config.LogLevelDebug

	for _, dir := range []string{cfg.Paths.UseCasesDir, cfg.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}

	return &Workspace{Root: root, Config: cfg}
}

// NewTestConfig returns the configuration of a fresh workspace.
func NewTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return NewWorkspace(t).Config
}

// WriteCatalog writes a YAML catalog with the given flows and returns its path.
func (w *Workspace) WriteCatalog(t *testing.T, flows ...FlowEntry) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("flows:\n")
	for _, f := range flows {
		fmt.Fprintf(&b, "  - short_description: %q\n", f.Classification)
		fmt.Fprintf(&b, "    flow_name: %q\n", f.Name)
		fmt.Fprintf(&b, "    reassignment_group: %q\n", f.Group)
	}
	RequireFile(t, w.Config.Paths.Catalog, b.String())
	return w.Config.Paths.Catalog
}

// WriteAction writes an executable action into a flow directory and
// returns its path.
func (w *Workspace) WriteAction(t *testing.T, flow, name, body string) string {
	t.Helper()
	path := filepath.Join(w.Config.Paths.UseCasesDir, flow, name)
	RequireFile(t, path, body)
	if err := os.Chmod(path, 0755); err != nil {
		t.Fatalf("Failed to chmod %s: %v", path, err)
	}
	return path
}

// MakeFlowDir creates an empty flow directory.
func (w *Workspace) MakeFlowDir(t *testing.T, flow string) string {
	t.Helper()
	dir := filepath.Join(w.Config.Paths.UseCasesDir, flow)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create %s: %v", dir, err)
	}
	return dir
}

// SamplePayload returns a ticket payload document in the shape the
// ticketing system delivers.
func SamplePayload(number, classification string) []byte {
	doc := map[string]any{
		"result": []any{
			map[string]any{
				"number":            number,
				"short_description": classification,
				"sys_class_name":    "sc_task",
				"sys_id":            "sys-" + strings.ToLower(number),
				"description":       "automated request",
			},
		},
	}
	data, _ := json.Marshal(doc)
	return data
}

// NewTestTicket parses SamplePayload into a Ticket.
func NewTestTicket(t *testing.T, number, classification string) *types.Ticket {
	t.Helper()
	ticket, err := types.ParseTicket(SamplePayload(number, classification))
	if err != nil {
		t.Fatalf("ParseTicket failed: %v", err)
	}
	return ticket
}

// ShellAction builds a shell action body that prints stdout and exits with code.
func ShellAction(stdout string, code int) string {
	return fmt.Sprintf("cat <<'REMEDY_EOF'\n%s\nREMEDY_EOF\nexit %d\n", stdout, code)
}

// SuccessEnvelope returns a success envelope with extra output keys.
func SuccessEnvelope(message string, outputs map[string]any) string {
	doc := map[string]any{"Status": "Success", "OutputMessage": message}
	for k, v := range outputs {
		doc[k] = v
	}
	data, _ := json.Marshal(doc)
	return string(data)
}
