package catalog

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/meow-stack/remedy/internal/errors"
	"github.com/meow-stack/remedy/internal/testutil"
)

func TestLoad_YAML(t *testing.T) {
	ws := testutil.NewWorkspace(t)
	path := ws.WriteCatalog(t,
		testutil.FlowEntry{Classification: "Security Group Creation", Name: "SecurityGroupCreation", Group: "iam-l2"},
		testutil.FlowEntry{Classification: "Mailbox Access", Name: "MailboxAccess", Group: "messaging"},
	)

	c, err := Load(path, ws.Config.Paths.UseCasesDir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	flow, err := c.Resolve("Security Group Creation")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	want := Flow{Classification: "Security Group Creation", Name: "SecurityGroupCreation", ReassignmentGroup: "iam-l2"}
	if flow != want {
		t.Errorf("Resolve = %+v, want %+v", flow, want)
	}
	if len(c.Flows()) != 2 {
		t.Errorf("Flows() = %d entries, want 2", len(c.Flows()))
	}
}

func TestLoad_JSONC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flows.jsonc")
	testutil.RequireFile(t, path, `{
  // onboarding flows
  "flows": [
    {
      "short_description": "Mailbox Access",
      "flow_name": "MailboxAccess",
      "reassignment_group": "messaging", /* trailing comma below */
    },
  ],
}`)

	c, err := Load(path, dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	flow, err := c.Resolve("Mailbox Access")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if flow.Name != "MailboxAccess" || flow.ReassignmentGroup != "messaging" {
		t.Errorf("flow = %+v", flow)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		wantCode string
	}{
		{"missing file", "", "", errors.CodeConfigMissing},
		{"malformed yaml", "flows.yml", "flows: [\n", errors.CodeConfigInvalid},
		{"malformed json", "flows.json", `{"flows": [`, errors.CodeConfigInvalid},
		{"unknown format", "flows.ini", "[flows]", errors.CodeConfigInvalid},
		{"empty list", "flows.yml", "flows: []\n", errors.CodeConfigInvalid},
		{"no flows key", "flows.yml", "other: 1\n", errors.CodeConfigInvalid},
		{"missing flow_name", "flows.yml", "flows:\n  - short_description: a\n    reassignment_group: g\n", errors.CodeConfigInvalid},
		{"missing group", "flows.yml", "flows:\n  - short_description: a\n    flow_name: A\n", errors.CodeConfigInvalid},
		{"missing classification", "flows.yml", "flows:\n  - flow_name: A\n    reassignment_group: g\n", errors.CodeConfigInvalid},
		{"path in flow_name", "flows.yml", "flows:\n  - short_description: a\n    flow_name: ../A\n    reassignment_group: g\n", errors.CodeConfigInvalid},
		{"duplicate classification", "flows.yml", "flows:\n" +
			"  - {short_description: a, flow_name: A, reassignment_group: g}\n" +
			"  - {short_description: a, flow_name: B, reassignment_group: g}\n", errors.CodeConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "absent.yml")
			if tt.file != "" {
				path = filepath.Join(dir, tt.file)
				testutil.RequireFile(t, path, tt.content)
			}

			_, err := Load(path, dir)
			testutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestResolve_Unknown(t *testing.T) {
	ws := testutil.NewWorkspace(t)
	path := ws.WriteCatalog(t, testutil.FlowEntry{Classification: "A", Name: "FlowA", Group: "g"})

	c, err := Load(path, ws.Config.Paths.UseCasesDir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	for _, classification := range []string{"B", "a", "A ", ""} {
		_, err := c.Resolve(classification)
		testutil.AssertErrorCode(t, err, errors.CodeFlowNotFound)
	}
}

func TestActions_Ordered(t *testing.T) {
	ws := testutil.NewWorkspace(t)
	path := ws.WriteCatalog(t, testutil.FlowEntry{Classification: "A", Name: "FlowA", Group: "g"})
	ws.WriteAction(t, "FlowA", "3 - notify.sh", "echo '{}'")
	ws.WriteAction(t, "FlowA", "1 - create.py", "print('{}')")
	ws.WriteAction(t, "FlowA", "2 - verify.ps1", "Write-Output '{}'")
	ws.WriteAction(t, "FlowA", ".hidden.sh", "exit 1")
	if err := os.Mkdir(filepath.Join(ws.Config.Paths.UseCasesDir, "FlowA", "lib"), 0755); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path, ws.Config.Paths.UseCasesDir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Listing is deterministic across calls.
	for i := 0; i < 3; i++ {
		actions, err := c.Actions("FlowA")
		if err != nil {
			t.Fatalf("Actions failed: %v", err)
		}
		want := []string{"1 - create.py", "2 - verify.ps1", "3 - notify.sh"}
		if !reflect.DeepEqual(actions, want) {
			t.Errorf("Actions = %v, want %v", actions, want)
		}
	}

	if got := c.ActionPath("FlowA", "1 - create.py"); got != filepath.Join(ws.Config.Paths.UseCasesDir, "FlowA", "1 - create.py") {
		t.Errorf("ActionPath = %s", got)
	}
}

func TestActions_Unavailable(t *testing.T) {
	ws := testutil.NewWorkspace(t)
	path := ws.WriteCatalog(t,
		testutil.FlowEntry{Classification: "A", Name: "Missing", Group: "g"},
		testutil.FlowEntry{Classification: "B", Name: "Empty", Group: "g"},
	)
	ws.MakeFlowDir(t, "Empty")

	c, err := Load(path, ws.Config.Paths.UseCasesDir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	t.Run("missing directory", func(t *testing.T) {
		_, err := c.Actions("Missing")
		testutil.AssertErrorCode(t, err, errors.CodeActionListUnavailable)
	})

	t.Run("empty directory", func(t *testing.T) {
		_, err := c.Actions("Empty")
		testutil.AssertErrorCode(t, err, errors.CodeActionListUnavailable)
	})

	t.Run("validate reports both", func(t *testing.T) {
		err := c.Validate()
		testutil.AssertErrorCode(t, err, errors.CodeConfigInvalid)
		testutil.AssertContains(t, err.Error(), "Missing")
		testutil.AssertContains(t, err.Error(), "Empty")
	})

	t.Run("validate passes once populated", func(t *testing.T) {
		ws.WriteAction(t, "Missing", "1.sh", "true")
		ws.WriteAction(t, "Empty", "1.sh", "true")
		if err := c.Validate(); err != nil {
			t.Errorf("Validate failed: %v", err)
		}
	})
}
