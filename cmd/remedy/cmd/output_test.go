package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"filippo.io/age"

	"github.com/meow-stack/remedy/internal/archive"
	"github.com/meow-stack/remedy/internal/testutil"
)

func TestOutputCmdFlags(t *testing.T) {
	for _, name := range []string{"identity", "json"} {
		if outputCmd.Flags().Lookup(name) == nil {
			t.Errorf("--%s flag not found", name)
		}
	}
}

func TestOutput_LocalArchive(t *testing.T) {
	actions := map[string]string{
		"01_reset.sh": "echo 'resetting' >&2\n" + testutil.ShellAction(testutil.SuccessEnvelope("password reset", nil), 0),
	}
	p := newProject(t, actions, "\n[archive]\nbackend = \"local\"\n")
	if out, err := execute(t, p.Dir, "run", p.Payload); err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}

	t.Run("text", func(t *testing.T) {
		out, err := execute(t, p.Dir, "output", "task_RITM001", "0")
		if err != nil {
			t.Fatalf("output failed: %v\n%s", err, out)
		}
		testutil.AssertContains(t, out, "01_reset.sh")
		testutil.AssertContains(t, out, "--- stdout ---")
		testutil.AssertContains(t, out, "password reset")
		testutil.AssertContains(t, out, "resetting")
	})

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, p.Dir, "output", "task_RITM001", "0", "--json")
		if err != nil {
			t.Fatalf("output failed: %v", err)
		}
		var entry archive.Entry
		if err := json.Unmarshal([]byte(out), &entry); err != nil {
			t.Fatalf("output is not JSON: %v\n%s", err, out)
		}
		if entry.RunID != "task_RITM001" || entry.Index != 0 || entry.ExitCode != 0 {
			t.Errorf("entry = %+v", entry)
		}
	})

	t.Run("missing step", func(t *testing.T) {
		_, err := execute(t, p.Dir, "output", "task_RITM001", "5")
		if code := exitCode(t, err); code != ExitNotFound {
			t.Errorf("expected exit %d, got %d", ExitNotFound, code)
		}
	})

	t.Run("unknown run", func(t *testing.T) {
		_, err := execute(t, p.Dir, "output", "task_NOPE", "0")
		if code := exitCode(t, err); code != ExitNotFound {
			t.Errorf("expected exit %d, got %d", ExitNotFound, code)
		}
	})

	t.Run("bad index", func(t *testing.T) {
		if _, err := execute(t, p.Dir, "output", "task_RITM001", "first"); err == nil {
			t.Error("expected error for a non-numeric step index")
		}
	})
}

func TestOutput_EncryptedArchive(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	p := newProject(t, successActions(), fmt.Sprintf("\n[archive]\nbackend = \"local\"\nrecipients = [%q]\n", identity.Recipient().String()))
	keyFile := filepath.Join(p.Dir, "ops.key")
	testutil.RequireFile(t, keyFile, identity.String()+"\n")

	if out, err := execute(t, p.Dir, "run", p.Payload); err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}

	if _, err := execute(t, p.Dir, "output", "task_RITM001", "0"); err == nil {
		t.Error("expected error reading an encrypted entry without an identity")
	}

	out, err := execute(t, p.Dir, "output", "task_RITM001", "0", "--identity", keyFile)
	if err != nil {
		t.Fatalf("output --identity failed: %v", err)
	}
	testutil.AssertContains(t, out, "password reset")
}

func TestOutput_IdentityFromConfig(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	p := newProject(t, successActions(), fmt.Sprintf("\n[archive]\nbackend = \"local\"\nrecipients = [%q]\nidentity_file = \"ops.key\"\n", identity.Recipient().String()))
	testutil.RequireFile(t, filepath.Join(p.Dir, "ops.key"), identity.String()+"\n")

	if out, err := execute(t, p.Dir, "run", p.Payload); err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	out, err := execute(t, p.Dir, "output", "task_RITM001", "0")
	if err != nil {
		t.Fatalf("output failed: %v", err)
	}
	testutil.AssertContains(t, out, "password reset")
}

func TestOutput_ArchiveDisabled(t *testing.T) {
	p := newProject(t, successActions())
	if out, err := execute(t, p.Dir, "run", p.Payload); err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	_, err := execute(t, p.Dir, "output", "task_RITM001", "0")
	if code := exitCode(t, err); code != ExitNotFound {
		t.Errorf("step without archived output should exit %d, got %d", ExitNotFound, code)
	}
}
