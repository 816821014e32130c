package runner

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/meow-stack/remedy/internal/errors"
	"github.com/meow-stack/remedy/internal/testutil"
	"github.com/meow-stack/remedy/internal/types"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	cfg := testutil.NewTestConfig(t)
	cfg.Runner.Shell = "/bin/sh"
	return New(cfg.Runner)
}

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	testutil.RequireFile(t, path, body)
	return path
}

func testInput() Input {
	return Input{
		Payload: map[string]any{
			"result": []any{map[string]any{"number": "SCTASK0010001", "sys_id": "abc"}},
		},
		Variables: map[string]any{"reassignment_group": "iam-l2", "count": 2},
	}
}

// fakeInterpreter records its argv, one argument per line, and prints a
// success envelope.
func fakeInterpreter(t *testing.T) (bin, argsFile string) {
	t.Helper()
	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args")
	bin = filepath.Join(dir, "interp")
	testutil.RequireFile(t, bin, "#!/bin/sh\nfor a in \"$@\"; do printf '%s\\n' \"$a\"; done > "+argsFile+"\necho '{\"Status\":\"Success\"}'\n")
	if err := os.Chmod(bin, 0755); err != nil {
		t.Fatal(err)
	}
	return bin, argsFile
}

func readArgs(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading args: %v", err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		path string
		want Kind
		ok   bool
	}{
		{"1 - create.py", KindPython, true},
		{"2 - notify.js", KindNode, true},
		{"3 - update.PS1", KindPowerShell, true},
		{"4 - cleanup.sh", KindShell, true},
		{"5 - readme.txt", "", false},
		{"noext", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := KindOf(tt.path)
			if got != tt.want || ok != tt.ok {
				t.Errorf("KindOf(%q) = %q, %v; want %q, %v", tt.path, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestRun_NotExecutable(t *testing.T) {
	r := newTestRunner(t)

	t.Run("unsupported suffix", func(t *testing.T) {
		path := writeScript(t, "notes.txt", "hello")
		_, err := r.Run(context.Background(), path, testInput())
		testutil.AssertErrorCode(t, err, errors.CodeActionNotExecutable)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := r.Run(context.Background(), filepath.Join(t.TempDir(), "gone.sh"), testInput())
		testutil.AssertErrorCode(t, err, errors.CodeActionNotExecutable)
	})

	t.Run("directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "dir.sh")
		if err := os.Mkdir(dir, 0755); err != nil {
			t.Fatal(err)
		}
		_, err := r.Run(context.Background(), dir, testInput())
		testutil.AssertErrorCode(t, err, errors.CodeActionNotExecutable)
	})
}

func TestRun_ShellSuccessJSON(t *testing.T) {
	r := newTestRunner(t)
	path := writeScript(t, "ok.sh", `echo '{"Status":"Success","OutputMessage":"done","group_id":"g-1"}'`)

	result, err := r.Run(context.Background(), path, testInput())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Status != types.ActionSuccess || result.ExitCode != 0 {
		t.Fatalf("result = %+v", result)
	}
	out, ok := result.Outputs.(map[string]any)
	if !ok {
		t.Fatalf("Outputs = %T, want object", result.Outputs)
	}
	if out["group_id"] != "g-1" || out["OutputMessage"] != "done" {
		t.Errorf("Outputs = %v", out)
	}
}

func TestRun_ShellTextAndEmptyOutput(t *testing.T) {
	r := newTestRunner(t)

	t.Run("text", func(t *testing.T) {
		path := writeScript(t, "text.sh", "printf 'line one\\r\\nline two\\r\\n'")
		result, err := r.Run(context.Background(), path, testInput())
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.Outputs != "line one line two" {
			t.Errorf("Outputs = %q, want CRLF folded and trimmed", result.Outputs)
		}
	})

	t.Run("empty", func(t *testing.T) {
		path := writeScript(t, "quiet.sh", "true")
		result, err := r.Run(context.Background(), path, testInput())
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.Status != types.ActionSuccess || result.Outputs != nil {
			t.Errorf("result = %+v, want success with nil outputs", result)
		}
	})
}

func TestRun_NonZeroExit(t *testing.T) {
	r := newTestRunner(t)

	t.Run("stderr becomes the message", func(t *testing.T) {
		path := writeScript(t, "fail.sh", "echo 'group already exists' >&2\nexit 3")
		result, err := r.Run(context.Background(), path, testInput())
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.Status != types.ActionError || result.ExitCode != 3 {
			t.Fatalf("result = %+v", result)
		}
		if result.ErrorMessage != "group already exists" {
			t.Errorf("ErrorMessage = %q", result.ErrorMessage)
		}
	})

	t.Run("silent failure", func(t *testing.T) {
		path := writeScript(t, "silent.sh", "exit 7")
		result, err := r.Run(context.Background(), path, testInput())
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.ErrorMessage != "action exited with code 7" {
			t.Errorf("ErrorMessage = %q", result.ErrorMessage)
		}
	})

	t.Run("success envelope does not override exit code", func(t *testing.T) {
		path := writeScript(t, "liar.sh", `echo '{"Status":"Success","OutputMessage":"ok"}'`+"\nexit 1")
		result, err := r.Run(context.Background(), path, testInput())
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.Status != types.ActionError {
			t.Errorf("Status = %s, want error", result.Status)
		}
	})
}

func TestRun_ShellPreamble(t *testing.T) {
	r := newTestRunner(t)
	in := testInput()
	in.Variables["owner"] = "O'Brien"

	path := writeScript(t, "env.sh", `printf '%s\n%s\n%s\n' "$TASK_RESPONSE" "$SCTASK_RESPONSE" "$ADDITIONAL_VARIABLES" > "$OUT"`+"\n")
	out := filepath.Join(t.TempDir(), "out")
	t.Setenv("OUT", out)

	result, err := r.Run(context.Background(), path, in)
	if err != nil || result.Status != types.ActionSuccess {
		t.Fatalf("Run = %+v, %v", result, err)
	}

	lines := readArgs(t, out)
	if len(lines) != 3 {
		t.Fatalf("got %d lines: %v", len(lines), lines)
	}
	var payload, sctask, vars any
	for i, dst := range []*any{&payload, &sctask, &vars} {
		if err := json.Unmarshal([]byte(lines[i]), dst); err != nil {
			t.Fatalf("line %d not JSON: %q", i, lines[i])
		}
	}
	if !reflect.DeepEqual(sctask, payload.(map[string]any)["result"]) {
		t.Errorf("SCTASK_RESPONSE = %v", sctask)
	}
	if vars.(map[string]any)["owner"] != "O'Brien" {
		t.Errorf("ADDITIONAL_VARIABLES = %v, quoting lost the apostrophe", vars)
	}
}

func TestRun_SingleDocumentConvention(t *testing.T) {
	for _, kind := range []Kind{KindPython, KindNode} {
		t.Run(string(kind), func(t *testing.T) {
			bin, argsFile := fakeInterpreter(t)
			r := newTestRunner(t)
			r.Interpreters.Python = bin
			r.Interpreters.Node = bin

			name := "action.py"
			if kind == KindNode {
				name = "action.js"
			}
			path := writeScript(t, name, "unused")

			result, err := r.Run(context.Background(), path, testInput())
			if err != nil || result.Status != types.ActionSuccess {
				t.Fatalf("Run = %+v, %v", result, err)
			}

			args := readArgs(t, argsFile)
			if len(args) != 2 || args[0] != path {
				t.Fatalf("argv = %v, want [path document]", args)
			}
			var doc map[string]any
			if err := json.Unmarshal([]byte(args[1]), &doc); err != nil {
				t.Fatalf("document not JSON: %v", err)
			}
			if doc["reassignment_group"] != "iam-l2" || doc["count"] != float64(2) {
				t.Errorf("variables not flattened: %v", doc)
			}
			if _, ok := doc[TaskResponseKey].(map[string]any)["result"]; !ok {
				t.Errorf("task_response missing payload: %v", doc)
			}
		})
	}
}

func TestRun_PowerShellConvention(t *testing.T) {
	bin, argsFile := fakeInterpreter(t)
	r := newTestRunner(t)
	r.Interpreters.PowerShell = bin
	path := writeScript(t, "update.ps1", "unused")

	result, err := r.Run(context.Background(), path, testInput())
	if err != nil || result.Status != types.ActionSuccess {
		t.Fatalf("Run = %+v, %v", result, err)
	}

	args := readArgs(t, argsFile)
	want := []string{"-NoProfile", "-NonInteractive", "-File", path, "-TaskResponse"}
	if len(args) != 10 || !reflect.DeepEqual(args[:5], want) {
		t.Fatalf("argv = %v", args)
	}
	// Variables follow the payload in key order.
	if !reflect.DeepEqual(args[6:], []string{"-count", "2", "-reassignment_group", "iam-l2"}) {
		t.Errorf("variable flags = %v", args[6:])
	}
}

func TestRun_Timeout(t *testing.T) {
	r := newTestRunner(t)
	r.Timeout = 200 * time.Millisecond
	r.KillGrace = 100 * time.Millisecond
	path := writeScript(t, "slow.sh", "trap '' TERM\nsleep 30")

	start := time.Now()
	result, err := r.Run(context.Background(), path, testInput())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run took %v, process was not killed", elapsed)
	}
	if !result.TimedOut || result.Status != types.ActionError {
		t.Errorf("result = %+v, want timed out error", result)
	}
	testutil.AssertContains(t, result.ErrorMessage, "timed out after 200ms")
}

func TestRun_ContextCancelled(t *testing.T) {
	r := newTestRunner(t)
	path := writeScript(t, "slow.sh", "sleep 30")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	result, err := r.Run(ctx, path, testInput())
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if result == nil || result.Status != types.ActionError || result.TimedOut {
		t.Errorf("result = %+v", result)
	}
}

func TestRun_MissingInterpreter(t *testing.T) {
	r := newTestRunner(t)
	r.Interpreters.Python = filepath.Join(t.TempDir(), "no-python")
	path := writeScript(t, "a.py", "print(1)")

	result, err := r.Run(context.Background(), path, testInput())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Status != types.ActionError {
		t.Errorf("Status = %s, want error", result.Status)
	}
	testutil.AssertContains(t, result.ErrorMessage, "starting action")
}

func TestRun_RealPython(t *testing.T) {
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}
	r := newTestRunner(t)
	r.Interpreters.Python = python
	path := writeScript(t, "echo.py", `import json, sys
doc = json.loads(sys.argv[1])
print(json.dumps({"Status": "Success", "OutputMessage": doc["task_response"]["result"][0]["number"]}))
`)

	result, err := r.Run(context.Background(), path, testInput())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	out, _ := result.Outputs.(map[string]any)
	if out["OutputMessage"] != "SCTASK0010001" {
		t.Errorf("Outputs = %v (stderr %q)", result.Outputs, result.Stderr)
	}
}

func TestDigest(t *testing.T) {
	a := writeScript(t, "a.sh", "echo one")
	b := writeScript(t, "b.sh", "echo two")

	da, err := Digest(a)
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	if len(da) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(da))
	}
	again, _ := Digest(a)
	db, _ := Digest(b)
	if da != again || da == db {
		t.Errorf("digests: a=%s again=%s b=%s", da, again, db)
	}
	if _, err := Digest(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Digest of missing file should fail")
	}
}
