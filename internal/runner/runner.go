// Package runner executes action scripts and captures their result.
//
// Every action is a file whose suffix selects a fixed calling convention:
//
//	.py   <python> <path> <document>
//	.js   <node> <path> <document>
//	.ps1  <pwsh> -NoProfile -NonInteractive -File <path> -TaskResponse <payload> -<Key> <value>...
//	.sh   <shell> -c <preamble><body>
//
// The document is a single JSON object holding the run variables at top
// level and the ticket payload under "task_response". PowerShell actions
// get one flag per variable, in key order, with non-string values JSON
// encoded. Shell actions get TASK_RESPONSE, SCTASK_RESPONSE and
// ADDITIONAL_VARIABLES exported ahead of the script body.
//
// Exit code 0 is success and stdout is decoded as JSON, falling back to
// the raw text. Any other exit code is an error carrying stderr.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/meow-stack/remedy/internal/config"
	"github.com/meow-stack/remedy/internal/errors"
	"github.com/meow-stack/remedy/internal/types"
)

// Runner executes actions. It never retries.
type Runner struct {
	Interpreters Interpreters

	// Timeout bounds each action's wall-clock time. Zero means no limit.
	Timeout time.Duration

	// KillGrace is how long a process group gets between SIGTERM and SIGKILL.
	KillGrace time.Duration

	// Dir is the working directory actions start in. Empty inherits ours.
	Dir string
}

// New creates a Runner from configuration.
func New(cfg config.RunnerConfig) *Runner {
	return &Runner{
		Interpreters: Interpreters{
			Python:     cfg.Python,
			Node:       cfg.Node,
			PowerShell: cfg.PowerShell,
			Shell:      cfg.Shell,
		},
		Timeout:   cfg.ActionTimeout,
		KillGrace: cfg.KillGrace,
	}
}

// Run executes the action at path.
//
// A missing file or unsupported suffix fails with ActionNotExecutable
// before anything is spawned. Process failures and timeouts come back as
// an error ActionResult with a nil error. When ctx itself is cancelled the
// partial result is returned together with ctx.Err().
func (r *Runner) Run(ctx context.Context, path string, in Input) (*types.ActionResult, error) {
	kind, ok := KindOf(path)
	if !ok {
		return nil, errors.ActionNotExecutable(path, "unsupported action kind")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.ActionNotExecutable(path, "file not found").WithCause(err)
	}
	if !info.Mode().IsRegular() {
		return nil, errors.ActionNotExecutable(path, "not a regular file")
	}

	name, args, err := kind.command(r.Interpreters, path, in)
	if err != nil {
		return nil, errors.ActionNotExecutable(path, err.Error()).WithCause(err)
	}

	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	// Not CommandContext: cancellation is handled here so the whole
	// process group gets SIGTERM before SIGKILL.
	cmd := exec.Command(name, args...)
	cmd.Dir = r.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return &types.ActionResult{
			Status:       types.ActionError,
			ErrorMessage: fmt.Sprintf("starting action: %v", err),
			ExitCode:     -1,
		}, nil
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	result := &types.ActionResult{}
	var waitErr error
	select {
	case <-runCtx.Done():
		r.terminate(cmd, done)
		result.ExitCode = -1
		if ctx.Err() == nil {
			result.TimedOut = true
		}
	case waitErr = <-done:
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	result.Duration = time.Since(start)
	result.Stdout = clean(stdout.String())
	result.Stderr = clean(stderr.String())

	switch {
	case result.TimedOut:
		result.Status = types.ActionError
		result.ErrorMessage = fmt.Sprintf("action timed out after %s", r.Timeout)
		return result, nil
	case ctx.Err() != nil:
		result.Status = types.ActionError
		result.ErrorMessage = fmt.Sprintf("action cancelled: %v", ctx.Err())
		return result, ctx.Err()
	case waitErr != nil && result.ExitCode == 0:
		// Wait failed without an exit status (e.g. I/O copy error).
		result.Status = types.ActionError
		result.ErrorMessage = waitErr.Error()
		return result, nil
	case result.ExitCode != 0:
		result.Status = types.ActionError
		result.ErrorMessage = result.Stderr
		if result.ErrorMessage == "" {
			result.ErrorMessage = fmt.Sprintf("action exited with code %d", result.ExitCode)
		}
		return result, nil
	}

	result.Status = types.ActionSuccess
	result.Outputs = decode(result.Stdout)
	return result, nil
}

// terminate stops the process group, escalating to SIGKILL after KillGrace.
func (r *Runner) terminate(cmd *exec.Cmd, done <-chan error) {
	if cmd.Process == nil {
		return
	}
	grace := r.KillGrace
	if grace <= 0 {
		grace = 3 * time.Second
	}

	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(grace):
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
	}
}

// clean trims output and folds CRLF line endings into spaces.
func clean(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", " "))
}

// decode parses stdout as JSON. Empty output is nil; anything that is not
// JSON is returned as text.
func decode(stdout string) any {
	if stdout == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(stdout), &v); err != nil {
		return stdout
	}
	return v
}
