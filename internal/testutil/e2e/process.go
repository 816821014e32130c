package e2e

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// RemedyProcess represents a remedy invocation running in the background.
// It provides methods to control and observe the process for crash testing.
type RemedyProcess struct {
	cmd    *exec.Cmd
	pid    int
	stdout *bytes.Buffer
	stderr *bytes.Buffer

	// exited is closed when the process exits, for non-blocking checks.
	exited chan struct{}
	// exitErr stores the error from cmd.Wait() for multiple reads.
	exitErr error
}

// Kill forcefully terminates the process (SIGKILL).
func (p *RemedyProcess) Kill() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return fmt.Errorf("process not running")
	}
	return p.cmd.Process.Kill()
}

// Signal sends a signal to the process.
func (p *RemedyProcess) Signal(sig os.Signal) error {
	if p.cmd == nil || p.cmd.Process == nil {
		return fmt.Errorf("process not running")
	}
	return p.cmd.Process.Signal(sig)
}

// Wait blocks until the process exits and returns the exit error.
func (p *RemedyProcess) Wait() error {
	<-p.exited
	return p.exitErr
}

// WaitWithTimeout waits for the process to exit with a timeout.
func (p *RemedyProcess) WaitWithTimeout(timeout time.Duration) error {
	select {
	case <-p.exited:
		return p.exitErr
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for process to exit")
	}
}

// IsDone returns true if the process has exited.
func (p *RemedyProcess) IsDone() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code once the process is done, or -1.
func (p *RemedyProcess) ExitCode() int {
	if !p.IsDone() || p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// PID returns the process ID.
func (p *RemedyProcess) PID() int {
	return p.pid
}

// Stdout returns the captured stdout output.
func (p *RemedyProcess) Stdout() string {
	return p.stdout.String()
}

// Stderr returns the captured stderr output.
func (p *RemedyProcess) Stderr() string {
	return p.stderr.String()
}

// Start runs remedy in the background. The process runs until it exits
// or is killed; cleanup kills it if the test did not.
func (h *Harness) Start(args ...string) (*RemedyProcess, error) {
	cmd := exec.Command(h.Bin, args...)
	cmd.Dir = h.TempDir
	cmd.Env = h.Env()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting remedy: %w", err)
	}

	proc := &RemedyProcess{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		stdout: &stdout,
		stderr: &stderr,
		exited: make(chan struct{}),
	}

	go func() {
		proc.exitErr = cmd.Wait()
		close(proc.exited)
	}()

	h.OnCleanup(func() {
		if !proc.IsDone() {
			_ = proc.Kill()
			<-proc.exited
		}
	})

	return proc, nil
}

// Run executes remedy to completion and returns stdout, stderr and the
// exit error.
func (h *Harness) Run(args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, h.Bin, args...)
	cmd.Dir = h.TempDir
	cmd.Env = h.Env()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}
