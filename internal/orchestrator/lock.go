package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// RunLock is an exclusive cross-process lock on one run identifier.
// The lock file is never removed, so every contender locks the same inode.
type RunLock struct {
	runID    string
	lockFile *os.File
}

// AcquireRunLock takes the lock for runID under lockDir without blocking
// and records the holder's PID in the lock file.
func AcquireRunLock(lockDir, runID string) (*RunLock, error) {
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}

	lockFile, err := os.OpenFile(lockPath(lockDir, runID), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening run lock file: %w", err)
	}

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("run %s is locked by another process: %w", runID, err)
	}

	if err := lockFile.Truncate(0); err == nil {
		lockFile.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0)
	}
	return &RunLock{runID: runID, lockFile: lockFile}, nil
}

// Release clears the holder PID and releases the lock.
func (l *RunLock) Release() error {
	if l.lockFile == nil {
		return nil
	}
	l.lockFile.Truncate(0)
	syscall.Flock(int(l.lockFile.Fd()), syscall.LOCK_UN)
	err := l.lockFile.Close()
	l.lockFile = nil
	return err
}

// IsRunLocked reports whether a live process holds the lock for runID.
// It only reads the lock file, so it never competes with an acquirer.
// A holder that crashed leaves its PID behind; that PID is checked for
// liveness.
func IsRunLocked(lockDir, runID string) bool {
	pid, ok := lockHolder(lockDir, runID)
	if !ok {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// lockHolder returns the PID recorded in the lock file of runID.
func lockHolder(lockDir, runID string) (int, bool) {
	data, err := os.ReadFile(lockPath(lockDir, runID))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func lockPath(lockDir, runID string) string {
	return filepath.Join(lockDir, runID+".lock")
}
