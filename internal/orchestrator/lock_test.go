package orchestrator

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"testing"
)

func TestRunLock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "locks")

	lock, err := AcquireRunLock(dir, "task_1")
	if err != nil {
		t.Fatalf("AcquireRunLock failed: %v", err)
	}
	if !IsRunLocked(dir, "task_1") {
		t.Error("IsRunLocked = false while held")
	}
	if pid, ok := lockHolder(dir, "task_1"); !ok || pid != os.Getpid() {
		t.Errorf("lockHolder = %d, %v, want %d", pid, ok, os.Getpid())
	}

	if _, err := AcquireRunLock(dir, "task_1"); err == nil {
		t.Error("second AcquireRunLock should fail")
	}

	other, err := AcquireRunLock(dir, "task_2")
	if err != nil {
		t.Fatalf("lock on another run failed: %v", err)
	}
	other.Release()

	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release failed: %v", err)
	}
	if IsRunLocked(dir, "task_1") {
		t.Error("IsRunLocked = true after release")
	}
	if _, err := os.Stat(filepath.Join(dir, "task_1.lock")); err != nil {
		t.Errorf("lock file should survive release: %v", err)
	}

	again, err := AcquireRunLock(dir, "task_1")
	if err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	again.Release()
}

func TestRunLock_ReleaseKeepsSingleHolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "locks")

	first, err := AcquireRunLock(dir, "task_1")
	if err != nil {
		t.Fatal(err)
	}
	// A second process opened the lock file and is about to flock it.
	waiting, err := os.OpenFile(filepath.Join(dir, "task_1.lock"), os.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer waiting.Close()

	first.Release()
	if err := syscall.Flock(int(waiting.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		t.Fatalf("waiting process could not lock after release: %v", err)
	}

	if third, err := AcquireRunLock(dir, "task_1"); err == nil {
		third.Release()
		t.Fatal("a third process took the run while the waiting process holds it")
	}
}

func TestIsRunLocked_DoesNotBlockAcquire(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "locks")
	seed, err := AcquireRunLock(dir, "task_1")
	if err != nil {
		t.Fatal(err)
	}
	seed.Release()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				IsRunLocked(dir, "task_1")
			}
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	for i := 0; i < 200; i++ {
		lock, err := AcquireRunLock(dir, "task_1")
		if err != nil {
			t.Fatalf("acquire %d rejected while only status checks ran: %v", i, err)
		}
		lock.Release()
	}
}

func TestIsRunLocked_DeadHolder(t *testing.T) {
	dir := t.TempDir()
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Skipf("cannot start a child process: %v", err)
	}
	// A holder that crashed leaves its PID in the lock file.
	pid := strconv.Itoa(cmd.Process.Pid)
	if err := os.WriteFile(filepath.Join(dir, "task_1.lock"), []byte(pid), 0644); err != nil {
		t.Fatal(err)
	}
	if IsRunLocked(dir, "task_1") {
		t.Error("IsRunLocked = true for an exited holder")
	}

	if err := os.WriteFile(filepath.Join(dir, "task_2.lock"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	if IsRunLocked(dir, "task_2") {
		t.Error("IsRunLocked = true for an empty lock file")
	}
}
