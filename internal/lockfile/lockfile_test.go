package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir, JobsLockName)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	path := filepath.Join(dir, JobsLockName)
	if lock.Path() != path {
		t.Errorf("unexpected path %s", lock.Path())
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read lock file: %v", err)
	}
	if want := fmt.Sprintf("pid=%d\n", os.Getpid()); string(content) != want {
		t.Errorf("Lock file content mismatch. Expected: %q, Got: %q", want, string(content))
	}

	if err := lock.Release(); err != nil {
		t.Errorf("Failed to release lock: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Lock file should be removed after release")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Second release should be a no-op: %v", err)
	}
}

func TestAcquireConflict(t *testing.T) {
	dir := t.TempDir()
	first, err := Acquire(dir, JobsLockName)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Release()

	second, err := Acquire(dir, JobsLockName)
	if err == nil {
		second.Release()
		t.Fatal("second acquisition should fail")
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected LockError, got %T", err)
	}
	if !strings.Contains(err.Error(), "held by another runner") || !strings.Contains(lockErr.Holder, "running") {
		t.Errorf("unexpected error %q", err.Error())
	}

	// a different name in the same directory is independent
	other, err := Acquire(dir, ServerLockName)
	if err != nil {
		t.Fatalf("independent lock failed: %v", err)
	}
	other.Release()
}

func TestWithLock(t *testing.T) {
	dir := t.TempDir()
	ran := false
	if err := WithLock(dir, JobsLockName, func() error { ran = true; return nil }); err != nil || !ran {
		t.Fatalf("WithLock did not run fn: %v", err)
	}

	boom := errors.New("boom")
	if err := WithLock(dir, JobsLockName, func() error { return boom }); !errors.Is(err, boom) {
		t.Errorf("expected fn error, got %v", err)
	}

	held, err := Acquire(dir, JobsLockName)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()
	if err := WithLock(dir, JobsLockName, func() error { t.Error("must not run"); return nil }); err == nil {
		t.Error("expected lock error while held")
	}
}

func TestAcquireCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state", "nested")
	lock, err := Acquire(dir, JobsLockName)
	if err != nil {
		t.Fatalf("Should create directory and acquire lock: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("directory not created: %v", err)
	}
}

func TestParsePID(t *testing.T) {
	tests := []struct {
		content string
		want    int
	}{
		{"pid=12345\n", 12345},
		{"pid=67890\nother=info", 67890},
		{"other=info", 0},
		{"", 0},
		{"pid=abc", 0},
	}
	for _, tt := range tests {
		if got := parsePID(tt.content); got != tt.want {
			t.Errorf("parsePID(%q) = %d, want %d", tt.content, got, tt.want)
		}
	}
}

func TestProcessAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Error("own process should be alive")
	}
}
