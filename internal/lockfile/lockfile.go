// Package lockfile provides flock-based single-runner locks in a state
// directory. Locks are released by the kernel when the process exits, so a
// crashed runner never blocks the next one.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Lock names used by the binaries.
const (
	// JobsLockName guards a batch pass over the record store.
	JobsLockName = "adsjobs.lock"
	// ServerLockName guards the SQLite state of the webhook server.
	ServerLockName = "adsmanager.lock"
)

// Lock is a held exclusive lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the lock named name in dir without blocking. When another
// process holds it, a *LockError describing the holder is returned.
func Acquire(dir, name string) (*Lock, error) {
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lockfile: create %s: %w", dir, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		holder := describeHolder(path)
		slog.Warn("lockfile.Acquire: lock held elsewhere", "path", path, "holder", holder)
		return nil, &LockError{Path: path, Holder: holder, Cause: err}
	}

	if err := f.Truncate(0); err == nil {
		_, err = fmt.Fprintf(f, "pid=%d\n", os.Getpid())
		if err != nil {
			slog.Warn("lockfile.Acquire: could not record pid", "path", path, "error", err)
		}
	}
	slog.Debug("lockfile.Acquire: acquired", "path", path, "pid", os.Getpid())
	return &Lock{file: f, path: path}, nil
}

// Release unlocks and removes the lock file. Calling it twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("lockfile.Release: remove failed", "path", l.path, "error", err)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("lockfile.Release: unlock failed", "path", l.path, "error", err)
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("lockfile: close %s: %w", l.path, err)
	}
	slog.Debug("lockfile.Release: released", "path", l.path)
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// WithLock runs fn while holding the named lock.
func WithLock(dir, name string, fn func() error) error {
	lock, err := Acquire(dir, name)
	if err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}

// LockError reports a lock held by another process.
type LockError struct {
	Path   string
	Holder string
	Cause  error
}

func (e *LockError) Error() string {
	msg := "lockfile: " + e.Path + " is held by another runner"
	if e.Holder != "" {
		msg += " (" + e.Holder + ")"
	}
	return msg
}

func (e *LockError) Unwrap() error { return e.Cause }

func describeHolder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return ""
	}
	pid := parsePID(string(data))
	if pid <= 0 {
		return strings.TrimSpace(string(data))
	}
	if processAlive(pid) {
		return fmt.Sprintf("pid %d, running", pid)
	}
	return fmt.Sprintf("pid %d, not running", pid)
}

// parsePID reads the pid from "pid=NNN" content.
func parsePID(content string) int {
	const prefix = "pid="
	idx := strings.Index(content, prefix)
	if idx < 0 {
		return 0
	}
	rest := content[idx+len(prefix):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	pid, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0
	}
	return pid
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
