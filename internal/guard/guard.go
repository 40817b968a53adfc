// Package guard enforces the single-writer rule across processes.
//
// Before opening the store for writing, a process must acquire the writer
// guard: an advisory lock on a sidecar file next to the database. A second
// writer on the same host fails fast with the holder's identity instead of
// fighting over SQLITE_BUSY.
//
// The guard never removes a lock it does not hold. A stale file left by a
// crashed process is reported, not deleted; on platforms with flock the
// kernel drops the lock with the dead process, so stale files are harmless
// there and an operator decision everywhere else.
package guard

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Guard is a held writer lock. Release it exactly once when the process is
// done writing; Release is idempotent so deferred and explicit calls may
// overlap.
type Guard struct {
	path string
	file *os.File

	mu       sync.Mutex
	released bool
}

// HeldError reports that another process holds the guard.
type HeldError struct {
	Path string
	PID  int
	Host string
}

func (e *HeldError) Error() string {
	if e.PID == 0 {
		return fmt.Sprintf("writer guard %s held by another process", e.Path)
	}
	return fmt.Sprintf("writer guard %s held by pid %d on %s", e.Path, e.PID, e.Host)
}

// Acquire takes the writer guard at path, creating the file if needed.
// Returns a HeldError when another live process owns it.
func Acquire(path string) (*Guard, error) {
	f, err := acquireLock(path)
	if err != nil {
		return nil, err
	}

	host, _ := os.Hostname()
	if err := f.Truncate(0); err != nil {
		releaseLock(f, path)
		return nil, fmt.Errorf("truncate guard %s: %w", path, err)
	}
	if _, err := f.WriteAt([]byte(fmt.Sprintf("%d\n%s\n", os.Getpid(), host)), 0); err != nil {
		releaseLock(f, path)
		return nil, fmt.Errorf("write guard %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		releaseLock(f, path)
		return nil, fmt.Errorf("sync guard %s: %w", path, err)
	}

	return &Guard{path: path, file: f}, nil
}

// Release drops the lock and removes the guard file. Safe to call more than
// once; only the first call does anything.
func (g *Guard) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return nil
	}
	g.released = true
	return releaseLock(g.file, g.path)
}

// Path returns the guard file location.
func (g *Guard) Path() string {
	return g.path
}

// holder parses "pid\nhost\n" out of an existing guard file for diagnostics.
// Best-effort: a missing or garbled file yields zero values.
func holder(path string) (pid int, host string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, ""
	}
	lines := strings.SplitN(strings.TrimSpace(string(raw)), "\n", 2)
	if len(lines) > 0 {
		pid, _ = strconv.Atoi(strings.TrimSpace(lines[0]))
	}
	if len(lines) > 1 {
		host = strings.TrimSpace(lines[1])
	}
	return pid, host
}
