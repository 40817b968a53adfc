//go:build unix

package guard

import (
	"fmt"
	"os"
	"syscall"
)

// acquireLock opens the guard file and takes an exclusive flock without
// blocking. The kernel releases the lock automatically if the process dies,
// so a crash never wedges the writer slot.
func acquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open guard %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		pid, host := holder(path)
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, &HeldError{Path: path, PID: pid, Host: host}
		}
		return nil, fmt.Errorf("lock guard %s: %w", path, err)
	}
	return f, nil
}

// releaseLock unlocks, closes, and removes the guard file. Removal happens
// while the lock is still held so no window exists where another process
// sees an unlocked file with our pid in it.
func releaseLock(f *os.File, path string) error {
	os.Remove(path)
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		f.Close()
		return fmt.Errorf("unlock guard %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close guard %s: %w", path, err)
	}
	return nil
}
