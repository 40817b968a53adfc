//go:build windows

package guard

import (
	"errors"
	"fmt"
	"os"
)

// acquireLock creates the guard file exclusively. Windows has no flock
// equivalent the standard library exposes, so existence of the file is the
// lock. A crashed writer leaves the file behind; the HeldError names the
// recorded holder so an operator can verify and remove it.
func acquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err == nil {
		return f, nil
	}
	if errors.Is(err, os.ErrExist) {
		pid, host := holder(path)
		return nil, &HeldError{Path: path, PID: pid, Host: host}
	}
	return nil, fmt.Errorf("open guard %s: %w", path, err)
}

func releaseLock(f *os.File, path string) error {
	if err := f.Close(); err != nil {
		return fmt.Errorf("close guard %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove guard %s: %w", path, err)
	}
	return nil
}
