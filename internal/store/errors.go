package store

import (
	"errors"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// IsBusy reports whether err is transient lock contention worth retrying
// (SQLITE_BUSY or SQLITE_LOCKED). Everything else is permanent from the
// write engine's point of view.
func IsBusy(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	return false
}

// IsCorrupt reports whether err indicates on-disk corruption. Corruption is
// fatal: the server logs, releases its lock, and exits for operator recovery.
func IsCorrupt(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrCorrupt || serr.Code == sqlite3.ErrNotADB
	}
	return false
}

// isMissingTable detects queries against a table that does not exist yet.
// SQLite reports this as a generic SQLITE_ERROR, so the message is the only
// signal.
func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
