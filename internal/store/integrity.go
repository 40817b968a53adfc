package store

import (
	"context"
	"fmt"
	"strings"
)

// IntegrityMode selects the depth of the integrity check.
type IntegrityMode string

const (
	// IntegrityQuick runs PRAGMA quick_check: skips index-content
	// verification, fast enough for startup paths.
	IntegrityQuick IntegrityMode = "quick"
	// IntegrityFull runs PRAGMA integrity_check: complete verification,
	// intended for operator-driven maintenance.
	IntegrityFull IntegrityMode = "full"
)

// IntegrityCheck runs the engine's integrity verification. Returns ok=true
// with message "ok" for a healthy file; otherwise ok=false and the engine's
// diagnostic lines joined into message.
func (s *Store) IntegrityCheck(ctx context.Context, mode IntegrityMode) (bool, string, error) {
	pragma := "PRAGMA integrity_check"
	if mode == IntegrityQuick {
		pragma = "PRAGMA quick_check"
	}

	h := s.writer
	if h == nil {
		h = s.reader
	}

	rows, err := h.QueryContext(ctx, pragma)
	if err != nil {
		return false, "", fmt.Errorf("integrity check: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return false, "", fmt.Errorf("scan integrity line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return false, "", fmt.Errorf("iterate integrity lines: %w", err)
	}

	msg := strings.Join(lines, "; ")
	ok := len(lines) == 1 && lines[0] == "ok"
	return ok, msg, nil
}
