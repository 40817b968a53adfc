package model

import (
	"fmt"
	"strings"
)

// Canonical run statuses. The store only ever holds these six values;
// aliases are folded on write and on query filters.
const (
	StatusRunning   = "running"
	StatusSuccess   = "success"
	StatusFailure   = "failure"
	StatusPartial   = "partial"
	StatusTimeout   = "timeout"
	StatusCancelled = "cancelled"
)

// CanonicalStatuses lists the six stored status values in display order.
var CanonicalStatuses = []string{
	StatusRunning,
	StatusSuccess,
	StatusFailure,
	StatusPartial,
	StatusTimeout,
	StatusCancelled,
}

// statusAliases maps accepted spellings to their canonical form.
var statusAliases = map[string]string{
	"failed":    StatusFailure,
	"completed": StatusSuccess,
	"succeeded": StatusSuccess,
	"canceled":  StatusCancelled,
}

// CanonicalStatus normalizes a status string: lowercases, trims, and folds
// aliases. Returns an error for anything outside the canonical set.
func CanonicalStatus(s string) (string, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	if alias, ok := statusAliases[norm]; ok {
		norm = alias
	}
	for _, c := range CanonicalStatuses {
		if norm == c {
			return norm, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// TerminalStatus reports whether a canonical status ends a run.
func TerminalStatus(s string) bool {
	return s != StatusRunning && s != ""
}
