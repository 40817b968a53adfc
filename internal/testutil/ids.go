package testutil

import (
	"fmt"
	"sync"
)

// IDSequence generates predictable event identifiers.
//
// Production clients mint random UUIDs; tests that compare against golden
// snapshots need the same IDs on every run. IDSequence hands out
// "prefix-000001", "prefix-000002", and so on.
//
// Thread-safety: safe for concurrent use via internal mutex.
type IDSequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewIDSequence creates a sequence with the given prefix.
//
// An empty prefix defaults to "test-event".
func NewIDSequence(prefix string) *IDSequence {
	if prefix == "" {
		prefix = "test-event"
	}
	return &IDSequence{prefix: prefix}
}

// Next returns the next identifier in the sequence.
func (s *IDSequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%06d", s.prefix, s.n)
}
