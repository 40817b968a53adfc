package testutil

import (
	"sync"
	"time"
)

// Clock is a deterministic wall clock for tests.
//
// Each call to Now returns the current instant and advances by a fixed
// step, so records written in sequence get distinct, reproducible
// timestamps. The same scenario replayed against a fresh Clock produces
// byte-identical output.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu      sync.Mutex
	start   time.Time
	current time.Time
	step    time.Duration
}

// NewClock creates a clock at start, advancing by step per Now call.
//
// A zero start defaults to 2024-01-01T00:00:00Z; a zero step defaults to
// one second.
func NewClock(start time.Time, step time.Duration) *Clock {
	if start.IsZero() {
		start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if step <= 0 {
		step = time.Second
	}
	return &Clock{start: start, current: start, step: step}
}

// Now returns the current instant and advances the clock by one step.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.current
	c.current = c.current.Add(c.step)
	return now
}

// Peek returns the instant the next Now call will produce, without
// advancing.
func (c *Clock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Reset rewinds the clock to its start instant.
//
// Used for test reuse. After Reset, Now returns the start instant again.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.start
}
