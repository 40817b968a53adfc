package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock_AdvancesByStep(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewClock(start, time.Minute)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(time.Minute), c.Now())
	assert.Equal(t, start.Add(2*time.Minute), c.Peek())
}

func TestClock_Defaults(t *testing.T) {
	c := NewClock(time.Time{}, 0)

	first := c.Now()
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), first)
	assert.Equal(t, first.Add(time.Second), c.Now())
}

func TestClock_Reset(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewClock(start, time.Second)

	c.Now()
	c.Now()
	c.Reset()
	assert.Equal(t, start, c.Now())
}

func TestClock_ConcurrentNowIsUnique(t *testing.T) {
	c := NewClock(time.Time{}, time.Millisecond)

	const n = 100
	var wg sync.WaitGroup
	results := make([]time.Time, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Now()
		}(i)
	}
	wg.Wait()

	seen := make(map[time.Time]bool, n)
	for _, ts := range results {
		assert.False(t, seen[ts], "timestamp %v handed out twice", ts)
		seen[ts] = true
	}
}
