package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a resettable logical clock for tests.
// It satisfies the ingestor's sequence clock. The first Next() returns 1.
//
// Thread-safety: All methods are safe for concurrent use.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a new deterministic clock starting at 0.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next increments and returns the next sequence number.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current sequence number without incrementing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset resets the clock to 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

// Epoch is the wall time ManualTime starts at unless told otherwise.
var Epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// ManualTime is a wall clock that only moves when told to.
// Its Now method can be passed anywhere a func() time.Time is expected.
type ManualTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualTime returns a clock frozen at start, or Epoch if start is zero.
func NewManualTime(start time.Time) *ManualTime {
	if start.IsZero() {
		start = Epoch
	}
	return &ManualTime{now: start.UTC()}
}

// Now returns the current frozen time.
func (m *ManualTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *ManualTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set moves the clock to t.
func (m *ManualTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.UTC()
}
