package ingest

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// SeqClock stamps events with a strictly increasing receipt sequence.
type SeqClock interface {
	Next() int64
}

// IDGenerator produces correlation ids.
type IDGenerator interface {
	Generate() string
}

// Clock is a monotonic logical clock for receipt order.
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// UUIDv7Generator generates time-sortable UUIDv7 correlation ids, which keeps
// log lines for one event greppable and roughly ordered.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
