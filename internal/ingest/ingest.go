package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/lasso/internal/canon"
	"github.com/roach88/lasso/internal/chat"
)

// Ingestor normalizes and deduplicates raw events.
type Ingestor struct {
	dedup Deduper
	clock SeqClock
	ids   IDGenerator
	now   func() time.Time
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithClock sets the receipt sequence clock.
func WithClock(c SeqClock) Option {
	return func(in *Ingestor) { in.clock = c }
}

// WithIDGenerator sets the correlation id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(in *Ingestor) { in.ids = g }
}

// WithNow sets the wall clock used for events without a receipt time.
func WithNow(now func() time.Time) Option {
	return func(in *Ingestor) { in.now = now }
}

// New creates an Ingestor backed by dedup.
func New(dedup Deduper, opts ...Option) *Ingestor {
	in := &Ingestor{
		dedup: dedup,
		clock: NewClock(),
		ids:   UUIDv7Generator{},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Ingest normalizes raw and claims its event id.
//
// Returns chat.ErrDuplicateEvent if the id was claimed inside the window and
// ErrMalformedEvent for events without a user or id. If the dedup backend
// itself fails the event is passed through: the store's applied-event log
// still rejects a redelivery, so availability wins over an early drop.
func (in *Ingestor) Ingest(ctx context.Context, raw RawEvent) (chat.ConversationEvent, error) {
	ev, err := Normalize(raw, in.now())
	if err != nil {
		return chat.ConversationEvent{}, err
	}

	key, err := canon.EventKey(int64(ev.UserID), ev.EventID)
	if err != nil {
		return chat.ConversationEvent{}, fmt.Errorf("ingest: %w", err)
	}

	first, err := in.dedup.Claim(ctx, key, ev.ReceivedAt)
	switch {
	case err != nil:
		slog.Warn("dedup claim failed, passing event through",
			"user_id", int64(ev.UserID),
			"event_id", ev.EventID,
			"error", err,
		)
	case !first:
		return chat.ConversationEvent{}, fmt.Errorf("ingest: event %s for user %d: %w", ev.EventID, ev.UserID, chat.ErrDuplicateEvent)
	}

	ev.Seq = in.clock.Next()
	ev.CorrelationID = in.ids.Generate()
	return ev, nil
}

// Release gives up the claim Ingest made for ev. Callers release events
// they accepted but could not hand off or handle, so the transport's
// redelivery is processed instead of dropped as a duplicate.
func (in *Ingestor) Release(ctx context.Context, ev chat.ConversationEvent) error {
	key, err := canon.EventKey(int64(ev.UserID), ev.EventID)
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}
	if err := in.dedup.Release(ctx, key); err != nil {
		return fmt.Errorf("release event %s for user %d: %w", ev.EventID, ev.UserID, err)
	}
	return nil
}
