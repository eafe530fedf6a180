package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/lasso/internal/chat"
	"github.com/roach88/lasso/internal/ingest"
)

// Default lane layout for the per-user dispatcher.
const (
	DefaultLanes        = 16
	DefaultLaneCapacity = 64
)

// DefaultFailureThreshold is how many consecutive storage failures Run
// tolerates before it stops.
const DefaultFailureThreshold = 5

// Handler turns one conversation event into replies.
// Implemented by *dialogue.Machine.
type Handler interface {
	Handle(ctx context.Context, ev chat.ConversationEvent) ([]chat.OutboundMessage, error)
}

// Sink accepts outbound messages for delivery.
// Implemented by *notify.Outbox.
type Sink interface {
	Submit(ctx context.Context, msgs ...chat.OutboundMessage) error
}

// Stats counts what the engine has seen since start.
type Stats struct {
	Accepted   int64 `json:"accepted"`
	Duplicates int64 `json:"duplicates"`
	Rejected   int64 `json:"rejected"`
	Failed     int64 `json:"failed"`
	Replies    int64 `json:"replies"`
}

// Engine routes inbound events through ingest, the conversation handler
// and the outbound sink.
//
// Thread-safety model:
//   - Submit(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Process(): bypasses the lanes; callers serialize per user
//
// Events for one user are handled one at a time in receipt order; events
// for different users run in parallel across lanes.
type Engine struct {
	ingestor   *ingest.Ingestor
	handler    Handler
	sink       Sink
	dispatcher *ingest.Dispatcher

	lanes     int
	capacity  int
	threshold int64

	// failures counts storage failures since the last handled event.
	failures atomic.Int64
	haltMu   sync.Mutex
	halted   error
	stop     context.CancelFunc

	accepted   atomic.Int64
	duplicates atomic.Int64
	rejected   atomic.Int64
	failed     atomic.Int64
	replies    atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLanes sets the number of dispatcher lanes and the pending events each
// lane holds before Submit blocks.
func WithLanes(n, capacity int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.lanes = n
		}
		if capacity > 0 {
			e.capacity = capacity
		}
	}
}

// WithFailureThreshold sets how many consecutive storage failures stop Run.
func WithFailureThreshold(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.threshold = int64(n)
		}
	}
}

// New creates an Engine.
func New(in *ingest.Ingestor, h Handler, sink Sink, opts ...Option) *Engine {
	e := &Engine{
		ingestor:  in,
		handler:   h,
		sink:      sink,
		lanes:     DefaultLanes,
		capacity:  DefaultLaneCapacity,
		threshold: DefaultFailureThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.dispatcher = ingest.NewDispatcher(e.lanes, e.capacity, e.process)
	return e
}

// Submit ingests raw and queues it on its user's lane.
//
// Duplicates are dropped silently and return nil. Malformed events return
// an error wrapping ingest.ErrMalformedEvent. Submit blocks while the
// user's lane is full. An event that cannot be queued gives its dedup claim
// back, so the transport may redeliver it.
func (e *Engine) Submit(ctx context.Context, raw ingest.RawEvent) error {
	ev, ok, err := e.ingest(ctx, raw)
	if err != nil || !ok {
		return err
	}
	if err := e.dispatcher.Dispatch(ctx, ev); err != nil {
		e.release(ctx, ev)
		return fmt.Errorf("submit event %s: %w", ev.EventID, err)
	}
	return nil
}

// Process ingests and handles raw inline, submits the replies to the sink
// and returns them. A duplicate returns no replies and no error.
func (e *Engine) Process(ctx context.Context, raw ingest.RawEvent) ([]chat.OutboundMessage, error) {
	ev, ok, err := e.ingest(ctx, raw)
	if err != nil || !ok {
		return nil, err
	}
	msgs, err := e.handle(ctx, ev)
	if err != nil {
		e.release(ctx, ev)
		return nil, err
	}
	return msgs, nil
}

// Run drives the lanes until ctx is cancelled, then finishes what is
// already queued.
//
// Run returns an error wrapping the last failure once storage has failed
// for the configured number of consecutive events. Lanes stop accepting
// work at that point; the operator has to restore storage and restart.
func (e *Engine) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.haltMu.Lock()
	e.stop = cancel
	halted := e.halted
	e.haltMu.Unlock()
	if halted != nil {
		return halted
	}

	slog.Info("engine starting", "lanes", e.lanes, "lane_capacity", e.capacity)
	if err := e.dispatcher.Run(runCtx); err != nil {
		return err
	}
	slog.Info("engine stopped", "accepted", e.accepted.Load(), "failed", e.failed.Load())
	return e.Err()
}

// Err returns the error that halted the engine, or nil.
func (e *Engine) Err() error {
	e.haltMu.Lock()
	defer e.haltMu.Unlock()
	return e.halted
}

// Pending returns the number of events waiting in lanes.
func (e *Engine) Pending() int {
	return e.dispatcher.Pending()
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Accepted:   e.accepted.Load(),
		Duplicates: e.duplicates.Load(),
		Rejected:   e.rejected.Load(),
		Failed:     e.failed.Load(),
		Replies:    e.replies.Load(),
	}
}

func (e *Engine) ingest(ctx context.Context, raw ingest.RawEvent) (chat.ConversationEvent, bool, error) {
	ev, err := e.ingestor.Ingest(ctx, raw)
	switch {
	case chat.IsDuplicate(err):
		e.duplicates.Add(1)
		slog.Debug("duplicate event dropped",
			"user_id", raw.UserID,
			"event_id", raw.EventID,
		)
		return chat.ConversationEvent{}, false, nil
	case err != nil:
		e.rejected.Add(1)
		return chat.ConversationEvent{}, false, fmt.Errorf("ingest event %q: %w", raw.EventID, err)
	}
	e.accepted.Add(1)
	return ev, true, nil
}

// process is the lane handler. Errors are logged with the event context and
// the lane moves on; one user's failure never stops another's events.
func (e *Engine) process(ctx context.Context, ev chat.ConversationEvent) {
	if _, err := e.handle(ctx, ev); err != nil {
		logEventError(ev, err)
		e.release(ctx, ev)
	}
}

// release gives back the dedup claim of an event that was not handled.
// The store's applied-event log still rejects an event that did commit.
func (e *Engine) release(ctx context.Context, ev chat.ConversationEvent) {
	if err := e.ingestor.Release(context.WithoutCancel(ctx), ev); err != nil {
		slog.Warn("dedup release failed",
			"user_id", int64(ev.UserID),
			"event_id", ev.EventID,
			"error", err,
		)
	}
}

// noteFailure counts a handler error toward the halt threshold.
func (e *Engine) noteFailure(err error) {
	if !storageFailure(err) {
		return
	}
	n := e.failures.Add(1)
	if n < e.threshold {
		return
	}
	e.halt(fmt.Errorf("engine: %d consecutive storage failures: %w", n, err))
}

func (e *Engine) halt(err error) {
	e.haltMu.Lock()
	defer e.haltMu.Unlock()
	if e.halted != nil {
		return
	}
	e.halted = err
	slog.Error("engine halting, storage unavailable", "error", err)
	if e.stop != nil {
		e.stop()
	}
}

// storageFailure reports whether a handler error came from storage rather
// than from the event itself or from shutdown.
func storageFailure(err error) bool {
	switch {
	case errors.Is(err, chat.ErrInvalidTransition),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func (e *Engine) handle(ctx context.Context, ev chat.ConversationEvent) ([]chat.OutboundMessage, error) {
	slog.Debug("processing event",
		"user_id", int64(ev.UserID),
		"event_id", ev.EventID,
		"kind", string(ev.Kind),
		"seq", ev.Seq,
	)

	msgs, err := e.handler.Handle(ctx, ev)
	if err != nil {
		e.failed.Add(1)
		e.noteFailure(err)
		return nil, fmt.Errorf("handle event %s: %w", ev.EventID, err)
	}
	e.failures.Store(0)
	if len(msgs) == 0 {
		return nil, nil
	}
	if err := e.sink.Submit(ctx, msgs...); err != nil {
		e.failed.Add(1)
		return msgs, fmt.Errorf("submit replies for %s: %w", ev.EventID, err)
	}
	e.replies.Add(int64(len(msgs)))
	return msgs, nil
}

func logEventError(ev chat.ConversationEvent, err error) {
	level := slog.LevelError
	if errors.Is(err, chat.ErrInvalidTransition) {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "event processing failed",
		"user_id", int64(ev.UserID),
		"event_id", ev.EventID,
		"correlation_id", ev.CorrelationID,
		"seq", ev.Seq,
		"error", err,
	)
}
