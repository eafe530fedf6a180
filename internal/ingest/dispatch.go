package ingest

import (
	"context"
	"encoding/binary"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/roach88/lasso/internal/chat"
)

// ErrDispatcherClosed is returned by Dispatch after Run has returned.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Handler processes one event. Errors are the handler's to log; the lane
// always moves on to the next event.
type Handler func(ctx context.Context, ev chat.ConversationEvent)

// Dispatcher fans events out to a fixed set of lanes keyed by user id.
// All events for a user land in the same lane and are handled in the order
// they were dispatched.
type Dispatcher struct {
	lanes   []*lane
	handler Handler
}

// NewDispatcher creates n lanes, each holding at most capacity pending
// events. Dispatch blocks while the target lane is full.
func NewDispatcher(n, capacity int, h Handler) *Dispatcher {
	if n <= 0 {
		n = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	d := &Dispatcher{handler: h, lanes: make([]*lane, n)}
	for i := range d.lanes {
		d.lanes[i] = newLane(capacity)
	}
	return d
}

// laneFor hashes the user id onto a lane.
func (d *Dispatcher) laneFor(id chat.UserID) *lane {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	h := fnv.New64a()
	h.Write(buf[:])
	return d.lanes[h.Sum64()%uint64(len(d.lanes))]
}

// Dispatch queues ev on its user's lane. It blocks while the lane is full
// and returns ctx.Err() if ctx ends first.
func (d *Dispatcher) Dispatch(ctx context.Context, ev chat.ConversationEvent) error {
	return d.laneFor(ev.UserID).Enqueue(ctx, ev)
}

// Pending returns the number of queued events across all lanes.
func (d *Dispatcher) Pending() int {
	n := 0
	for _, l := range d.lanes {
		n += l.Len()
	}
	return n
}

// Run starts one worker per lane and blocks until ctx is done. On
// cancellation the lanes stop accepting events and the workers finish what
// is already queued before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	drainCtx := context.WithoutCancel(ctx)

	for i, l := range d.lanes {
		wg.Add(1)
		go func(i int, l *lane) {
			defer wg.Done()
			d.work(ctx, drainCtx, i, l)
		}(i, l)
	}

	<-ctx.Done()
	for _, l := range d.lanes {
		l.Close()
	}
	wg.Wait()
	return nil
}

// work drains one lane. Events still queued at shutdown are handled with
// drainCtx so their dedup claims are not wasted.
func (d *Dispatcher) work(ctx, drainCtx context.Context, idx int, l *lane) {
	for {
		if ev, ok := l.TryDequeue(); ok {
			hctx := ctx
			if ctx.Err() != nil {
				hctx = drainCtx
			}
			d.handle(hctx, idx, ev)
			continue
		}
		if l.Drained() {
			return
		}
		<-l.Wait()
	}
}

func (d *Dispatcher) handle(ctx context.Context, idx int, ev chat.ConversationEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked",
				"lane", idx,
				"user_id", int64(ev.UserID),
				"event_id", ev.EventID,
				"panic", r,
			)
		}
	}()
	d.handler(ctx, ev)
}

// lane is a bounded, thread-safe FIFO of events.
//
// Two buffered signal channels (size 1) coalesce wake-ups: signal tells the
// worker an event may be available, space tells blocked producers a slot
// may have opened.
type lane struct {
	mu       sync.Mutex
	events   []chat.ConversationEvent
	capacity int
	closed   bool
	signal   chan struct{}
	space    chan struct{}
}

func newLane(capacity int) *lane {
	return &lane{
		events:   make([]chat.ConversationEvent, 0, capacity),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
	}
}

// Enqueue appends ev, waiting for room while the lane is full.
func (l *lane) Enqueue(ctx context.Context, ev chat.ConversationEvent) error {
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return ErrDispatcherClosed
		}
		if len(l.events) < l.capacity {
			l.events = append(l.events, ev)
			select {
			case l.signal <- struct{}{}:
			default:
			}
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.space:
		}
	}
}

// TryDequeue removes the front event without blocking.
func (l *lane) TryDequeue() (chat.ConversationEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.events) == 0 {
		return chat.ConversationEvent{}, false
	}

	ev := l.events[0]
	l.events[0] = chat.ConversationEvent{}
	if len(l.events) == 1 {
		l.events = l.events[:0]
	} else {
		l.events = l.events[1:]
	}

	if !l.closed {
		select {
		case l.space <- struct{}{}:
		default:
		}
	}
	return ev, true
}

// Wait returns a channel that signals when events may be available.
// It is closed once the lane is closed.
func (l *lane) Wait() <-chan struct{} {
	return l.signal
}

// Drained reports whether the lane is closed and empty.
func (l *lane) Drained() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed && len(l.events) == 0
}

// Len returns the current lane length.
func (l *lane) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Close stops the lane from accepting events and wakes the worker.
func (l *lane) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	close(l.signal)
	close(l.space)
}
