package notify

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/lasso/internal/chat"
)

// ErrOutboxClosed is returned by Submit after Run has stopped.
var ErrOutboxClosed = errors.New("outbox closed")

// DefaultDrainTimeout bounds delivery of queued messages at shutdown.
const DefaultDrainTimeout = 10 * time.Second

// Deliverer is satisfied by *Notifier.
type Deliverer interface {
	Deliver(ctx context.Context, msg chat.OutboundMessage) error
}

// Outbox decouples delivery from state changes. Messages for one user go
// through one worker, so they arrive in submission order; different users
// are delivered in parallel.
type Outbox struct {
	deliverer    Deliverer
	shards       []chan chat.OutboundMessage
	drainTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// NewOutbox creates an outbox with workers shards of capacity messages each.
func NewOutbox(d Deliverer, workers, capacity int) *Outbox {
	if workers < 1 {
		workers = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	o := &Outbox{
		deliverer:    d,
		shards:       make([]chan chat.OutboundMessage, workers),
		drainTimeout: DefaultDrainTimeout,
	}
	for i := range o.shards {
		o.shards[i] = make(chan chat.OutboundMessage, capacity)
	}
	return o
}

func (o *Outbox) shardFor(id chat.UserID) chan chat.OutboundMessage {
	h := fnv.New64a()
	h.Write([]byte(strconv.FormatInt(int64(id), 10)))
	return o.shards[h.Sum64()%uint64(len(o.shards))]
}

// Submit queues msgs in order, blocking while a shard is full.
func (o *Outbox) Submit(ctx context.Context, msgs ...chat.OutboundMessage) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrOutboxClosed
	}
	for _, m := range msgs {
		select {
		case o.shardFor(m.UserID) <- m:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Pending returns the number of queued messages.
func (o *Outbox) Pending() int {
	n := 0
	for _, s := range o.shards {
		n += len(s)
	}
	return n
}

// Run delivers until ctx is cancelled, then drains what is queued for up
// to the drain timeout. Delivery errors are logged.
func (o *Outbox) Run(ctx context.Context) error {
	deliverCtx, cancelDeliver := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDeliver()

	var wg sync.WaitGroup
	for i, shard := range o.shards {
		wg.Add(1)
		go func(idx int, ch chan chat.OutboundMessage) {
			defer wg.Done()
			for msg := range ch {
				o.deliver(deliverCtx, idx, msg)
			}
		}(i, shard)
	}

	<-ctx.Done()

	o.mu.Lock()
	o.closed = true
	for _, s := range o.shards {
		close(s)
	}
	o.mu.Unlock()

	if pending := o.Pending(); pending > 0 {
		slog.Info("draining outbox", "pending", pending)
	}
	stop := time.AfterFunc(o.drainTimeout, cancelDeliver)
	defer stop.Stop()

	wg.Wait()
	return nil
}

func (o *Outbox) deliver(ctx context.Context, worker int, msg chat.OutboundMessage) {
	if err := o.deliverer.Deliver(ctx, msg); err != nil {
		slog.Error("delivery failed",
			"worker", worker,
			"user_id", int64(msg.UserID),
			"correlation_id", msg.CorrelationID,
			"error", err,
		)
	}
}
