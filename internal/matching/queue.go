package matching

import (
	"context"
	"sort"
	"sync"

	"github.com/roach88/lasso/internal/chat"
)

// Queue is the ordered, deduplicated set of users waiting for a pass.
//
// DrainAll empties the set atomically: two concurrent drains never return
// the same member. Changed is signalled, coalesced, when a new member
// arrives through Enqueue. Restore puts pass leftovers back without
// signalling, so an unmatched user does not retrigger passes.
type Queue interface {
	Enqueue(ctx context.Context, id chat.UserID) (bool, error)
	Restore(ctx context.Context, ids ...chat.UserID) error
	Remove(ctx context.Context, id chat.UserID) error
	DrainAll(ctx context.Context) ([]chat.UserID, error)
	Len(ctx context.Context) (int, error)
	Changed() <-chan struct{}
}

// MemoryQueue is an in-process Queue.
type MemoryQueue struct {
	mu      sync.Mutex
	members map[chat.UserID]uint64
	next    uint64
	changed chan struct{}
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		members: make(map[chat.UserID]uint64),
		changed: make(chan struct{}, 1),
	}
}

// Enqueue adds id if absent and reports whether it was added.
func (q *MemoryQueue) Enqueue(_ context.Context, id chat.UserID) (bool, error) {
	q.mu.Lock()
	added := q.add(id)
	q.mu.Unlock()

	if added {
		signal(q.changed)
	}
	return added, nil
}

// Restore adds ids without signalling Changed.
func (q *MemoryQueue) Restore(_ context.Context, ids ...chat.UserID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range ids {
		q.add(id)
	}
	return nil
}

func (q *MemoryQueue) add(id chat.UserID) bool {
	if _, ok := q.members[id]; ok {
		return false
	}
	q.next++
	q.members[id] = q.next
	return true
}

// Remove drops id. Removing an absent id is not an error.
func (q *MemoryQueue) Remove(_ context.Context, id chat.UserID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.members, id)
	return nil
}

// DrainAll returns every member in enqueue order and empties the queue.
func (q *MemoryQueue) DrainAll(_ context.Context) ([]chat.UserID, error) {
	q.mu.Lock()
	members := q.members
	q.members = make(map[chat.UserID]uint64)
	q.mu.Unlock()

	ids := make([]chat.UserID, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return members[ids[i]] < members[ids[j]] })
	return ids, nil
}

// Len returns the number of members.
func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.members), nil
}

// Changed is signalled when a new member is enqueued.
func (q *MemoryQueue) Changed() <-chan struct{} {
	return q.changed
}

// signal does a non-blocking send on a 1-buffered channel.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
