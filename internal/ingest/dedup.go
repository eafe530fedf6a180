package ingest

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/roach88/lasso/internal/store"
)

// DefaultWindow is how long an event id stays claimed.
const DefaultWindow = 24 * time.Hour

// Deduper claims event keys. Claim returns true for the first claim of key
// within the backend's retention window and false for a repeat. Release
// drops a claim whose event was never handled, so a redelivery is accepted.
type Deduper interface {
	Claim(ctx context.Context, key string, at time.Time) (bool, error)
	Release(ctx context.Context, key string) error
}

// MemoryDeduper is a bounded in-process recently-seen set. Entries expire
// after the window; when full the oldest claim is evicted first.
type MemoryDeduper struct {
	mu       sync.Mutex
	window   time.Duration
	capacity int
	order    *list.List // of memoryEntry, oldest first
	index    map[string]*list.Element
}

type memoryEntry struct {
	key string
	at  time.Time
}

// NewMemoryDeduper creates a deduper holding at most capacity keys.
func NewMemoryDeduper(window time.Duration, capacity int) *MemoryDeduper {
	if window <= 0 {
		window = DefaultWindow
	}
	if capacity <= 0 {
		capacity = 100_000
	}
	return &MemoryDeduper{
		window:   window,
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Claim implements Deduper.
func (d *MemoryDeduper) Claim(_ context.Context, key string, at time.Time) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.expire(at)

	if _, ok := d.index[key]; ok {
		return false, nil
	}

	for d.order.Len() >= d.capacity {
		d.evict(d.order.Front())
	}
	d.index[key] = d.order.PushBack(memoryEntry{key: key, at: at})
	return true, nil
}

// Release implements Deduper.
func (d *MemoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.index[key]; ok {
		d.evict(e)
	}
	return nil
}

// Len returns the number of keys currently held.
func (d *MemoryDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}

// expire drops claims older than the window. Claims are appended in
// arrival order, so scanning stops at the first live entry.
func (d *MemoryDeduper) expire(now time.Time) {
	cutoff := now.Add(-d.window)
	for e := d.order.Front(); e != nil; e = d.order.Front() {
		if e.Value.(memoryEntry).at.After(cutoff) {
			return
		}
		d.evict(e)
	}
}

func (d *MemoryDeduper) evict(e *list.Element) {
	delete(d.index, e.Value.(memoryEntry).key)
	d.order.Remove(e)
}

// StoreDeduper keeps the window in the SQLite seen_events table so it
// survives restarts of a single process.
type StoreDeduper struct {
	store  *store.Store
	window time.Duration
}

// NewStoreDeduper wraps s with the given retention window.
func NewStoreDeduper(s *store.Store, window time.Duration) *StoreDeduper {
	if window <= 0 {
		window = DefaultWindow
	}
	return &StoreDeduper{store: s, window: window}
}

// Claim implements Deduper.
func (d *StoreDeduper) Claim(ctx context.Context, key string, at time.Time) (bool, error) {
	return d.store.ClaimSeenEvent(ctx, key, at, d.window)
}

// Release implements Deduper.
func (d *StoreDeduper) Release(ctx context.Context, key string) error {
	return d.store.ReleaseSeenEvent(ctx, key)
}
