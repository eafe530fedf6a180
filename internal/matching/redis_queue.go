package matching

import (
	"context"
	"fmt"
	"strconv"

	redis "github.com/redis/go-redis/v9"

	"github.com/roach88/lasso/internal/chat"
)

// Members live in a sorted set scored by a per-queue counter so drains come
// back in enqueue order. Re-enqueueing a member keeps its original score.
var enqueueScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return 0
end
local seq = redis.call('INCR', KEYS[2])
redis.call('ZADD', KEYS[1], seq, ARGV[1])
return 1
`)

var drainScript = redis.NewScript(`
local members = redis.call('ZRANGE', KEYS[1], 0, -1)
redis.call('DEL', KEYS[1])
return members
`)

// RedisQueue is a Queue shared through Redis. Drains are atomic across
// processes; Changed only reflects enqueues made through this instance.
type RedisQueue struct {
	client  redis.Cmdable
	key     string
	seqKey  string
	changed chan struct{}
}

// NewRedisQueue creates a queue stored under prefix+"queue".
func NewRedisQueue(client redis.Cmdable, prefix string) *RedisQueue {
	return &RedisQueue{
		client:  client,
		key:     prefix + "queue",
		seqKey:  prefix + "queue:seq",
		changed: make(chan struct{}, 1),
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, id chat.UserID) (bool, error) {
	added, err := q.add(ctx, id)
	if err != nil {
		return false, fmt.Errorf("redis queue enqueue %d: %w", id, err)
	}
	if added {
		signal(q.changed)
	}
	return added, nil
}

func (q *RedisQueue) Restore(ctx context.Context, ids ...chat.UserID) error {
	for _, id := range ids {
		if _, err := q.add(ctx, id); err != nil {
			return fmt.Errorf("redis queue restore %d: %w", id, err)
		}
	}
	return nil
}

func (q *RedisQueue) add(ctx context.Context, id chat.UserID) (bool, error) {
	n, err := enqueueScript.Run(ctx, q.client, []string{q.key, q.seqKey}, id.String()).Int()
	return n == 1, err
}

func (q *RedisQueue) Remove(ctx context.Context, id chat.UserID) error {
	if err := q.client.ZRem(ctx, q.key, id.String()).Err(); err != nil {
		return fmt.Errorf("redis queue remove %d: %w", id, err)
	}
	return nil
}

func (q *RedisQueue) DrainAll(ctx context.Context) ([]chat.UserID, error) {
	members, err := drainScript.Run(ctx, q.client, []string{q.key}).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("redis queue drain: %w", err)
	}
	ids := make([]chat.UserID, 0, len(members))
	for _, m := range members {
		n, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis queue drain: member %q: %w", m, err)
		}
		ids = append(ids, chat.UserID(n))
	}
	return ids, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis queue len: %w", err)
	}
	return int(n), nil
}

func (q *RedisQueue) Changed() <-chan struct{} {
	return q.changed
}
