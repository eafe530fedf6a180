package ingest

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisDeduper shares the dedup window between processes through Redis.
// Each claim is a SET NX with the window as expiry, so Redis does the
// eviction.
type RedisDeduper struct {
	client redis.Cmdable
	prefix string
	window time.Duration
}

// NewRedisDeduper creates a deduper storing keys under prefix.
func NewRedisDeduper(client redis.Cmdable, prefix string, window time.Duration) *RedisDeduper {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisDeduper{client: client, prefix: prefix + "seen:", window: window}
}

// Claim implements Deduper.
func (d *RedisDeduper) Claim(ctx context.Context, key string, at time.Time) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+key, at.UnixMilli(), d.window).Result()
	if err != nil {
		return false, fmt.Errorf("redis dedup: claim %s: %w", key, err)
	}
	return ok, nil
}

// Release implements Deduper.
func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, d.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis dedup: release %s: %w", key, err)
	}
	return nil
}
