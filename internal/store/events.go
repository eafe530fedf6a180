package store

import (
	"context"
	"fmt"
	"time"
)

// ClaimSeenEvent records key as seen at the given time. It returns true if
// the caller is the first to claim the key within window, false if the key
// was already claimed and has not expired yet. An expired claim is renewed.
func (s *Store) ClaimSeenEvent(ctx context.Context, key string, at time.Time, window time.Duration) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO seen_events (key, seen_at) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET seen_at = excluded.seen_at
		WHERE seen_events.seen_at <= ?
	`, key, toMillis(at), toMillis(at.Add(-window)))
	if err != nil {
		return false, fmt.Errorf("claim seen event: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim seen event: rows affected: %w", err)
	}
	return n > 0, nil
}

// ReleaseSeenEvent drops the claim on key. Releasing an unknown key is not
// an error.
func (s *Store) ReleaseSeenEvent(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM seen_events WHERE key = ?`, key); err != nil {
		return fmt.Errorf("release seen event: %w", err)
	}
	return nil
}

// PurgeSeenEvents deletes dedup claims recorded before the cutoff and
// returns how many were removed.
func (s *Store) PurgeSeenEvents(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM seen_events WHERE seen_at < ?`, toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("purge seen events: %w", err)
	}
	return result.RowsAffected()
}

// PurgeAppliedEvents deletes applied-event records older than the cutoff.
// Redeliveries older than the cutoff are no longer recognized afterwards.
func (s *Store) PurgeAppliedEvents(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM applied_events WHERE applied_at < ?`, toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("purge applied events: %w", err)
	}
	return result.RowsAffected()
}
