package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/lasso/internal/chat"
)

// Create inserts a new user at version 1.
// Uses ON CONFLICT(id) DO NOTHING: if the user already exists, the stored
// record is returned with created=false. The insert-or-select runs in one
// transaction.
func (s *Store) Create(ctx context.Context, u chat.User) (user chat.User, created bool, err error) {
	interests, err := marshalInterests(u.Profile.Interests)
	if err != nil {
		return chat.User{}, false, fmt.Errorf("create user: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.User{}, false, fmt.Errorf("create user: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO users
		(id, name, age, interests, username, first_name, last_name,
		 dialogue, status, active_match, retired, version, registered_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		int64(u.ID),
		u.Profile.Name,
		u.Profile.Age,
		interests,
		u.Username,
		u.FirstName,
		u.LastName,
		string(u.Dialogue),
		string(u.Status),
		u.ActiveMatch,
		boolToInt(u.Retired),
		toMillis(u.RegisteredAt),
		toMillis(u.LastActivityAt),
	)
	if err != nil {
		return chat.User{}, false, fmt.Errorf("create user: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return chat.User{}, false, fmt.Errorf("create user: rows affected: %w", err)
	}

	user, err = getUser(ctx, tx, u.ID)
	if err != nil {
		return chat.User{}, false, fmt.Errorf("create user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return chat.User{}, false, fmt.Errorf("create user: commit: %w", err)
	}

	return user, rowsAffected > 0, nil
}

// CASUpdate writes u if the stored version still equals expectedVersion and
// returns the record at its new version.
//
// When appliedEventID is non-empty it is recorded in applied_events in the
// same transaction. If that (user, event) pair was already recorded the
// write is rejected with chat.ErrDuplicateEvent and nothing changes.
//
// Returns chat.ErrVersionConflict on a stale version and chat.ErrUserNotFound
// if the user does not exist.
func (s *Store) CASUpdate(ctx context.Context, u chat.User, expectedVersion int64, appliedEventID string) (chat.User, error) {
	interests, err := marshalInterests(u.Profile.Interests)
	if err != nil {
		return chat.User{}, fmt.Errorf("cas update: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.User{}, fmt.Errorf("cas update: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE users SET
			name = ?, age = ?, interests = ?,
			username = ?, first_name = ?, last_name = ?,
			dialogue = ?, status = ?, active_match = ?, retired = ?,
			last_activity_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`,
		u.Profile.Name,
		u.Profile.Age,
		interests,
		u.Username,
		u.FirstName,
		u.LastName,
		string(u.Dialogue),
		string(u.Status),
		u.ActiveMatch,
		boolToInt(u.Retired),
		toMillis(u.LastActivityAt),
		int64(u.ID),
		expectedVersion,
	)
	if err != nil {
		return chat.User{}, fmt.Errorf("cas update: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return chat.User{}, fmt.Errorf("cas update: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return chat.User{}, s.conflictOrMissing(ctx, tx, u.ID, "cas update")
	}

	if appliedEventID != "" {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO applied_events (user_id, event_id, version, applied_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id, event_id) DO NOTHING
		`, int64(u.ID), appliedEventID, expectedVersion+1, toMillis(u.LastActivityAt))
		if err != nil {
			return chat.User{}, fmt.Errorf("cas update: record event: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return chat.User{}, fmt.Errorf("cas update: rows affected: %w", err)
		}
		if n == 0 {
			return chat.User{}, fmt.Errorf("cas update: event %s: %w", appliedEventID, chat.ErrDuplicateEvent)
		}
	}

	user, err := getUser(ctx, tx, u.ID)
	if err != nil {
		return chat.User{}, fmt.Errorf("cas update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return chat.User{}, fmt.Errorf("cas update: commit: %w", err)
	}

	return user, nil
}

// Upsert reads the user, applies mutate and writes it back conditionally,
// re-reading on version conflicts. Returns chat.ErrStateUnavailable when the
// retry budget runs out. An error from mutate aborts without writing.
func (s *Store) Upsert(ctx context.Context, id chat.UserID, mutate func(*chat.User) error) (chat.User, error) {
	for attempt := 0; attempt < s.casRetries; attempt++ {
		current, err := s.Get(ctx, id)
		if err != nil {
			return chat.User{}, err
		}

		next := current.Clone()
		if err := mutate(&next); err != nil {
			return chat.User{}, err
		}

		updated, err := s.CASUpdate(ctx, next, current.Version, "")
		if errors.Is(err, chat.ErrVersionConflict) {
			continue
		}
		return updated, err
	}
	return chat.User{}, fmt.Errorf("upsert user %d: %d attempts: %w", id, s.casRetries, chat.ErrStateUnavailable)
}

// conflictOrMissing distinguishes a stale version from an absent user after
// a conditional UPDATE matched no rows.
func (s *Store) conflictOrMissing(ctx context.Context, q querier, id chat.UserID, op string) error {
	var version int64
	err := q.QueryRowContext(ctx, `SELECT version FROM users WHERE id = ?`, int64(id)).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: user %d: %w", op, id, chat.ErrUserNotFound)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: user %d at version %d: %w", op, id, version, chat.ErrVersionConflict)
}

// CommitMatch atomically flips both users to matched and inserts the match.
//
// Each user must still be at the given version, seeking, not retired and
// without an active match; otherwise the transaction is rolled back and
// chat.ErrVersionConflict is returned. The updated users are returned.
func (s *Store) CommitMatch(ctx context.Context, m chat.Match, a, b chat.User) (chat.User, chat.User, error) {
	if a.ID == b.ID {
		return chat.User{}, chat.User{}, fmt.Errorf("commit match: user %d paired with itself", a.ID)
	}
	if b.ID < a.ID {
		a, b = b, a
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.User{}, chat.User{}, fmt.Errorf("commit match: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, u := range []chat.User{a, b} {
		result, err := tx.ExecContext(ctx, `
			UPDATE users SET status = ?, active_match = ?, version = version + 1
			WHERE id = ? AND version = ? AND status = ? AND active_match = '' AND retired = 0
		`, string(chat.StatusMatched), m.ID, int64(u.ID), u.Version, string(chat.StatusSeeking))
		if err != nil {
			return chat.User{}, chat.User{}, fmt.Errorf("commit match: update user %d: %w", u.ID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return chat.User{}, chat.User{}, fmt.Errorf("commit match: rows affected: %w", err)
		}
		if n == 0 {
			return chat.User{}, chat.User{}, fmt.Errorf("commit match: user %d changed: %w", u.ID, chat.ErrVersionConflict)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO matches (id, user_a, user_b, score, state, pass_seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID, int64(a.ID), int64(b.ID), m.Score, string(chat.MatchActive), m.PassSeq, toMillis(m.CreatedAt))
	if err != nil {
		return chat.User{}, chat.User{}, fmt.Errorf("commit match: insert: %w", err)
	}

	ua, err := getUser(ctx, tx, a.ID)
	if err != nil {
		return chat.User{}, chat.User{}, fmt.Errorf("commit match: %w", err)
	}
	ub, err := getUser(ctx, tx, b.ID)
	if err != nil {
		return chat.User{}, chat.User{}, fmt.Errorf("commit match: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return chat.User{}, chat.User{}, fmt.Errorf("commit match: commit: %w", err)
	}

	return ua, ub, nil
}

// EndMatch atomically ends an active match and moves both users out of
// matched. statusFor maps each participant to the status they end in.
//
// Returns chat.ErrMatchNotFound if no active match has the id.
func (s *Store) EndMatch(ctx context.Context, matchID, reason string, at time.Time, statusFor func(chat.UserID) chat.MatchStatus) (chat.Match, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Match{}, fmt.Errorf("end match: begin tx: %w", err)
	}
	defer tx.Rollback()

	m, err := getMatch(ctx, tx, matchID)
	if err != nil {
		return chat.Match{}, fmt.Errorf("end match: %w", err)
	}
	if m.State != chat.MatchActive {
		return chat.Match{}, fmt.Errorf("end match %s: already ended: %w", matchID, chat.ErrMatchNotFound)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE matches SET state = ?, ended_at = ?, end_reason = ?
		WHERE id = ?
	`, string(chat.MatchEnded), toMillis(at), reason, matchID)
	if err != nil {
		return chat.Match{}, fmt.Errorf("end match: update match: %w", err)
	}

	for _, id := range []chat.UserID{m.UserA, m.UserB} {
		_, err := tx.ExecContext(ctx, `
			UPDATE users SET status = ?, active_match = '', version = version + 1
			WHERE id = ? AND active_match = ?
		`, string(statusFor(id)), int64(id), matchID)
		if err != nil {
			return chat.Match{}, fmt.Errorf("end match: update user %d: %w", id, err)
		}
	}

	m, err = getMatch(ctx, tx, matchID)
	if err != nil {
		return chat.Match{}, fmt.Errorf("end match: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return chat.Match{}, fmt.Errorf("end match: commit: %w", err)
	}

	return m, nil
}
