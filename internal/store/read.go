package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/lasso/internal/chat"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const userColumns = `id, name, age, interests, username, first_name, last_name,
	dialogue, status, active_match, retired, version, registered_at, last_activity_at`

const matchColumns = `id, user_a, user_b, score, state, pass_seq, created_at, ended_at, end_reason`

// Get returns the user with the given id or chat.ErrUserNotFound.
func (s *Store) Get(ctx context.Context, id chat.UserID) (chat.User, error) {
	u, err := getUser(ctx, s.db, id)
	if err != nil {
		return chat.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func getUser(ctx context.Context, q querier, id chat.UserID) (chat.User, error) {
	row := q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, int64(id))
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.User{}, fmt.Errorf("user %d: %w", id, chat.ErrUserNotFound)
	}
	return u, err
}

// IsApplied reports whether the dialogue already committed eventID for the user.
func (s *Store) IsApplied(ctx context.Context, id chat.UserID, eventID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM applied_events
		WHERE user_id = ? AND event_id = ?
	`, int64(id), eventID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check applied event: %w", err)
	}
	return count > 0, nil
}

// ListByStatus returns every user with the given match status, ordered by id.
// Returns an empty slice (not nil) if none match.
func (s *Store) ListByStatus(ctx context.Context, status chat.MatchStatus) ([]chat.User, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("list users: unknown status %q", status)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE status = ?
		ORDER BY id ASC
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query users by status: %w", err)
	}
	defer rows.Close()

	users := []chat.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// CountByStatus returns the number of users per match status. Every known
// status is present in the result, zero or not.
func (s *Store) CountByStatus(ctx context.Context) (map[chat.MatchStatus]int, error) {
	counts := map[chat.MatchStatus]int{
		chat.StatusIdle:    0,
		chat.StatusSeeking: 0,
		chat.StatusMatched: 0,
		chat.StatusPaused:  0,
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM users GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count users by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[chat.MatchStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

// GetMatch returns the match with the given id or chat.ErrMatchNotFound.
func (s *Store) GetMatch(ctx context.Context, id string) (chat.Match, error) {
	m, err := getMatch(ctx, s.db, id)
	if err != nil {
		return chat.Match{}, fmt.Errorf("get match: %w", err)
	}
	return m, nil
}

func getMatch(ctx context.Context, q querier, id string) (chat.Match, error) {
	row := q.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, id)
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Match{}, fmt.Errorf("match %s: %w", id, chat.ErrMatchNotFound)
	}
	return m, err
}

// ActiveMatchFor returns the user's active match or chat.ErrMatchNotFound.
func (s *Store) ActiveMatchFor(ctx context.Context, id chat.UserID) (chat.Match, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+matchColumns+` FROM matches
		WHERE state = ? AND (user_a = ? OR user_b = ?)
	`, string(chat.MatchActive), int64(id), int64(id))
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Match{}, fmt.Errorf("active match for user %d: %w", id, chat.ErrMatchNotFound)
	}
	if err != nil {
		return chat.Match{}, fmt.Errorf("active match for user %d: %w", id, err)
	}
	return m, nil
}

// MatchFilter narrows ListMatches. Zero values mean "any" and "no limit".
type MatchFilter struct {
	State  chat.MatchState
	UserID chat.UserID
	Limit  int
}

// ListMatches returns matches newest first, ties broken by id.
// Returns an empty slice (not nil) if none match.
func (s *Store) ListMatches(ctx context.Context, f MatchFilter) ([]chat.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE 1 = 1`
	var args []any
	if f.State != "" {
		query += ` AND state = ?`
		args = append(args, string(f.State))
	}
	if f.UserID != 0 {
		query += ` AND (user_a = ? OR user_b = ?)`
		args = append(args, int64(f.UserID), int64(f.UserID))
	}
	query += ` ORDER BY created_at DESC, id COLLATE BINARY ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer rows.Close()

	matches := []chat.Match{}
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return matches, nil
}

// CountMatches returns the number of matches per state.
func (s *Store) CountMatches(ctx context.Context) (map[chat.MatchState]int, error) {
	counts := map[chat.MatchState]int{chat.MatchActive: 0, chat.MatchEnded: 0}

	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM matches GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count matches: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan match count: %w", err)
		}
		counts[chat.MatchState(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate match counts: %w", err)
	}
	return counts, nil
}

// LastPassSeq returns the highest matching pass that committed a match, or 0.
func (s *Store) LastPassSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(pass_seq), 0) FROM matches`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last pass seq: %w", err)
	}
	return seq, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (chat.User, error) {
	var (
		u                      chat.User
		id                     int64
		interests              string
		dialogue, status       string
		retired                int
		registered, lastActive int64
	)
	err := row.Scan(
		&id,
		&u.Profile.Name,
		&u.Profile.Age,
		&interests,
		&u.Username,
		&u.FirstName,
		&u.LastName,
		&dialogue,
		&status,
		&u.ActiveMatch,
		&retired,
		&u.Version,
		&registered,
		&lastActive,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.User{}, err
		}
		return chat.User{}, fmt.Errorf("scan user: %w", err)
	}

	u.ID = chat.UserID(id)
	u.Dialogue = chat.DialogueState(dialogue)
	u.Status = chat.MatchStatus(status)
	u.Retired = retired != 0
	u.RegisteredAt = fromMillis(registered)
	u.LastActivityAt = fromMillis(lastActive)
	u.Profile.Interests, err = unmarshalInterests(interests)
	if err != nil {
		return chat.User{}, fmt.Errorf("scan user %d: %w", id, err)
	}
	return u, nil
}

func scanMatch(row scanner) (chat.Match, error) {
	var (
		m              chat.Match
		a, b           int64
		state          string
		created, ended int64
	)
	err := row.Scan(&m.ID, &a, &b, &m.Score, &state, &m.PassSeq, &created, &ended, &m.EndReason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Match{}, err
		}
		return chat.Match{}, fmt.Errorf("scan match: %w", err)
	}
	m.UserA = chat.UserID(a)
	m.UserB = chat.UserID(b)
	m.State = chat.MatchState(state)
	m.CreatedAt = fromMillis(created)
	m.EndedAt = fromMillis(ended)
	return m, nil
}
