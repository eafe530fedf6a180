package chat

import "time"

// MatchState is the lifecycle state of a persisted Match.
type MatchState string

const (
	MatchActive MatchState = "active"
	MatchEnded  MatchState = "ended"
)

// End reasons recorded on a Match.
const (
	EndUnmatched   = "unmatched"
	EndPaused      = "paused"
	EndOptOut      = "opt_out"
	EndUnreachable = "unreachable"
)

// MatchCandidate is an ephemeral pairing proposal computed during a pass.
// A is always the lower user id.
type MatchCandidate struct {
	A     UserID
	B     UserID
	Score int
}

// Match is a committed pairing between two users.
type Match struct {
	ID        string
	UserA     UserID
	UserB     UserID
	Score     int
	State     MatchState
	// PassSeq is the matching pass that committed the pair.
	PassSeq   int64
	CreatedAt time.Time
	EndedAt   time.Time
	EndReason string
}

// Partner returns the other side of the match.
func (m Match) Partner(id UserID) (UserID, bool) {
	switch id {
	case m.UserA:
		return m.UserB, true
	case m.UserB:
		return m.UserA, true
	}
	return 0, false
}

// NormalizePair orders two ids so the lower comes first.
func NormalizePair(a, b UserID) (UserID, UserID) {
	if b < a {
		return b, a
	}
	return a, b
}
