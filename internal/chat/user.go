package chat

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// UserID is the transport-assigned user identifier.
type UserID int64

// String renders the id in base 10.
func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseUserID parses a base-10 user id.
func ParseUserID(s string) (UserID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse user id %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("parse user id %q: must be positive", s)
	}
	return UserID(n), nil
}

// DialogueState is the user's current step in the onboarding/editing flow.
type DialogueState string

const (
	// DialogueNew is the state of a user record that has not been prompted yet.
	DialogueNew DialogueState = "new"
	// DialogueAwaitingName waits for the display name.
	DialogueAwaitingName DialogueState = "awaiting_name"
	// DialogueAwaitingAge waits for the age.
	DialogueAwaitingAge DialogueState = "awaiting_age"
	// DialogueAwaitingInterests waits for the comma-separated interest list.
	DialogueAwaitingInterests DialogueState = "awaiting_interests"
	// DialogueReady is the terminal onboarding state.
	DialogueReady DialogueState = "ready"
)

// MatchStatus tracks a user's participation in matching.
type MatchStatus string

const (
	StatusIdle    MatchStatus = "idle"
	StatusSeeking MatchStatus = "seeking"
	StatusMatched MatchStatus = "matched"
	StatusPaused  MatchStatus = "paused"
)

// Valid reports whether s is one of the known statuses.
func (s MatchStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusSeeking, StatusMatched, StatusPaused:
		return true
	}
	return false
}

// Profile holds the fields collected during onboarding.
// Zero values mean "not supplied yet".
type Profile struct {
	Name      string
	Age       int
	Interests []string
}

// Complete reports whether every onboarding field has been supplied.
func (p Profile) Complete() bool {
	return p.Name != "" && p.Age > 0 && len(p.Interests) > 0
}

// User is the versioned per-user record.
type User struct {
	ID      UserID
	Profile Profile

	// Transport-supplied identity, refreshed on every event.
	Username  string
	FirstName string
	LastName  string

	Dialogue    DialogueState
	Status      MatchStatus
	ActiveMatch string
	Retired     bool

	Version        int64
	RegisteredAt   time.Time
	LastActivityAt time.Time
}

// NewUser returns the record created on a user's first inbound event.
func NewUser(id UserID, now time.Time) User {
	return User{
		ID:             id,
		Dialogue:       DialogueNew,
		Status:         StatusIdle,
		RegisteredAt:   now.UTC(),
		LastActivityAt: now.UTC(),
	}
}

// Clone returns a deep copy so snapshots can be mutated safely.
func (u User) Clone() User {
	c := u
	if u.Profile.Interests != nil {
		c.Profile.Interests = append([]string(nil), u.Profile.Interests...)
	}
	return c
}

// DisplayName prefers the onboarding name, then transport names.
func (u User) DisplayName() string {
	switch {
	case u.Profile.Name != "":
		return u.Profile.Name
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return "@" + u.Username
	}
	return "user " + u.ID.String()
}
