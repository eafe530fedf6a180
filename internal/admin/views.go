package admin

import (
	"time"

	"github.com/roach88/lasso/internal/chat"
)

// ProfileView is the JSON shape of a profile.
type ProfileView struct {
	Name      string   `json:"name,omitempty"`
	Age       int      `json:"age,omitempty"`
	Interests []string `json:"interests"`
}

// UserView is the JSON shape of a user record.
type UserView struct {
	ID             int64       `json:"id"`
	Username       string      `json:"username,omitempty"`
	DisplayName    string      `json:"display_name"`
	Profile        ProfileView `json:"profile"`
	Dialogue       string      `json:"dialogue"`
	Status         string      `json:"status"`
	ActiveMatch    string      `json:"active_match,omitempty"`
	Retired        bool        `json:"retired"`
	Version        int64       `json:"version"`
	RegisteredAt   time.Time   `json:"registered_at"`
	LastActivityAt time.Time   `json:"last_activity_at"`
}

// NewUserView renders u. Interests are never null.
func NewUserView(u chat.User) UserView {
	interests := u.Profile.Interests
	if interests == nil {
		interests = []string{}
	}
	return UserView{
		ID:             int64(u.ID),
		Username:       u.Username,
		DisplayName:    u.DisplayName(),
		Profile:        ProfileView{Name: u.Profile.Name, Age: u.Profile.Age, Interests: interests},
		Dialogue:       string(u.Dialogue),
		Status:         string(u.Status),
		ActiveMatch:    u.ActiveMatch,
		Retired:        u.Retired,
		Version:        u.Version,
		RegisteredAt:   u.RegisteredAt,
		LastActivityAt: u.LastActivityAt,
	}
}

// MatchView is the JSON shape of a match. EndedAt is omitted while active.
type MatchView struct {
	ID        string     `json:"id"`
	UserA     int64      `json:"user_a"`
	UserB     int64      `json:"user_b"`
	Score     int        `json:"score"`
	State     string     `json:"state"`
	PassSeq   int64      `json:"pass_seq"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
}

// NewMatchView renders m.
func NewMatchView(m chat.Match) MatchView {
	v := MatchView{
		ID:        m.ID,
		UserA:     int64(m.UserA),
		UserB:     int64(m.UserB),
		Score:     m.Score,
		State:     string(m.State),
		PassSeq:   m.PassSeq,
		CreatedAt: m.CreatedAt,
		EndReason: m.EndReason,
	}
	if !m.EndedAt.IsZero() {
		ended := m.EndedAt
		v.EndedAt = &ended
	}
	return v
}
