package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lasso/internal/chat"
)

func TestGet_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Get(context.Background(), 404)
	assert.ErrorIs(t, err, chat.ErrUserNotFound)
}

func TestListByStatus_OrderedByID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	createSeekingUser(t, s, 30, 25, "a")
	createSeekingUser(t, s, 10, 25, "a")
	createSeekingUser(t, s, 20, 25, "a")
	_, _, err := s.Create(ctx, chat.NewUser(40, testNow))
	require.NoError(t, err)

	seeking, err := s.ListByStatus(ctx, chat.StatusSeeking)
	require.NoError(t, err)
	require.Len(t, seeking, 3)
	assert.Equal(t, chat.UserID(10), seeking[0].ID)
	assert.Equal(t, chat.UserID(20), seeking[1].ID)
	assert.Equal(t, chat.UserID(30), seeking[2].ID)

	paused, err := s.ListByStatus(ctx, chat.StatusPaused)
	require.NoError(t, err)
	assert.NotNil(t, paused)
	assert.Empty(t, paused)

	_, err = s.ListByStatus(ctx, chat.MatchStatus("lost"))
	assert.ErrorContains(t, err, `unknown status "lost"`)
}

func TestCountByStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	createSeekingUser(t, s, 1, 25, "a")
	createSeekingUser(t, s, 2, 25, "a")
	_, _, err := s.Create(ctx, chat.NewUser(3, testNow))
	require.NoError(t, err)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[chat.MatchStatus]int{
		chat.StatusIdle:    1,
		chat.StatusSeeking: 2,
		chat.StatusMatched: 0,
		chat.StatusPaused:  0,
	}, counts)
}

func TestListMatches_Filters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	u1 := createSeekingUser(t, s, 1, 25, "a")
	u2 := createSeekingUser(t, s, 2, 25, "a")
	u3 := createSeekingUser(t, s, 3, 25, "a")
	u4 := createSeekingUser(t, s, 4, 25, "a")

	_, _, err := s.CommitMatch(ctx, chat.Match{ID: "m_old", Score: 1, PassSeq: 1, CreatedAt: testNow}, u1, u2)
	require.NoError(t, err)
	_, _, err = s.CommitMatch(ctx, chat.Match{ID: "m_new", Score: 2, PassSeq: 2, CreatedAt: testNow.Add(time.Minute)}, u3, u4)
	require.NoError(t, err)
	_, err = s.EndMatch(ctx, "m_old", chat.EndUnmatched, testNow.Add(2*time.Minute), func(chat.UserID) chat.MatchStatus {
		return chat.StatusIdle
	})
	require.NoError(t, err)

	all, err := s.ListMatches(ctx, MatchFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "m_new", all[0].ID, "newest first")

	active, err := s.ListMatches(ctx, MatchFilter{State: chat.MatchActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "m_new", active[0].ID)

	forUser, err := s.ListMatches(ctx, MatchFilter{UserID: 2})
	require.NoError(t, err)
	require.Len(t, forUser, 1)
	assert.Equal(t, "m_old", forUser[0].ID)

	limited, err := s.ListMatches(ctx, MatchFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	counts, err := s.CountMatches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[chat.MatchActive])
	assert.Equal(t, 1, counts[chat.MatchEnded])

	m, err := s.ActiveMatchFor(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "m_new", m.ID)
	partner, ok := m.Partner(4)
	assert.True(t, ok)
	assert.Equal(t, chat.UserID(3), partner)
}

func TestLastPassSeq_Empty(t *testing.T) {
	s := createTestStore(t)

	seq, err := s.LastPassSeq(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)
}
