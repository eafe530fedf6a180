package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lasso/internal/chat"
	"github.com/roach88/lasso/internal/engine"
	"github.com/roach88/lasso/internal/matching"
	"github.com/roach88/lasso/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t      *testing.T
	store  *store.Store
	queue  *matching.MemoryQueue
	router *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	q := matching.NewMemoryQueue()
	return &fixture{
		t:     t,
		store: s,
		queue: q,
		router: NewRouter(Config{
			Store: s,
			Queue: q,
			Stats: func() engine.Stats { return engine.Stats{Accepted: 7, Duplicates: 1} },
		}),
	}
}

func (f *fixture) seeker(id chat.UserID, name string) chat.User {
	f.t.Helper()
	ctx := context.Background()
	u, _, err := f.store.Create(ctx, chat.NewUser(id, testNow))
	require.NoError(f.t, err)
	u.Username = "u" + id.String()
	u.Profile = chat.Profile{Name: name, Age: 30, Interests: []string{"jazz"}}
	u.Dialogue = chat.DialogueReady
	u.Status = chat.StatusSeeking
	u, err = f.store.CASUpdate(ctx, u, u.Version, "")
	require.NoError(f.t, err)
	return u
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	f.t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.get("/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

type downStore struct{ Reader }

func (downStore) Ping() error { return errors.New("disk gone") }

func TestHealthz_StoreDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(Config{Store: downStore{}})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "store_unavailable", decode[errorEnvelope](t, rec).Error.Code)
}

func TestGetUser(t *testing.T) {
	f := newFixture(t)
	f.seeker(42, "Alice")

	rec := f.get("/v1/users/42")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[UserView](t, rec)
	assert.Equal(t, int64(42), got.ID)
	assert.Equal(t, "Alice", got.DisplayName)
	assert.Equal(t, "u42", got.Username)
	assert.Equal(t, []string{"jazz"}, got.Profile.Interests)
	assert.Equal(t, "ready", got.Dialogue)
	assert.Equal(t, "seeking", got.Status)
	assert.True(t, got.RegisteredAt.Equal(testNow))
}

func TestGetUser_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		path   string
		status int
		code   string
	}{
		{path: "/v1/users/abc", status: http.StatusBadRequest, code: "invalid_user_id"},
		{path: "/v1/users/-3", status: http.StatusBadRequest, code: "invalid_user_id"},
		{path: "/v1/users/99", status: http.StatusNotFound, code: "user_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := f.get(tt.path)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode[errorEnvelope](t, rec).Error.Code)
		})
	}
}

func (f *fixture) match(id string, a, b chat.User, created time.Time) {
	f.t.Helper()
	_, _, err := f.store.CommitMatch(context.Background(), chat.Match{
		ID: id, UserA: a.ID, UserB: b.ID, Score: 900, State: chat.MatchActive, PassSeq: 1, CreatedAt: created,
	}, a, b)
	require.NoError(f.t, err)
}

func TestListMatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.match("m-old", f.seeker(1, "A"), f.seeker(2, "B"), testNow)
	f.match("m-new", f.seeker(3, "C"), f.seeker(4, "D"), testNow.Add(time.Minute))
	_, err := f.store.EndMatch(ctx, "m-old", chat.EndUnmatched, testNow.Add(time.Hour),
		func(chat.UserID) chat.MatchStatus { return chat.StatusIdle })
	require.NoError(t, err)

	type page struct {
		Matches []MatchView `json:"matches"`
	}

	all := decode[page](t, f.get("/v1/matches"))
	require.Len(t, all.Matches, 2)
	assert.Equal(t, "m-new", all.Matches[0].ID, "newest first")
	assert.Nil(t, all.Matches[0].EndedAt)

	ended := decode[page](t, f.get("/v1/matches?status=ended"))
	require.Len(t, ended.Matches, 1)
	assert.Equal(t, "m-old", ended.Matches[0].ID)
	assert.Equal(t, chat.EndUnmatched, ended.Matches[0].EndReason)
	require.NotNil(t, ended.Matches[0].EndedAt)

	limited := decode[page](t, f.get("/v1/matches?limit=1"))
	assert.Len(t, limited.Matches, 1)

	byUser := decode[page](t, f.get("/v1/matches?user=3"))
	require.Len(t, byUser.Matches, 1)
	assert.Equal(t, "m-new", byUser.Matches[0].ID)
}

func TestListMatches_BadQuery(t *testing.T) {
	f := newFixture(t)
	for _, q := range []string{"?status=pending", "?limit=0", "?limit=x", "?user=nope"} {
		rec := f.get("/v1/matches" + q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.match("m-1", f.seeker(1, "A"), f.seeker(2, "B"), testNow)
	f.seeker(3, "C")
	_, err := f.queue.Enqueue(ctx, 3)
	require.NoError(t, err)

	rec := f.get("/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[statsView](t, rec)
	assert.Equal(t, 2, got.Users["matched"])
	assert.Equal(t, 1, got.Users["seeking"])
	assert.Equal(t, 1, got.Matches["active"])
	assert.Equal(t, 0, got.Matches["ended"])
	assert.Equal(t, 1, got.QueueLength)
	require.NotNil(t, got.Events)
	assert.Equal(t, int64(7), got.Events.Accepted)
}
