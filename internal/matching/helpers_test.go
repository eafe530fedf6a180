package matching

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/lasso/internal/chat"
	"github.com/roach88/lasso/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// recordingSink collects submitted messages.
type recordingSink struct {
	mu   sync.Mutex
	msgs []chat.OutboundMessage
}

func (r *recordingSink) Submit(_ context.Context, msgs ...chat.OutboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msgs...)
	return nil
}

func (r *recordingSink) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = fmt.Sprintf("%d %s", m.UserID, m.Text)
	}
	sort.Strings(out)
	return out
}

// keyTexts renders "key partner" so assertions stay independent of copy.
type keyTexts struct{}

func (keyTexts) Render(key string, vars map[string]string) string {
	return strings.TrimSpace(key + " " + vars["partner"])
}

type fixture struct {
	t      *testing.T
	store  *store.Store
	queue  *MemoryQueue
	sink   *recordingSink
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return newFixtureWithStore(t, s, s)
}

func newFixtureWithStore(t *testing.T, s *store.Store, es Store) *fixture {
	t.Helper()
	scorer, err := NewScorer(DefaultWeights)
	require.NoError(t, err)

	f := &fixture{t: t, store: s, queue: NewMemoryQueue(), sink: &recordingSink{}}
	f.engine = NewEngine(es, f.queue, scorer, f.sink, keyTexts{}, WithNow(func() time.Time { return testNow }))
	return f
}

// seeker creates an onboarded user with the given status and queues them
// when seeking.
func (f *fixture) seeker(id chat.UserID, name string, age int, interests ...string) chat.User {
	f.t.Helper()
	ctx := context.Background()
	u, _, err := f.store.Create(ctx, chat.NewUser(id, testNow))
	require.NoError(f.t, err)

	u.Profile = chat.Profile{Name: name, Age: age, Interests: interests}
	u.Dialogue = chat.DialogueReady
	u.Status = chat.StatusSeeking
	u, err = f.store.CASUpdate(ctx, u, u.Version, "")
	require.NoError(f.t, err)

	_, err = f.queue.Enqueue(ctx, id)
	require.NoError(f.t, err)
	return u
}

func (f *fixture) user(id chat.UserID) chat.User {
	f.t.Helper()
	u, err := f.store.Get(context.Background(), id)
	require.NoError(f.t, err)
	return u
}

func (f *fixture) setStatus(id chat.UserID, status chat.MatchStatus) {
	f.t.Helper()
	_, err := f.store.Upsert(context.Background(), id, func(u *chat.User) error {
		u.Status = status
		return nil
	})
	require.NoError(f.t, err)
}
