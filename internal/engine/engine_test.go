package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lasso/internal/chat"
	"github.com/roach88/lasso/internal/dialogue"
	"github.com/roach88/lasso/internal/ingest"
	"github.com/roach88/lasso/internal/matching"
	"github.com/roach88/lasso/internal/notify"
	"github.com/roach88/lasso/internal/store"
	"github.com/roach88/lasso/internal/testutil"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

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

func (r *recordingSink) to(id chat.UserID) []chat.OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []chat.OutboundMessage
	for _, m := range r.msgs {
		if m.UserID == id {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	t       *testing.T
	store   *store.Store
	flow    *dialogue.Flow
	matcher *matching.Engine
	sink    *recordingSink
	engine  *Engine
	seq     int
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	scorer, err := matching.NewScorer(matching.DefaultWeights)
	require.NoError(t, err)

	flow := dialogue.MustDefaultFlow()
	sink := &recordingSink{}
	matcher := matching.NewEngine(s, matching.NewMemoryQueue(), scorer, sink, flow,
		matching.WithNow(func() time.Time { return testNow }))
	machine := dialogue.NewMachine(flow, s, matcher)

	in := ingest.New(ingest.NewMemoryDeduper(time.Hour, 1000),
		ingest.WithClock(testutil.NewDeterministicClock()),
		ingest.WithIDGenerator(testutil.NewSequentialIDs("corr")),
		ingest.WithNow(func() time.Time { return testNow }),
	)

	return &fixture{
		t:       t,
		store:   s,
		flow:    flow,
		matcher: matcher,
		sink:    sink,
		engine:  New(in, machine, sink, opts...),
	}
}

func (f *fixture) raw(id chat.UserID, text string) ingest.RawEvent {
	f.seq++
	return ingest.RawEvent{
		UserID:     id,
		EventID:    fmt.Sprintf("u%d-%d", id, f.seq),
		Text:       text,
		FirstName:  "Tester",
		ReceivedAt: testNow.Add(time.Duration(f.seq) * time.Second),
	}
}

func (f *fixture) callback(id chat.UserID, data string) ingest.RawEvent {
	raw := f.raw(id, "")
	raw.CallbackData = data
	return raw
}

func (f *fixture) process(raw ingest.RawEvent) []chat.OutboundMessage {
	f.t.Helper()
	out, err := f.engine.Process(context.Background(), raw)
	require.NoError(f.t, err)
	return out
}

func (f *fixture) onboard(id chat.UserID, name, age, interests string) {
	f.t.Helper()
	for _, text := range []string{"hi", name, age, interests} {
		f.process(f.raw(id, text))
	}
	u, err := f.store.Get(context.Background(), id)
	require.NoError(f.t, err)
	require.Equal(f.t, chat.DialogueReady, u.Dialogue)
}

func TestProcess_FirstContactPromptsForName(t *testing.T) {
	f := newFixture(t)

	out := f.process(f.raw(1, "hello"))
	require.Len(t, out, 2)

	step, ok := f.flow.Step(chat.DialogueAwaitingName)
	require.True(t, ok)
	assert.Equal(t, step.Prompt, out[1].Text)
	assert.Equal(t, "corr-1", out[0].CorrelationID)
	assert.Equal(t, out, f.sink.to(1), "replies reach the sink")

	assert.Equal(t, Stats{Accepted: 1, Replies: 2}, f.engine.Stats())
}

// A redelivered event is dropped before the state machine sees it.
func TestProcess_DuplicateDropped(t *testing.T) {
	f := newFixture(t)

	raw := f.raw(1, "hello")
	first := f.process(raw)
	require.NotEmpty(t, first)

	again := f.process(raw)
	assert.Empty(t, again)
	assert.Len(t, f.sink.to(1), len(first))

	stats := f.engine.Stats()
	assert.Equal(t, int64(1), stats.Accepted)
	assert.Equal(t, int64(1), stats.Duplicates)
}

func TestProcess_MalformedRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Process(context.Background(), ingest.RawEvent{EventID: "x", Text: "hi"})
	assert.ErrorIs(t, err, ingest.ErrMalformedEvent)
	assert.Equal(t, int64(1), f.engine.Stats().Rejected)
}

// Two onboarded seekers are paired by the next matching pass and both are
// told who they matched with.
func TestProcess_OnboardSeekAndMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.onboard(1, "Alice", "30", "jazz, hiking")
	f.onboard(2, "Bob", "32", "jazz, chess")
	f.process(f.callback(1, "seek"))
	f.process(f.callback(2, "seek"))

	res, err := f.matcher.Pass(ctx)
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	m := res.Matches[0]

	alice, err := f.store.Get(ctx, 1)
	require.NoError(t, err)
	bob, err := f.store.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, chat.StatusMatched, alice.Status)
	assert.Equal(t, chat.StatusMatched, bob.Status)
	assert.Equal(t, m.ID, alice.ActiveMatch)
	assert.Equal(t, m.ID, bob.ActiveMatch)

	last := func(id chat.UserID) chat.OutboundMessage {
		msgs := f.sink.to(id)
		require.NotEmpty(t, msgs)
		return msgs[len(msgs)-1]
	}
	assert.Equal(t, m.ID, last(1).CorrelationID)
	assert.Contains(t, last(1).Text, "Bob")
	assert.Contains(t, last(2).Text, "Alice")
}

type failingHandler struct {
	next Handler
	fail chat.UserID
}

func (h failingHandler) Handle(ctx context.Context, ev chat.ConversationEvent) ([]chat.OutboundMessage, error) {
	if ev.UserID == h.fail {
		return nil, errors.New("boom")
	}
	return h.next.Handle(ctx, ev)
}

// Events flow through the lanes into a real outbox; a handler failure for
// one user is logged and does not stop the others.
func TestRun_DeliversThroughOutbox(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	scorer, err := matching.NewScorer(matching.DefaultWeights)
	require.NoError(t, err)
	flow := dialogue.MustDefaultFlow()

	sender := testutil.NewFakeSender()
	outbox := notify.NewOutbox(notify.New(sender), 2, 32)
	matcher := matching.NewEngine(s, matching.NewMemoryQueue(), scorer, outbox, flow)
	machine := dialogue.NewMachine(flow, s, matcher)

	in := ingest.New(ingest.NewMemoryDeduper(time.Hour, 1000))
	e := New(in, failingHandler{next: machine, fail: 3}, outbox, WithLanes(4, 8))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = e.Run(ctx) }()
	go func() { defer wg.Done(); _ = outbox.Run(ctx) }()

	script := []string{"hi", "Carol", "41", "books, tea"}
	for i, text := range script {
		for u := chat.UserID(1); u <= 3; u++ {
			require.NoError(t, e.Submit(ctx, ingest.RawEvent{
				UserID:  u,
				EventID: fmt.Sprintf("%d-%d", u, i),
				Text:    text,
			}))
		}
	}

	require.Eventually(t, func() bool {
		for u := chat.UserID(1); u <= 2; u++ {
			got, err := s.Get(context.Background(), u)
			if err != nil || got.Dialogue != chat.DialogueReady {
				return false
			}
		}
		return len(sender.SentTo(1)) == 5 && len(sender.SentTo(2)) == 5
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	wg.Wait()

	_, err = s.Get(context.Background(), 3)
	assert.ErrorIs(t, err, chat.ErrUserNotFound)
	assert.Empty(t, sender.SentTo(3))

	stats := e.Stats()
	assert.Equal(t, int64(12), stats.Accepted)
	assert.Equal(t, int64(4), stats.Failed)
}
