package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/lasso/internal/chat"
	"github.com/roach88/lasso/internal/dialogue"
	"github.com/roach88/lasso/internal/engine"
	"github.com/roach88/lasso/internal/ingest"
	"github.com/roach88/lasso/internal/matching"
	"github.com/roach88/lasso/internal/notify"
	"github.com/roach88/lasso/internal/store"
	"github.com/roach88/lasso/internal/testutil"
)

// Harness runs one scenario against the real pipeline with a deterministic
// clock, sequential correlation ids and a scripted transport.
//
// Everything runs on the calling goroutine. Outbound messages are queued by
// the sink and delivered after each step; recipients found unreachable are
// suspended once the queue is flushed, outside the matching engine's lock.
type Harness struct {
	store    *store.Store
	matcher  *matching.Engine
	engine   *engine.Engine
	sender   *testutil.FakeSender
	notifier *notify.Notifier
	clock    *testutil.ManualTime
	result   *Result

	mu          sync.Mutex
	pending     []chat.OutboundMessage
	unreachable []chat.UserID

	seq       int64
	events    int
	aliases   map[string]string
	delivered int
}

// Run executes scenario in a fresh temporary database.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "lasso-harness-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "scenario.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(st)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := h.setup(ctx, scenario.Users); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	for i, step := range scenario.Steps {
		if err := h.runStep(ctx, i, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	for _, msg := range h.evaluate(ctx, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func newHarness(st *store.Store) (*Harness, error) {
	flow, err := dialogue.DefaultFlow()
	if err != nil {
		return nil, err
	}
	scorer, err := matching.NewScorer(matching.DefaultWeights)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		store:   st,
		sender:  testutil.NewFakeSender(),
		clock:   testutil.NewManualTime(testutil.Epoch),
		result:  NewResult(),
		aliases: make(map[string]string),
	}
	h.notifier = notify.New(h.sender,
		notify.WithAttempts(1),
		notify.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
		notify.WithOnPermanent(func(_ context.Context, id chat.UserID, _ error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.unreachable = append(h.unreachable, id)
		}),
	)
	h.matcher = matching.NewEngine(st, matching.NewMemoryQueue(), scorer, h, flow,
		matching.WithNow(h.clock.Now))

	in := ingest.New(ingest.NewMemoryDeduper(24*time.Hour, 10000),
		ingest.WithClock(testutil.NewDeterministicClock()),
		ingest.WithIDGenerator(testutil.NewSequentialIDs("corr")),
		ingest.WithNow(h.clock.Now),
	)
	h.engine = engine.New(in, dialogue.NewMachine(flow, st, h.matcher), h)
	return h, nil
}

// Submit queues messages for delivery at the end of the step.
func (h *Harness) Submit(_ context.Context, msgs ...chat.OutboundMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = append(h.pending, msgs...)
	return nil
}

func (h *Harness) setup(ctx context.Context, users []SetupUser) error {
	for _, su := range users {
		id := chat.UserID(su.ID)
		u, _, err := h.store.Create(ctx, chat.NewUser(id, h.clock.Now()))
		if err != nil {
			return err
		}
		u.Username = su.Username
		u.Profile = chat.Profile{Name: su.Name, Age: su.Age, Interests: su.Interests}
		u.Dialogue = chat.DialogueReady
		u.Status = chat.StatusIdle
		if su.Status != "" {
			u.Status = chat.MatchStatus(su.Status)
		}
		if _, err := h.store.CASUpdate(ctx, u, u.Version, ""); err != nil {
			return err
		}
		if u.Status == chat.StatusSeeking {
			if err := h.matcher.Join(ctx, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Harness) runStep(ctx context.Context, index int, step Step) error {
	before := h.delivered
	var matches []chat.Match

	switch {
	case step.Block != 0:
		h.sender.Block(chat.UserID(step.Block))
		h.trace(TraceEvent{Kind: TraceBlock, User: step.Block})

	case step.Pass:
		h.clock.Advance(time.Second)
		res, err := h.matcher.Pass(ctx)
		if err != nil {
			return err
		}
		matches = res.Matches
		ev := TraceEvent{Kind: TracePass, Matches: []TraceMatch{}}
		for _, m := range res.Matches {
			ev.Matches = append(ev.Matches, TraceMatch{
				ID:    h.alias(m.ID),
				UserA: int64(m.UserA),
				UserB: int64(m.UserB),
				Score: m.Score,
			})
		}
		h.trace(ev)

	default:
		h.clock.Advance(time.Second)
		raw := h.raw(step)
		h.trace(TraceEvent{
			Kind:     TraceInbound,
			User:     step.User,
			EventID:  raw.EventID,
			Text:     step.Text,
			Callback: step.Callback,
		})
		if _, err := h.engine.Process(ctx, raw); err != nil {
			return err
		}
	}

	if err := h.flush(ctx); err != nil {
		return err
	}
	h.checkExpect(index, step.Expect, h.result.Trace, before, len(matches))
	return nil
}

func (h *Harness) raw(step Step) ingest.RawEvent {
	id := step.EventID
	if id == "" {
		h.events++
		id = fmt.Sprintf("ev-%d", h.events)
	}
	return ingest.RawEvent{
		UserID:       chat.UserID(step.User),
		EventID:      id,
		Text:         step.Text,
		CallbackData: step.Callback,
		FirstName:    fmt.Sprintf("User%d", step.User),
		ReceivedAt:   h.clock.Now(),
	}
}

// flush delivers queued messages until none remain, suspending unreachable
// recipients between rounds.
func (h *Harness) flush(ctx context.Context) error {
	for {
		h.mu.Lock()
		msgs := h.pending
		h.pending = nil
		h.mu.Unlock()

		for _, m := range msgs {
			corr := m.CorrelationID
			if alias, ok := h.aliases[corr]; ok {
				corr = alias
			}
			if err := h.notifier.Deliver(ctx, m); err != nil {
				h.trace(TraceEvent{Kind: TraceUndeliverable, User: int64(m.UserID), Corr: corr})
				continue
			}
			h.delivered++
			h.trace(TraceEvent{
				Kind: TraceOutbound,
				User: int64(m.UserID),
				Text: m.Text,
				Corr: corr,
				Menu: len(m.Buttons) > 0,
			})
		}

		h.mu.Lock()
		gone := h.unreachable
		h.unreachable = nil
		h.mu.Unlock()

		for _, id := range gone {
			if err := h.matcher.Suspend(ctx, id, chat.EndUnreachable); err != nil && !errors.Is(err, chat.ErrUserNotFound) {
				return fmt.Errorf("suspend unreachable user %d: %w", id, err)
			}
		}

		if len(msgs) == 0 && len(gone) == 0 {
			return nil
		}
	}
}

func (h *Harness) trace(ev TraceEvent) {
	h.seq++
	ev.Seq = h.seq
	h.result.Trace = append(h.result.Trace, ev)
}

func (h *Harness) alias(matchID string) string {
	if a, ok := h.aliases[matchID]; ok {
		return a
	}
	a := fmt.Sprintf("match-%d", len(h.aliases)+1)
	h.aliases[matchID] = a
	return a
}

func (h *Harness) checkExpect(index int, want *Expect, trace []TraceEvent, before, matches int) {
	if want == nil {
		return
	}
	var texts []string
	for _, ev := range trace {
		if ev.Kind == TraceOutbound {
			texts = append(texts, ev.Text)
		}
	}
	texts = texts[before:]

	if want.Replies != nil && len(texts) != *want.Replies {
		h.result.AddError(fmt.Sprintf("steps[%d]: expected %d replies, got %d: %q", index, *want.Replies, len(texts), texts))
	}
	for _, sub := range want.Contains {
		found := false
		for _, t := range texts {
			if strings.Contains(t, sub) {
				found = true
				break
			}
		}
		if !found {
			h.result.AddError(fmt.Sprintf("steps[%d]: no reply contains %q", index, sub))
		}
	}
	if want.Matches != nil && matches != *want.Matches {
		h.result.AddError(fmt.Sprintf("steps[%d]: expected %d matches, got %d", index, *want.Matches, matches))
	}
}
