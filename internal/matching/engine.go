package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/lasso/internal/canon"
	"github.com/roach88/lasso/internal/chat"
)

// DefaultCommitRetries bounds re-reads after a CommitMatch conflict.
const DefaultCommitRetries = 3

// Store is the slice of the profile store the engine needs.
type Store interface {
	Get(ctx context.Context, id chat.UserID) (chat.User, error)
	Upsert(ctx context.Context, id chat.UserID, mutate func(*chat.User) error) (chat.User, error)
	ListByStatus(ctx context.Context, status chat.MatchStatus) ([]chat.User, error)
	CommitMatch(ctx context.Context, m chat.Match, a, b chat.User) (chat.User, chat.User, error)
	EndMatch(ctx context.Context, matchID, reason string, at time.Time, statusFor func(chat.UserID) chat.MatchStatus) (chat.Match, error)
	ActiveMatchFor(ctx context.Context, id chat.UserID) (chat.Match, error)
	LastPassSeq(ctx context.Context) (int64, error)
}

// Sink accepts outbound messages for delivery after state has committed.
type Sink interface {
	Submit(ctx context.Context, msgs ...chat.OutboundMessage) error
}

// Texts renders user-facing message templates.
type Texts interface {
	Render(key string, vars map[string]string) string
}

// PassResult summarizes one matching pass.
type PassResult struct {
	Seq      int64
	Drained  int
	Eligible int
	Matches  []chat.Match
	Requeued int
}

// Engine pairs seeking users and is the only component that moves users
// into or out of matched. Pass, Unmatch and Suspend are serialized.
type Engine struct {
	store   Store
	queue   Queue
	scorer  *Scorer
	sink    Sink
	texts   Texts
	now     func() time.Time
	retries int

	commitMu sync.Mutex
	passSeq  atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithNow sets the engine's time source.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCommitRetries sets how often a conflicting pair is re-read.
func WithCommitRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.retries = n
		}
	}
}

// NewEngine creates an engine.
func NewEngine(s Store, q Queue, scorer *Scorer, sink Sink, texts Texts, opts ...Option) *Engine {
	e := &Engine{
		store:   s,
		queue:   q,
		scorer:  scorer,
		sink:    sink,
		texts:   texts,
		now:     time.Now,
		retries: DefaultCommitRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Queue returns the engine's queue.
func (e *Engine) Queue() Queue {
	return e.queue
}

// Join puts a seeking user in the queue.
func (e *Engine) Join(ctx context.Context, id chat.UserID) error {
	_, err := e.queue.Enqueue(ctx, id)
	return err
}

// Leave takes a user out of the queue.
func (e *Engine) Leave(ctx context.Context, id chat.UserID) error {
	return e.queue.Remove(ctx, id)
}

// Rehydrate restores the pass counter and re-enqueues every seeking user.
// Run it once at start-up, before the scheduler.
func (e *Engine) Rehydrate(ctx context.Context) (int, error) {
	last, err := e.store.LastPassSeq(ctx)
	if err != nil {
		return 0, fmt.Errorf("rehydrate: %w", err)
	}
	for {
		cur := e.passSeq.Load()
		if cur >= last || e.passSeq.CompareAndSwap(cur, last) {
			break
		}
	}

	users, err := e.store.ListByStatus(ctx, chat.StatusSeeking)
	if err != nil {
		return 0, fmt.Errorf("rehydrate: %w", err)
	}
	n := 0
	for _, u := range users {
		if !eligible(u) {
			continue
		}
		added, err := e.queue.Enqueue(ctx, u.ID)
		if err != nil {
			return n, fmt.Errorf("rehydrate: %w", err)
		}
		if added {
			n++
		}
	}
	slog.Info("matching rehydrated", "pass_seq", e.passSeq.Load(), "enqueued", n)
	return n, nil
}

// Pass drains the queue and commits the best exclusive pairs among users
// who are still seeking. Unpaired seekers go back in the queue.
func (e *Engine) Pass(ctx context.Context) (PassResult, error) {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	ids, err := e.queue.DrainAll(ctx)
	if err != nil {
		return PassResult{}, fmt.Errorf("pass: drain: %w", err)
	}
	res := PassResult{Drained: len(ids)}
	if len(ids) == 0 {
		return res, nil
	}
	res.Seq = e.passSeq.Add(1)

	pool := make([]chat.User, 0, len(ids))
	byID := make(map[chat.UserID]chat.User, len(ids))
	for _, id := range ids {
		u, err := e.store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, chat.ErrUserNotFound) {
				continue
			}
			e.requeue(ctx, ids)
			return res, fmt.Errorf("pass: load user %d: %w", id, err)
		}
		if !eligible(u) {
			continue
		}
		pool = append(pool, u)
		byID[u.ID] = u
	}
	res.Eligible = len(pool)

	taken := make(map[chat.UserID]bool)
	for _, c := range e.scorer.Candidates(pool) {
		if taken[c.A] || taken[c.B] {
			continue
		}
		m, ua, ub, ok, err := e.commitPair(ctx, res.Seq, c, byID)
		if err != nil {
			slog.Error("commit match failed",
				"user_a", int64(c.A),
				"user_b", int64(c.B),
				"error", err,
			)
			continue
		}
		if !ok {
			continue
		}
		taken[c.A], taken[c.B] = true, true
		res.Matches = append(res.Matches, m)
		e.announce(ctx, m, ua, ub)
	}

	var leftovers []chat.UserID
	for _, u := range pool {
		if taken[u.ID] {
			continue
		}
		fresh, err := e.store.Get(ctx, u.ID)
		if err != nil || !eligible(fresh) {
			continue
		}
		leftovers = append(leftovers, u.ID)
	}
	if err := e.queue.Restore(ctx, leftovers...); err != nil {
		slog.Error("requeue failed", "count", len(leftovers), "error", err)
	} else {
		res.Requeued = len(leftovers)
	}

	slog.Info("matching pass complete",
		"pass_seq", res.Seq,
		"drained", res.Drained,
		"eligible", res.Eligible,
		"matches", len(res.Matches),
		"requeued", res.Requeued,
	)
	return res, nil
}

// commitPair commits candidate c, re-reading both users after a conflict.
// ok is false when either user stopped being available or the pair no
// longer qualifies.
func (e *Engine) commitPair(ctx context.Context, seq int64, c chat.MatchCandidate, byID map[chat.UserID]chat.User) (chat.Match, chat.User, chat.User, bool, error) {
	a, b := byID[c.A], byID[c.B]
	score := c.Score

	for attempt := 0; attempt < e.retries; attempt++ {
		m := chat.Match{
			ID:        canon.MatchID(int64(c.A), int64(c.B), seq),
			UserA:     c.A,
			UserB:     c.B,
			Score:     score,
			State:     chat.MatchActive,
			PassSeq:   seq,
			CreatedAt: e.now().UTC(),
		}
		ua, ub, err := e.store.CommitMatch(ctx, m, a, b)
		if err == nil {
			return m, ua, ub, true, nil
		}
		if !chat.IsConflict(err) {
			return chat.Match{}, chat.User{}, chat.User{}, false, err
		}

		if a, err = e.store.Get(ctx, c.A); err != nil {
			return chat.Match{}, chat.User{}, chat.User{}, false, err
		}
		if b, err = e.store.Get(ctx, c.B); err != nil {
			return chat.Match{}, chat.User{}, chat.User{}, false, err
		}
		if !eligible(a) || !eligible(b) {
			return chat.Match{}, chat.User{}, chat.User{}, false, nil
		}
		var ok bool
		if score, ok = e.scorer.Score(a.Profile, b.Profile); !ok {
			return chat.Match{}, chat.User{}, chat.User{}, false, nil
		}
		byID[c.A], byID[c.B] = a, b
	}
	slog.Warn("match commit kept conflicting",
		"user_a", int64(c.A),
		"user_b", int64(c.B),
		"attempts", e.retries,
	)
	return chat.Match{}, chat.User{}, chat.User{}, false, nil
}

// announce tells both sides about a new match.
func (e *Engine) announce(ctx context.Context, m chat.Match, a, b chat.User) {
	msgs := []chat.OutboundMessage{
		{UserID: a.ID, Text: e.texts.Render("match_found", matchVars(b, a)), CorrelationID: m.ID},
		{UserID: b.ID, Text: e.texts.Render("match_found", matchVars(a, b)), CorrelationID: m.ID},
	}
	e.submit(ctx, msgs...)
}

func matchVars(partner, self chat.User) map[string]string {
	shared := SharedInterests(self.Profile.Interests, partner.Profile.Interests)
	sharedText := "none yet"
	if len(shared) > 0 {
		sharedText = strings.Join(shared, ", ")
	}
	contact := ""
	if partner.Username != "" {
		contact = " (@" + partner.Username + ")"
	}
	return map[string]string{
		"partner": partner.DisplayName(),
		"age":     strconv.Itoa(partner.Profile.Age),
		"contact": contact,
		"shared":  sharedText,
	}
}

// Unmatch ends id's active match at their request. Both users become idle
// and the partner is told. Returns chat.ErrMatchNotFound when id has no
// active match.
func (e *Engine) Unmatch(ctx context.Context, id chat.UserID) error {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	m, err := e.store.ActiveMatchFor(ctx, id)
	if err != nil {
		return fmt.Errorf("unmatch: %w", err)
	}
	return e.end(ctx, m, id, chat.EndUnmatched, chat.StatusIdle)
}

// Suspend pauses id. An active match is ended with reason and the partner,
// who becomes idle, is told; otherwise the user leaves the queue.
func (e *Engine) Suspend(ctx context.Context, id chat.UserID, reason string) error {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	m, err := e.store.ActiveMatchFor(ctx, id)
	if err == nil {
		return e.end(ctx, m, id, reason, chat.StatusPaused)
	}
	if !errors.Is(err, chat.ErrMatchNotFound) {
		return fmt.Errorf("suspend: %w", err)
	}

	if err := e.queue.Remove(ctx, id); err != nil {
		return fmt.Errorf("suspend: %w", err)
	}
	_, err = e.store.Upsert(ctx, id, func(u *chat.User) error {
		if u.Status != chat.StatusMatched {
			u.Status = chat.StatusPaused
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("suspend: %w", err)
	}
	slog.Info("user suspended", "user_id", int64(id), "reason", reason)
	return nil
}

// end closes m on behalf of initiator and notifies the partner.
func (e *Engine) end(ctx context.Context, m chat.Match, initiator chat.UserID, reason string, initiatorStatus chat.MatchStatus) error {
	partner, _ := m.Partner(initiator)
	ended, err := e.store.EndMatch(ctx, m.ID, reason, e.now().UTC(), func(id chat.UserID) chat.MatchStatus {
		if id == initiator {
			return initiatorStatus
		}
		return chat.StatusIdle
	})
	if err != nil {
		return fmt.Errorf("end match %s: %w", m.ID, err)
	}
	slog.Info("match ended",
		"match_id", ended.ID,
		"initiator", int64(initiator),
		"partner", int64(partner),
		"reason", reason,
	)

	who, err := e.store.Get(ctx, initiator)
	if err != nil {
		slog.Warn("partner notice skipped", "match_id", m.ID, "error", err)
		return nil
	}
	e.submit(ctx, chat.OutboundMessage{
		UserID:        partner,
		Text:          e.texts.Render(partnerNotice(reason), map[string]string{"partner": who.DisplayName()}),
		CorrelationID: m.ID,
	})
	return nil
}

func partnerNotice(reason string) string {
	switch reason {
	case chat.EndPaused:
		return "partner_paused"
	case chat.EndOptOut:
		return "partner_left"
	case chat.EndUnreachable:
		return "partner_unreachable"
	}
	return "partner_unmatched"
}

func (e *Engine) submit(ctx context.Context, msgs ...chat.OutboundMessage) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Submit(ctx, msgs...); err != nil {
		slog.Error("submit notifications failed", "count", len(msgs), "error", err)
	}
}

// requeue puts drained ids back after a pass aborts.
func (e *Engine) requeue(ctx context.Context, ids []chat.UserID) {
	if err := e.queue.Restore(ctx, ids...); err != nil {
		slog.Error("requeue failed", "count", len(ids), "error", err)
	}
}

// eligible reports whether u can be offered a match.
func eligible(u chat.User) bool {
	return u.Status == chat.StatusSeeking &&
		!u.Retired &&
		u.ActiveMatch == "" &&
		u.Dialogue == chat.DialogueReady &&
		u.Profile.Complete()
}
