package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/roach88/lasso/internal/chat"
)

// Actions available from the ready menu, as commands or button data.
const (
	ActionStart   = "start"
	ActionHelp    = "help"
	ActionStop    = "stop"
	ActionSeek    = "seek"
	ActionPause   = "pause"
	ActionUnmatch = "unmatch"
	ActionProfile = "profile"
	ActionEdit    = "edit"
)

// DefaultRetries bounds read-decide-write attempts per event.
const DefaultRetries = 5

// Store is the slice of the profile store the machine writes through.
type Store interface {
	Get(ctx context.Context, id chat.UserID) (chat.User, error)
	Create(ctx context.Context, u chat.User) (chat.User, bool, error)
	CASUpdate(ctx context.Context, u chat.User, expectedVersion int64, appliedEventID string) (chat.User, error)
	IsApplied(ctx context.Context, id chat.UserID, eventID string) (bool, error)
}

// Matchmaker is the matching side of the ready menu. Join and Leave manage
// queue membership; Unmatch and Suspend are the only ways out of a match.
type Matchmaker interface {
	Join(ctx context.Context, id chat.UserID) error
	Leave(ctx context.Context, id chat.UserID) error
	Unmatch(ctx context.Context, id chat.UserID) error
	Suspend(ctx context.Context, id chat.UserID, reason string) error
}

// Machine drives each user's conversation. It is safe for concurrent use
// across users; events for one user must be handled serially.
type Machine struct {
	flow    *Flow
	store   Store
	matches Matchmaker
	retries int
}

// Option configures a Machine.
type Option func(*Machine)

// WithRetries sets the CAS attempt budget per event.
func WithRetries(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.retries = n
		}
	}
}

// NewMachine creates a machine over flow, store and matchmaker.
func NewMachine(flow *Flow, s Store, mm Matchmaker, opts ...Option) *Machine {
	m := &Machine{flow: flow, store: s, matches: mm, retries: DefaultRetries}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Flow returns the compiled flow the machine runs.
func (m *Machine) Flow() *Flow {
	return m.flow
}

// plan is the outcome of deciding one event against one snapshot.
type plan struct {
	next    chat.User
	replies []chat.OutboundMessage

	// before runs ahead of the commit and moves the user out of a match.
	// The commit then re-reads and applies reapply to the fresh record.
	before  func(ctx context.Context) error
	reapply func(u *chat.User)

	// after runs once the commit succeeded.
	after func(ctx context.Context) error
}

// Handle applies ev to the user's record and returns the replies to send.
// An event that was already applied returns no replies and no error.
func (m *Machine) Handle(ctx context.Context, ev chat.ConversationEvent) ([]chat.OutboundMessage, error) {
	applied, err := m.store.IsApplied(ctx, ev.UserID, ev.EventID)
	if err != nil {
		return nil, fmt.Errorf("handle event %s: %w", ev.EventID, err)
	}
	if applied {
		slog.Debug("event already applied", "user_id", int64(ev.UserID), "event_id", ev.EventID)
		return nil, nil
	}

	for attempt := 0; attempt < m.retries; attempt++ {
		user, err := m.load(ctx, ev)
		if err != nil {
			return nil, err
		}

		p := m.decide(ev, user)

		if p.before != nil {
			// A match already ended by the partner leaves nothing to undo.
			if err := p.before(ctx); err != nil && !errors.Is(err, chat.ErrMatchNotFound) {
				return nil, fmt.Errorf("handle event %s: %w", ev.EventID, err)
			}
			return m.commitAfterEffect(ctx, ev, p)
		}

		_, err = m.store.CASUpdate(ctx, p.next, user.Version, ev.EventID)
		switch {
		case chat.IsConflict(err):
			slog.Debug("cas conflict, retrying",
				"user_id", int64(ev.UserID),
				"event_id", ev.EventID,
				"attempt", attempt+1,
			)
			continue
		case chat.IsDuplicate(err):
			return nil, nil
		case err != nil:
			return nil, fmt.Errorf("handle event %s: %w", ev.EventID, err)
		}

		m.runAfter(ctx, ev, p)
		return p.replies, nil
	}

	return nil, fmt.Errorf("handle event %s: %d attempts: %w", ev.EventID, m.retries, chat.ErrStateUnavailable)
}

// commitAfterEffect records the event once the matching engine has already
// moved the user out of their match. The user is no longer seeking, so
// reapplying the dialogue-owned changes to a fresh read is safe.
func (m *Machine) commitAfterEffect(ctx context.Context, ev chat.ConversationEvent, p plan) ([]chat.OutboundMessage, error) {
	for attempt := 0; attempt < m.retries; attempt++ {
		user, err := m.store.Get(ctx, ev.UserID)
		if err != nil {
			return nil, fmt.Errorf("handle event %s: %w", ev.EventID, err)
		}
		next := user.Clone()
		touch(&next, ev)
		if p.reapply != nil {
			p.reapply(&next)
		}
		_, err = m.store.CASUpdate(ctx, next, user.Version, ev.EventID)
		switch {
		case chat.IsConflict(err):
			continue
		case chat.IsDuplicate(err):
			return nil, nil
		case err != nil:
			return nil, fmt.Errorf("handle event %s: %w", ev.EventID, err)
		}
		m.runAfter(ctx, ev, p)
		return p.replies, nil
	}
	return nil, fmt.Errorf("handle event %s: %d attempts: %w", ev.EventID, m.retries, chat.ErrStateUnavailable)
}

func (m *Machine) runAfter(ctx context.Context, ev chat.ConversationEvent, p plan) {
	if p.after == nil {
		return
	}
	// The record is already committed; a failed queue update is repaired
	// by rehydration, so it is logged rather than returned.
	if err := p.after(ctx); err != nil {
		slog.Error("post-commit action failed",
			"user_id", int64(ev.UserID),
			"event_id", ev.EventID,
			"error", err,
		)
	}
}

// load returns the user's record, creating it on first contact.
func (m *Machine) load(ctx context.Context, ev chat.ConversationEvent) (chat.User, error) {
	user, err := m.store.Get(ctx, ev.UserID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, chat.ErrUserNotFound) {
		return chat.User{}, fmt.Errorf("load user %d: %w", ev.UserID, err)
	}

	fresh := chat.NewUser(ev.UserID, ev.ReceivedAt)
	fresh.Username, fresh.FirstName, fresh.LastName = ev.Username, ev.FirstName, ev.LastName
	user, created, err := m.store.Create(ctx, fresh)
	if err != nil {
		return chat.User{}, fmt.Errorf("load user %d: %w", ev.UserID, err)
	}
	if created {
		slog.Info("user registered", "user_id", int64(ev.UserID), "correlation_id", ev.CorrelationID)
	}
	return user, nil
}

// touch refreshes the transport identity and activity time.
func touch(u *chat.User, ev chat.ConversationEvent) {
	if ev.Username != "" {
		u.Username = ev.Username
	}
	if ev.FirstName != "" {
		u.FirstName = ev.FirstName
	}
	if ev.LastName != "" {
		u.LastName = ev.LastName
	}
	if ev.ReceivedAt.After(u.LastActivityAt) {
		u.LastActivityAt = ev.ReceivedAt.UTC()
	}
}

// action returns the command or button verb carried by ev, or "" for text.
func action(ev chat.ConversationEvent) string {
	switch ev.Kind {
	case chat.KindCommand:
		return ev.Command
	case chat.KindCallback:
		return ev.Data
	}
	return ""
}

// decide computes the next record and replies for ev against u. It has no
// side effects; queue and match changes are returned as plan hooks.
func (m *Machine) decide(ev chat.ConversationEvent, u chat.User) plan {
	p := plan{next: u.Clone()}
	touch(&p.next, ev)
	act := action(ev)

	if u.Retired && act != ActionStart {
		m.say(&p, ev, "retired", nil)
		return p
	}

	switch act {
	case ActionStart:
		m.start(&p, ev, u)
		return p
	case ActionHelp:
		m.help(&p, ev, u)
		return p
	case ActionStop:
		m.stop(&p, ev, u)
		return p
	}

	switch u.Dialogue {
	case chat.DialogueNew:
		m.beginOnboarding(&p, ev)
	case chat.DialogueReady:
		m.ready(&p, ev, u, act)
	default:
		m.onboard(&p, ev, u, act)
	}
	return p
}

func (m *Machine) start(p *plan, ev chat.ConversationEvent, u chat.User) {
	if u.Retired {
		p.next.Retired = false
		p.next.Status = chat.StatusIdle
	}
	switch {
	case u.Dialogue == chat.DialogueNew:
		m.beginOnboarding(p, ev)
	case u.Dialogue == chat.DialogueReady:
		m.say(p, ev, "welcome_back", map[string]string{"name": p.next.DisplayName()})
		m.menu(p)
	default:
		step, ok := m.flow.Step(u.Dialogue)
		if !ok {
			m.beginOnboarding(p, ev)
			return
		}
		m.say(p, ev, "welcome_back", map[string]string{"name": p.next.DisplayName()})
		m.prompt(p, ev, step)
	}
}

func (m *Machine) help(p *plan, ev chat.ConversationEvent, u chat.User) {
	m.say(p, ev, "help", nil)
	switch u.Dialogue {
	case chat.DialogueReady:
		m.menu(p)
	case chat.DialogueNew:
	default:
		if step, ok := m.flow.Step(u.Dialogue); ok {
			m.prompt(p, ev, step)
		}
	}
}

// stop opts the user out: retired, paused, out of the queue and out of any
// active match.
func (m *Machine) stop(p *plan, ev chat.ConversationEvent, u chat.User) {
	optOut := func(next *chat.User) {
		next.Retired = true
		next.Status = chat.StatusPaused
	}
	switch u.Status {
	case chat.StatusMatched:
		id := u.ID
		p.before = func(ctx context.Context) error {
			return m.matches.Suspend(ctx, id, chat.EndOptOut)
		}
		p.reapply = optOut
	case chat.StatusSeeking:
		optOut(&p.next)
		p.after = m.leave(u.ID)
	default:
		optOut(&p.next)
	}
	m.say(p, ev, "stopped", nil)
	slog.Info("user opted out", "user_id", int64(u.ID), "correlation_id", ev.CorrelationID)
}

func (m *Machine) beginOnboarding(p *plan, ev chat.ConversationEvent) {
	p.next.Dialogue = m.flow.Start
	m.say(p, ev, "welcome", map[string]string{"name": p.next.DisplayName()})
	m.prompt(p, ev, m.flow.Steps[m.flow.Start])
}

// onboard feeds text input to the current step. Anything else re-prompts.
func (m *Machine) onboard(p *plan, ev chat.ConversationEvent, u chat.User, act string) {
	step, ok := m.flow.Step(u.Dialogue)
	if !ok {
		slog.Warn("unknown dialogue state, restarting onboarding",
			"user_id", int64(u.ID),
			"state", string(u.Dialogue),
		)
		m.beginOnboarding(p, ev)
		return
	}

	if act != "" || ev.Kind != chat.KindText {
		m.say(p, ev, "finish_first", nil)
		m.prompt(p, ev, step)
		return
	}

	if err := m.flow.apply(step, ev.Text, &p.next.Profile); err != nil {
		slog.Debug("input rejected",
			"user_id", int64(u.ID),
			"state", string(u.Dialogue),
			"error", err,
		)
		m.reply(p, ev, step.Invalid, nil)
		return
	}

	p.next.Dialogue = step.Next
	if step.Next == chat.DialogueReady {
		m.say(p, ev, "ready", map[string]string{"name": p.next.DisplayName()})
		m.menu(p)
		return
	}
	m.prompt(p, ev, m.flow.Steps[step.Next])
}

func (m *Machine) ready(p *plan, ev chat.ConversationEvent, u chat.User, act string) {
	switch act {
	case ActionSeek:
		switch u.Status {
		case chat.StatusSeeking:
			m.say(p, ev, "already_seeking", nil)
		case chat.StatusMatched:
			m.say(p, ev, "already_matched", nil)
		default:
			p.next.Status = chat.StatusSeeking
			id := u.ID
			p.after = func(ctx context.Context) error { return m.matches.Join(ctx, id) }
			m.say(p, ev, "seeking", nil)
		}

	case ActionPause:
		switch u.Status {
		case chat.StatusPaused:
			m.say(p, ev, "already_paused", nil)
		case chat.StatusMatched:
			id := u.ID
			p.before = func(ctx context.Context) error {
				return m.matches.Suspend(ctx, id, chat.EndPaused)
			}
			p.reapply = func(next *chat.User) { next.Status = chat.StatusPaused }
			m.say(p, ev, "paused", nil)
		case chat.StatusSeeking:
			p.next.Status = chat.StatusPaused
			p.after = m.leave(u.ID)
			m.say(p, ev, "paused", nil)
		default:
			p.next.Status = chat.StatusPaused
			m.say(p, ev, "paused", nil)
		}

	case ActionUnmatch:
		if u.Status != chat.StatusMatched {
			m.say(p, ev, "not_matched", nil)
			break
		}
		id := u.ID
		p.before = func(ctx context.Context) error { return m.matches.Unmatch(ctx, id) }
		m.say(p, ev, "unmatched", nil)

	case ActionProfile:
		m.say(p, ev, "profile", ProfileVars(u))
		m.menu(p)

	case ActionEdit:
		if u.Status == chat.StatusMatched {
			m.say(p, ev, "edit_matched", nil)
			break
		}
		if u.Status == chat.StatusSeeking {
			p.next.Status = chat.StatusIdle
			p.after = m.leave(u.ID)
		}
		p.next.Dialogue = m.flow.Start
		m.say(p, ev, "edit", nil)
		m.prompt(p, ev, m.flow.Steps[m.flow.Start])

	default:
		m.say(p, ev, "menu_hint", nil)
		m.menu(p)
	}
}

func (m *Machine) leave(id chat.UserID) func(context.Context) error {
	return func(ctx context.Context) error { return m.matches.Leave(ctx, id) }
}

// ProfileVars are the template variables for a profile summary.
func ProfileVars(u chat.User) map[string]string {
	return map[string]string{
		"name":      u.DisplayName(),
		"age":       strconv.Itoa(u.Profile.Age),
		"interests": strings.Join(u.Profile.Interests, ", "),
		"status":    string(u.Status),
	}
}

func (m *Machine) say(p *plan, ev chat.ConversationEvent, key string, vars map[string]string) {
	m.reply(p, ev, m.flow.Render(key, vars), nil)
}

func (m *Machine) prompt(p *plan, ev chat.ConversationEvent, step Step) {
	m.reply(p, ev, step.Prompt, nil)
}

// menu attaches the ready keyboard to the last reply.
func (m *Machine) menu(p *plan) {
	if len(p.replies) == 0 {
		return
	}
	p.replies[len(p.replies)-1].Buttons = m.flow.MenuKeyboard()
}

func (m *Machine) reply(p *plan, ev chat.ConversationEvent, text string, buttons [][]chat.Button) {
	p.replies = append(p.replies, chat.OutboundMessage{
		UserID:        ev.UserID,
		Text:          text,
		Buttons:       buttons,
		CorrelationID: ev.CorrelationID,
	})
}
