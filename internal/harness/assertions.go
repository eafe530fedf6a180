package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/lasso/internal/chat"
	"github.com/roach88/lasso/internal/store"
)

// AssertionError describes a failed assertion with enough context to debug
// it from the test output alone.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s\n  Expected: %s\n  Actual: %s", e.Type, e.Expected, e.Actual)
}

// evaluate checks every assertion and returns the failure messages.
func (h *Harness) evaluate(ctx context.Context, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertReplyContains:
			err = assertReplyContains(h.result, a)
		case AssertReplyCount:
			err = assertReplyCount(h.result, a)
		case AssertFinalState:
			err = h.assertFinalState(ctx, a)
		case AssertMatchCount:
			err = h.assertMatchCount(ctx, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func assertReplyContains(r *Result, a Assertion) error {
	texts := r.OutboundTo(a.User)
	for _, t := range texts {
		if strings.Contains(t, a.Text) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertReplyContains,
		Expected: fmt.Sprintf("a message to %d containing %q", a.User, a.Text),
		Actual:   fmt.Sprintf("%q", texts),
	}
}

func assertReplyCount(r *Result, a Assertion) error {
	if n := len(r.OutboundTo(a.User)); n != a.Count {
		return &AssertionError{
			Type:     AssertReplyCount,
			Expected: fmt.Sprintf("%d messages to %d", a.Count, a.User),
			Actual:   fmt.Sprintf("%d messages", n),
		}
	}
	return nil
}

// stateFields renders the user fields final_state can check.
func (h *Harness) stateFields(u chat.User) map[string]string {
	active := u.ActiveMatch
	if alias, ok := h.aliases[active]; ok {
		active = alias
	}
	return map[string]string{
		"dialogue":     string(u.Dialogue),
		"status":       string(u.Status),
		"name":         u.Profile.Name,
		"age":          fmt.Sprint(u.Profile.Age),
		"interests":    fmt.Sprint(u.Profile.Interests),
		"retired":      fmt.Sprint(u.Retired),
		"active_match": active,
		"version":      fmt.Sprint(u.Version),
	}
}

func (h *Harness) assertFinalState(ctx context.Context, a Assertion) error {
	u, err := h.store.Get(ctx, chat.UserID(a.User))
	if err != nil {
		return fmt.Errorf("final_state: %w", err)
	}
	fields := h.stateFields(u)

	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		got, ok := fields[k]
		if !ok {
			return fmt.Errorf("final_state: unknown field %q", k)
		}
		if want := fmt.Sprint(a.Expect[k]); got != want {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("user %d %s = %s", a.User, k, want),
				Actual:   got,
			}
		}
	}
	return nil
}

func (h *Harness) assertMatchCount(ctx context.Context, a Assertion) error {
	matches, err := h.store.ListMatches(ctx, store.MatchFilter{State: chat.MatchState(a.State)})
	if err != nil {
		return fmt.Errorf("match_count: %w", err)
	}
	if len(matches) != a.Count {
		label := a.State
		if label == "" {
			label = "all"
		}
		return &AssertionError{
			Type:     AssertMatchCount,
			Expected: fmt.Sprintf("%d %s matches", a.Count, label),
			Actual:   fmt.Sprintf("%d", len(matches)),
		}
	}
	return nil
}
