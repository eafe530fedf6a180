package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func seekers() []SetupUser {
	return []SetupUser{
		{ID: 1, Name: "Alice", Age: 30, Interests: []string{"jazz", "hiking"}, Username: "alice", Status: "seeking"},
		{ID: 2, Name: "Bob", Age: 31, Interests: []string{"jazz", "cooking"}, Status: "seeking"},
	}
}

func outbound(r *Result) []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Kind == TraceOutbound {
			out = append(out, ev)
		}
	}
	return out
}

func TestRun_OnboardingToQueue(t *testing.T) {
	scenario := &Scenario{
		Name:        "onboard",
		Description: "complete onboarding then seek",
		Steps: []Step{
			{User: 1, Text: "/start"},
			{User: 1, Text: "Alex"},
			{User: 1, Text: "29"},
			{User: 1, Text: "hiking, jazz", Expect: &Expect{
				Replies:  intPtr(1),
				Contains: []string{"All set, Alex!"},
			}},
			{User: 1, Callback: "seek", Expect: &Expect{
				Contains: []string{"You're in the queue."},
			}},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, User: 1, Expect: map[string]any{
				"dialogue":  "ready",
				"status":    "seeking",
				"name":      "Alex",
				"age":       29,
				"interests": "[hiking jazz]",
			}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	var ready TraceEvent
	for _, ev := range outbound(result) {
		if ev.Text == "All set, Alex! Tap Find a match when you're ready." {
			ready = ev
		}
	}
	assert.True(t, ready.Menu, "ready message carries the menu")
	assert.Equal(t, "corr-4", ready.Corr)

	var in TraceEvent
	for _, ev := range result.Trace {
		if ev.Kind == TraceInbound && ev.Callback == "seek" {
			in = ev
		}
	}
	assert.Equal(t, "ev-5", in.EventID)
}

func TestRun_RepliesShareCorrelationID(t *testing.T) {
	scenario := &Scenario{
		Name:        "corr",
		Description: "replies to one event share its correlation id",
		Steps:       []Step{{User: 3, Text: "/start"}},
		Assertions:  []Assertion{{Type: AssertReplyCount, User: 3, Count: 2}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	out := outbound(result)
	require.Len(t, out, 2)
	assert.Equal(t, "corr-1", out[0].Corr)
	assert.Equal(t, "corr-1", out[1].Corr)
	assert.Equal(t, "Hi User3! I'm Lasso. I pair people who share interests. Let's set up your profile.", out[0].Text)
}

func TestRun_RedeliveredEventIgnored(t *testing.T) {
	scenario := &Scenario{
		Name:        "redelivery",
		Description: "the same transport event twice",
		Steps: []Step{
			{User: 1, Text: "/start", EventID: "upd-100", Expect: &Expect{Replies: intPtr(2)}},
			{User: 1, Text: "/start", EventID: "upd-100", Expect: &Expect{Replies: intPtr(0)}},
		},
		Assertions: []Assertion{
			{Type: AssertReplyCount, User: 1, Count: 2},
			{Type: AssertFinalState, User: 1, Expect: map[string]any{"dialogue": "awaiting_name"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_UnmatchNotifiesPartner(t *testing.T) {
	scenario := &Scenario{
		Name:        "unmatch",
		Description: "one side ends the match",
		Users:       seekers(),
		Steps: []Step{
			{Pass: true, Expect: &Expect{Matches: intPtr(1)}},
			{User: 1, Text: "/unmatch", Expect: &Expect{
				Replies: intPtr(2),
				Contains: []string{
					"Match ended. Send /seek to look for someone new.",
					"Alice ended the match. Send /seek to look for someone new.",
				},
			}},
		},
		Assertions: []Assertion{
			{Type: AssertMatchCount, State: "ended", Count: 1},
			{Type: AssertMatchCount, State: "active", Count: 0},
			{Type: AssertFinalState, User: 1, Expect: map[string]any{"status": "idle", "active_match": ""}},
			{Type: AssertFinalState, User: 2, Expect: map[string]any{"status": "idle"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	var notice TraceEvent
	for _, ev := range outbound(result) {
		if ev.User == 2 && ev.Text == "Alice ended the match. Send /seek to look for someone new." {
			notice = ev
		}
	}
	assert.Equal(t, "match-1", notice.Corr)
}

func TestRun_NoCandidatesLeavesQueue(t *testing.T) {
	users := seekers()
	users[1].Age = 60

	scenario := &Scenario{
		Name:        "too_far_apart",
		Description: "an age gap beyond the limit never pairs",
		Users:       users,
		Steps: []Step{
			{Pass: true, Expect: &Expect{Matches: intPtr(0), Replies: intPtr(0)}},
			{Pass: true, Expect: &Expect{Matches: intPtr(0), Replies: intPtr(0)}},
		},
		Assertions: []Assertion{
			{Type: AssertMatchCount, Count: 0},
			{Type: AssertFinalState, User: 1, Expect: map[string]any{"status": "seeking"}},
			{Type: AssertFinalState, User: 2, Expect: map[string]any{"status": "seeking"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_FailedExpectations(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong",
		Description: "expectations that do not hold",
		Users:       seekers(),
		Steps: []Step{
			{User: 1, Text: "/help", Expect: &Expect{
				Replies:  intPtr(5),
				Contains: []string{"no such text"},
			}},
			{Pass: true, Expect: &Expect{Matches: intPtr(2)}},
		},
		Assertions: []Assertion{{Type: AssertMatchCount, Count: 1}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "steps[0]: expected 5 replies, got 1")
	assert.Contains(t, result.Errors[1], `steps[0]: no reply contains "no such text"`)
	assert.Contains(t, result.Errors[2], "steps[1]: expected 2 matches, got 1")
}
