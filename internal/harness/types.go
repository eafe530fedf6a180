package harness

import (
	"strings"

	"github.com/roach88/lasso/internal/canon"
)

// Trace event kinds.
const (
	TraceInbound       = "in"
	TraceOutbound      = "out"
	TracePass          = "pass"
	TraceUndeliverable = "undeliverable"
	TraceBlock         = "block"
)

// TraceEvent is one observable step of a scenario run. Match ids are
// replaced by stable aliases (match-1, match-2, ...) in order of creation.
type TraceEvent struct {
	Kind     string       `json:"kind"`
	Seq      int64        `json:"seq"`
	User     int64        `json:"user,omitempty"`
	EventID  string       `json:"event_id,omitempty"`
	Text     string       `json:"text,omitempty"`
	Callback string       `json:"callback,omitempty"`
	Corr     string       `json:"corr,omitempty"`
	Menu     bool         `json:"menu,omitempty"`
	Matches  []TraceMatch `json:"matches,omitempty"`
}

// TraceMatch is a match committed by a traced pass.
type TraceMatch struct {
	ID    string `json:"id"`
	UserA int64  `json:"user_a"`
	UserB int64  `json:"user_b"`
	Score int    `json:"score"`
}

// canonical returns the event as a canonical JSON object.
func (e TraceEvent) canonical() canon.Object {
	obj := canon.Object{"kind": e.Kind, "seq": e.Seq}
	if e.User != 0 {
		obj["user"] = e.User
	}
	if e.EventID != "" {
		obj["event_id"] = e.EventID
	}
	if e.Text != "" {
		obj["text"] = e.Text
	}
	if e.Callback != "" {
		obj["callback"] = e.Callback
	}
	if e.Corr != "" {
		obj["corr"] = e.Corr
	}
	if e.Menu {
		obj["menu"] = true
	}
	if e.Kind == TracePass {
		matches := make([]any, len(e.Matches))
		for i, m := range e.Matches {
			matches[i] = canon.Object{"id": m.ID, "user_a": m.UserA, "user_b": m.UserB, "score": m.Score}
		}
		obj["matches"] = matches
	}
	return obj
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// TraceLines renders the trace as canonical JSON, one event per line.
func (r *Result) TraceLines() ([]byte, error) {
	var b strings.Builder
	for _, e := range r.Trace {
		line, err := canon.Marshal(e.canonical())
		if err != nil {
			return nil, err
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

// OutboundTo returns the texts delivered to user in order.
func (r *Result) OutboundTo(user int64) []string {
	var out []string
	for _, e := range r.Trace {
		if e.Kind == TraceOutbound && e.User == user {
			out = append(out, e.Text)
		}
	}
	return out
}
