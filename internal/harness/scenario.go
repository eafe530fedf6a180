package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/lasso/internal/chat"
)

// Scenario is a scripted conversation run against a fresh store.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario demonstrates.
	Description string `yaml:"description"`

	// Users are onboarded before the first step. Seeking users are queued.
	Users []SetupUser `yaml:"users,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are checked against the trace and the final store.
	Assertions []Assertion `yaml:"assertions"`
}

// SetupUser is a user who has already finished onboarding.
type SetupUser struct {
	ID        int64    `yaml:"id"`
	Name      string   `yaml:"name"`
	Age       int      `yaml:"age"`
	Interests []string `yaml:"interests"`
	Username  string   `yaml:"username,omitempty"`
	Status    string   `yaml:"status,omitempty"`
}

// Step is one scenario action. Exactly one of an inbound event (User with
// Text or Callback), Pass or Block is set.
type Step struct {
	User     int64  `yaml:"user,omitempty"`
	Text     string `yaml:"text,omitempty"`
	Callback string `yaml:"callback,omitempty"`

	// EventID pins the transport event id. Reusing an id replays a
	// redelivery. Generated when empty.
	EventID string `yaml:"event_id,omitempty"`

	// Pass runs one matching pass.
	Pass bool `yaml:"pass,omitempty"`

	// Block makes the user unreachable: every later delivery to them fails
	// permanently.
	Block int64 `yaml:"block,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect checks the messages delivered while a step ran.
type Expect struct {
	// Replies is the exact number of delivered messages, to anyone.
	Replies *int `yaml:"replies,omitempty"`

	// Contains lists substrings that some delivered message must contain.
	Contains []string `yaml:"contains,omitempty"`

	// Matches is the exact number of matches a pass step commits.
	Matches *int `yaml:"matches,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// User selects a user (reply_contains, reply_count, final_state).
	User int64 `yaml:"user,omitempty"`

	// Text is the substring for reply_contains.
	Text string `yaml:"text,omitempty"`

	// Count is the expected number for reply_count and match_count.
	Count int `yaml:"count,omitempty"`

	// State filters match_count by match state. Empty counts all.
	State string `yaml:"state,omitempty"`

	// Expect holds field values for final_state. Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion types.
const (
	AssertReplyContains = "reply_contains"
	AssertReplyCount    = "reply_count"
	AssertFinalState    = "final_state"
	AssertMatchCount    = "match_count"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so a typo cannot silently disable a check.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	seen := make(map[int64]bool)
	for i, u := range s.Users {
		if u.ID <= 0 {
			return fmt.Errorf("users[%d]: id must be positive", i)
		}
		if seen[u.ID] {
			return fmt.Errorf("users[%d]: duplicate id %d", i, u.ID)
		}
		seen[u.ID] = true
		p := chat.Profile{Name: u.Name, Age: u.Age, Interests: u.Interests}
		if !p.Complete() {
			return fmt.Errorf("users[%d]: name, age and interests are required", i)
		}
		switch chat.MatchStatus(u.Status) {
		case "", chat.StatusIdle, chat.StatusSeeking, chat.StatusPaused:
		default:
			return fmt.Errorf("users[%d]: status must be idle, seeking or paused", i)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s Step) error {
	kinds := 0
	if s.User != 0 {
		kinds++
		if s.Text != "" && s.Callback != "" {
			return fmt.Errorf("steps[%d]: text and callback are exclusive", index)
		}
	} else if s.Text != "" || s.Callback != "" || s.EventID != "" {
		return fmt.Errorf("steps[%d]: user is required for an inbound event", index)
	}
	if s.Pass {
		kinds++
	}
	if s.Block != 0 {
		kinds++
	}
	if kinds != 1 {
		return fmt.Errorf("steps[%d]: exactly one of user, pass or block is required", index)
	}
	if s.Expect != nil && s.Expect.Matches != nil && !s.Pass {
		return fmt.Errorf("steps[%d].expect: matches only applies to pass steps", index)
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertReplyContains:
		if a.User == 0 || a.Text == "" {
			return fmt.Errorf("assertions[%d]: user and text are required for reply_contains", index)
		}
	case AssertReplyCount:
		if a.User == 0 {
			return fmt.Errorf("assertions[%d]: user is required for reply_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertFinalState:
		if a.User == 0 {
			return fmt.Errorf("assertions[%d]: user is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertMatchCount:
		switch chat.MatchState(a.State) {
		case "", chat.MatchActive, chat.MatchEnded:
		default:
			return fmt.Errorf("assertions[%d]: state must be active or ended", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
