package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "mutual_match.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "mutual_match", scenario.Name)
	require.Len(t, scenario.Users, 2)
	assert.Equal(t, "Alice", scenario.Users[0].Name)
	assert.Equal(t, []string{"jazz", "hiking", "chess"}, scenario.Users[0].Interests)
	assert.Equal(t, "seeking", scenario.Users[1].Status)

	require.Len(t, scenario.Steps, 2)
	assert.True(t, scenario.Steps[0].Pass)
	require.NotNil(t, scenario.Steps[0].Expect)
	require.NotNil(t, scenario.Steps[0].Expect.Matches)
	assert.Equal(t, 1, *scenario.Steps[0].Expect.Matches)

	require.Len(t, scenario.Assertions, 5)
	assert.Equal(t, AssertMatchCount, scenario.Assertions[0].Type)
	assert.Equal(t, "active", scenario.Assertions[0].State)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_FromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	content := `
name: from_disk
description: one message
steps:
  - user: 7
    text: /start
assertions:
  - type: reply_count
    user: 7
    count: 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, int64(7), scenario.Steps[0].User)
	assert.Equal(t, "/start", scenario.Steps[0].Text)
}

func TestParseScenario_RejectsUnknownFields(t *testing.T) {
	content := `
name: typo
description: misspelled key
steps:
  - user: 1
    txt: hello
assertions:
  - type: reply_count
    user: 1
    count: 0
`
	_, err := ParseScenario([]byte(content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
	assert.Contains(t, err.Error(), "txt")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing name",
			content: `
description: d
steps: [{user: 1, text: hi}]
assertions: [{type: match_count, count: 0}]
`,
			wantErr: "name is required",
		},
		{
			name: "missing description",
			content: `
name: n
steps: [{user: 1, text: hi}]
assertions: [{type: match_count, count: 0}]
`,
			wantErr: "description is required",
		},
		{
			name: "no steps",
			content: `
name: n
description: d
assertions: [{type: match_count, count: 0}]
`,
			wantErr: "steps list is required",
		},
		{
			name: "no assertions",
			content: `
name: n
description: d
steps: [{user: 1, text: hi}]
`,
			wantErr: "assertions list is required",
		},
		{
			name: "duplicate user",
			content: `
name: n
description: d
users:
  - {id: 1, name: A, age: 30, interests: [x]}
  - {id: 1, name: B, age: 31, interests: [y]}
steps: [{pass: true}]
assertions: [{type: match_count, count: 0}]
`,
			wantErr: "users[1]: duplicate id 1",
		},
		{
			name: "incomplete profile",
			content: `
name: n
description: d
users:
  - {id: 1, name: A, interests: [x]}
steps: [{pass: true}]
assertions: [{type: match_count, count: 0}]
`,
			wantErr: "users[0]: name, age and interests are required",
		},
		{
			name: "matched setup status",
			content: `
name: n
description: d
users:
  - {id: 1, name: A, age: 30, interests: [x], status: matched}
steps: [{pass: true}]
assertions: [{type: match_count, count: 0}]
`,
			wantErr: "users[0]: status must be idle, seeking or paused",
		},
		{
			name: "text without user",
			content: `
name: n
description: d
steps: [{text: hi}]
assertions: [{type: match_count, count: 0}]
`,
			wantErr: "steps[0]: user is required for an inbound event",
		},
		{
			name: "text and callback",
			content: `
name: n
description: d
steps: [{user: 1, text: hi, callback: seek}]
assertions: [{type: match_count, count: 0}]
`,
			wantErr: "steps[0]: text and callback are exclusive",
		},
		{
			name: "two step kinds",
			content: `
name: n
description: d
steps: [{pass: true, block: 2}]
assertions: [{type: match_count, count: 0}]
`,
			wantErr: "steps[0]: exactly one of user, pass or block is required",
		},
		{
			name: "empty step",
			content: `
name: n
description: d
steps: [{}]
assertions: [{type: match_count, count: 0}]
`,
			wantErr: "steps[0]: exactly one of user, pass or block is required",
		},
		{
			name: "matches on inbound step",
			content: `
name: n
description: d
steps: [{user: 1, text: hi, expect: {matches: 1}}]
assertions: [{type: match_count, count: 0}]
`,
			wantErr: "steps[0].expect: matches only applies to pass steps",
		},
		{
			name: "unknown assertion",
			content: `
name: n
description: d
steps: [{pass: true}]
assertions: [{type: trace_order}]
`,
			wantErr: `assertions[0]: unknown assertion type "trace_order"`,
		},
		{
			name: "reply_contains without text",
			content: `
name: n
description: d
steps: [{pass: true}]
assertions: [{type: reply_contains, user: 1}]
`,
			wantErr: "assertions[0]: user and text are required for reply_contains",
		},
		{
			name: "final_state without expect",
			content: `
name: n
description: d
steps: [{pass: true}]
assertions: [{type: final_state, user: 1}]
`,
			wantErr: "assertions[0]: expect is required for final_state",
		},
		{
			name: "match_count bad state",
			content: `
name: n
description: d
steps: [{pass: true}]
assertions: [{type: match_count, state: pending, count: 0}]
`,
			wantErr: "assertions[0]: state must be active or ended",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
