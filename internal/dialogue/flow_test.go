package dialogue

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lasso/internal/chat"
)

func TestDefaultFlow(t *testing.T) {
	f, err := DefaultFlow()
	require.NoError(t, err)

	assert.Equal(t, chat.DialogueAwaitingName, f.Start)
	assert.Equal(t, Limits{NameMaxRunes: 64, AgeMin: 18, AgeMax: 99, InterestsMax: 10, InterestMaxRunes: 32}, f.Limits)

	// start -> name -> age -> interests -> ready
	var order []chat.DialogueState
	for cur := f.Start; cur != chat.DialogueReady; cur = f.Steps[cur].Next {
		order = append(order, cur)
	}
	assert.Equal(t, []chat.DialogueState{
		chat.DialogueAwaitingName,
		chat.DialogueAwaitingAge,
		chat.DialogueAwaitingInterests,
	}, order)

	require.Len(t, f.Menu, 3)
	assert.Equal(t, chat.Button{Label: "Find a match", Data: "seek"}, f.Menu[0][0])
	for _, key := range requiredMessages {
		assert.NotEmpty(t, f.Messages[key], key)
	}
}

func TestRender(t *testing.T) {
	f := MustDefaultFlow()

	assert.Equal(t, "Welcome back, Alice!", f.Render("welcome_back", map[string]string{"name": "Alice"}))
	assert.Equal(t, "no_such_key", f.Render("no_such_key", nil))
	assert.Equal(t, f.Messages["help"], f.Render("help", nil))
}

func TestMenuKeyboardIsCopy(t *testing.T) {
	f := MustDefaultFlow()
	kb := f.MenuKeyboard()
	kb[0][0].Label = "changed"
	assert.Equal(t, "Find a match", f.Menu[0][0].Label)
}

const minimalFlow = `
limits: {}
start: "awaiting_name"
steps: awaiting_name: {field: "name", prompt: "p", invalid: "i", next: "ready"}
menu: [[{label: "Go", data: "seek"}]]
`

func withMessages(doc string) string {
	var b strings.Builder
	b.WriteString(doc)
	b.WriteString("messages: {\n")
	for _, key := range requiredMessages {
		b.WriteString("\t" + key + ": \"x\"\n")
	}
	b.WriteString("}\n")
	return b.String()
}

func TestCompileFlow_Minimal(t *testing.T) {
	f, err := CompileFlow([]byte(withMessages(minimalFlow)), "min.cue")
	require.NoError(t, err)
	assert.Equal(t, 64, f.Limits.NameMaxRunes, "limits take CUE defaults")
	assert.Len(t, f.Steps, 1)
}

func TestCompileFlow_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name:    "syntax",
			src:     "start: {",
			wantErr: "expected",
		},
		{
			name:    "unknown start",
			src:     withMessages(strings.Replace(minimalFlow, `start: "awaiting_name"`, `start: "nowhere"`, 1)),
			wantErr: `unknown step "nowhere"`,
		},
		{
			name:    "dangling next",
			src:     withMessages(strings.Replace(minimalFlow, `next: "ready"`, `next: "limbo"`, 1)),
			wantErr: `unknown step "limbo"`,
		},
		{
			name:    "missing message",
			src:     minimalFlow + "messages: {welcome: \"hi\"}\n",
			wantErr: "missing message",
		},
		{
			name:    "non-concrete",
			src:     withMessages(strings.Replace(minimalFlow, `prompt: "p"`, `prompt: string`, 1)),
			wantErr: "prompt",
		},
		{
			name:    "inverted ages",
			src:     withMessages(strings.Replace(minimalFlow, "limits: {}", "limits: {age_min: 50, age_max: 40}", 1)),
			wantErr: "age_min 50 must be below age_max 40",
		},
		{
			name: "cycle",
			src: withMessages(`
limits: {}
start: "a"
steps: a: {field: "name", prompt: "p", invalid: "i", next: "b"}
steps: b: {field: "age", prompt: "p", invalid: "i", next: "a"}
menu: []
`),
			wantErr: "cycle never reaches ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileFlow([]byte(tt.src), "bad.cue")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCompileFlow_ErrorCarriesPosition(t *testing.T) {
	_, err := CompileFlow([]byte("start: \"a\"\nsteps: {"), "pos.cue")

	var fe *FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "pos.cue", fe.Pos.Filename())
	assert.Equal(t, 2, fe.Pos.Line())
	assert.True(t, strings.HasPrefix(fe.Error(), "pos.cue:2:"))
}

func TestCompileFlow_SchemaRejectsUnknownButton(t *testing.T) {
	src := withMessages(strings.Replace(minimalFlow, `data: "seek"`, `data: "dance"`, 1))
	_, err := CompileFlow([]byte(src), "bad.cue")
	assert.Error(t, err)
}
