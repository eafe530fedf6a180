package dialogue

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/lasso/internal/chat"
)

//go:embed flow.cue
var defaultFlowSource []byte

//go:embed schema.cue
var schemaSource []byte

// Input fields a step can collect.
const (
	FieldName      = "name"
	FieldAge       = "age"
	FieldInterests = "interests"
)

// Step is one onboarding state: the prompt shown on entry, the field the
// reply fills, and the state that follows a valid reply.
type Step struct {
	State   chat.DialogueState
	Field   string
	Prompt  string
	Invalid string
	Next    chat.DialogueState
}

// Limits bound the values the validators accept.
type Limits struct {
	NameMaxRunes     int `json:"name_max_runes"`
	AgeMin           int `json:"age_min"`
	AgeMax           int `json:"age_max"`
	InterestsMax     int `json:"interests_max"`
	InterestMaxRunes int `json:"interest_max_runes"`
}

// Flow is the compiled conversation table.
type Flow struct {
	Start    chat.DialogueState
	Steps    map[chat.DialogueState]Step
	Menu     [][]chat.Button
	Messages map[string]string
	Limits   Limits
}

// Message keys every flow document must define.
var requiredMessages = []string{
	"welcome", "welcome_back", "help", "finish_first", "menu_hint", "ready",
	"profile", "seeking", "already_seeking", "already_matched", "paused",
	"already_paused", "unmatched", "not_matched", "edit", "edit_matched",
	"stopped", "retired",
	"match_found", "partner_unmatched", "partner_paused", "partner_left",
	"partner_unreachable",
}

// FlowError is a flow document error with source position.
type FlowError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *FlowError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// DefaultFlow compiles the embedded flow document.
func DefaultFlow() (*Flow, error) {
	return CompileFlow(defaultFlowSource, "flow.cue")
}

// MustDefaultFlow is DefaultFlow for callers that cannot recover, such as
// tests and package initialization in tools.
func MustDefaultFlow() *Flow {
	f, err := DefaultFlow()
	if err != nil {
		panic(err)
	}
	return f
}

// CompileFlow compiles a CUE flow document against the flow schema and
// checks its cross references.
func CompileFlow(src []byte, filename string) (*Flow, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	doc := ctx.CompileBytes(src, cue.Filename(filename))
	if err := doc.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	v := schema.Unify(doc)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	f := &Flow{
		Steps:    make(map[chat.DialogueState]Step),
		Messages: make(map[string]string),
	}

	if err := v.LookupPath(cue.ParsePath("limits")).Decode(&f.Limits); err != nil {
		return nil, formatCUEError(err)
	}
	if f.Limits.AgeMin >= f.Limits.AgeMax {
		return nil, &FlowError{
			Field:   "limits",
			Message: fmt.Sprintf("age_min %d must be below age_max %d", f.Limits.AgeMin, f.Limits.AgeMax),
			Pos:     v.LookupPath(cue.ParsePath("limits")).Pos(),
		}
	}

	startVal := v.LookupPath(cue.ParsePath("start"))
	start, err := startVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	f.Start = chat.DialogueState(start)

	if err := parseSteps(v, f); err != nil {
		return nil, err
	}
	if _, ok := f.Steps[f.Start]; !ok {
		return nil, &FlowError{Field: "start", Message: fmt.Sprintf("unknown step %q", start), Pos: startVal.Pos()}
	}

	if err := parseMenu(v, f); err != nil {
		return nil, err
	}

	msgIter, err := v.LookupPath(cue.ParsePath("messages")).Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for msgIter.Next() {
		s, err := msgIter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		f.Messages[msgIter.Label()] = s
	}
	for _, key := range requiredMessages {
		if _, ok := f.Messages[key]; !ok {
			return nil, &FlowError{Field: "messages", Message: fmt.Sprintf("missing message %q", key)}
		}
	}

	return f, nil
}

func parseSteps(v cue.Value, f *Flow) error {
	iter, err := v.LookupPath(cue.ParsePath("steps")).Fields()
	if err != nil {
		return formatCUEError(err)
	}

	nexts := make(map[chat.DialogueState]cue.Value)
	for iter.Next() {
		name := chat.DialogueState(iter.Label())
		sv := iter.Value()
		if name == chat.DialogueNew || name == chat.DialogueReady {
			return &FlowError{Field: "steps", Message: fmt.Sprintf("%q is reserved", name), Pos: sv.Pos()}
		}

		var raw struct {
			Field   string `json:"field"`
			Prompt  string `json:"prompt"`
			Invalid string `json:"invalid"`
			Next    string `json:"next"`
		}
		if err := sv.Decode(&raw); err != nil {
			return formatCUEError(err)
		}
		f.Steps[name] = Step{
			State:   name,
			Field:   raw.Field,
			Prompt:  raw.Prompt,
			Invalid: raw.Invalid,
			Next:    chat.DialogueState(raw.Next),
		}
		nexts[name] = sv.LookupPath(cue.ParsePath("next"))
	}

	for name, step := range f.Steps {
		if step.Next == chat.DialogueReady {
			continue
		}
		if _, ok := f.Steps[step.Next]; !ok {
			return &FlowError{
				Field:   "steps." + string(name) + ".next",
				Message: fmt.Sprintf("unknown step %q", step.Next),
				Pos:     nexts[name].Pos(),
			}
		}
	}

	// Every step must lead to ready without revisiting itself.
	for name := range f.Steps {
		seen := map[chat.DialogueState]bool{}
		for cur := name; cur != chat.DialogueReady; cur = f.Steps[cur].Next {
			if seen[cur] {
				return &FlowError{Field: "steps." + string(name), Message: "cycle never reaches ready", Pos: nexts[name].Pos()}
			}
			seen[cur] = true
		}
	}
	return nil
}

func parseMenu(v cue.Value, f *Flow) error {
	rows, err := v.LookupPath(cue.ParsePath("menu")).List()
	if err != nil {
		return formatCUEError(err)
	}
	for rows.Next() {
		cols, err := rows.Value().List()
		if err != nil {
			return formatCUEError(err)
		}
		var row []chat.Button
		for cols.Next() {
			var b struct {
				Label string `json:"label"`
				Data  string `json:"data"`
			}
			if err := cols.Value().Decode(&b); err != nil {
				return formatCUEError(err)
			}
			row = append(row, chat.Button{Label: b.Label, Data: b.Data})
		}
		if len(row) > 0 {
			f.Menu = append(f.Menu, row)
		}
	}
	return nil
}

// Step returns the onboarding step for state.
func (f *Flow) Step(state chat.DialogueState) (Step, bool) {
	s, ok := f.Steps[state]
	return s, ok
}

// Render fills {placeholders} in the named message. Unknown keys render as
// the key itself so a missing template is visible rather than silent.
func (f *Flow) Render(key string, vars map[string]string) string {
	tmpl, ok := f.Messages[key]
	if !ok {
		return key
	}
	if len(vars) == 0 {
		return tmpl
	}
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)
	pairs := make([]string, 0, 2*len(names))
	for _, k := range names {
		pairs = append(pairs, "{"+k+"}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// MenuKeyboard returns a copy of the ready-state keyboard.
func (f *Flow) MenuKeyboard() [][]chat.Button {
	out := make([][]chat.Button, len(f.Menu))
	for i, row := range f.Menu {
		out[i] = append([]chat.Button(nil), row...)
	}
	return out
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &FlowError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
