package dialogue

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/lasso/internal/chat"
)

// ValidateName accepts letters, spaces, hyphens and apostrophes, collapses
// runs of whitespace and title-cases the result.
func ValidateName(input string, lim Limits) (string, error) {
	name := strings.Join(strings.Fields(input), " ")
	if name == "" {
		return "", fmt.Errorf("name is empty")
	}
	if n := utf8.RuneCountInString(name); n > lim.NameMaxRunes {
		return "", fmt.Errorf("name has %d characters, max %d", n, lim.NameMaxRunes)
	}
	hasLetter := false
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.Is(unicode.Mn, r):
			hasLetter = true
		case r == ' ' || r == '-' || r == '\'':
		default:
			return "", fmt.Errorf("name contains %q", r)
		}
	}
	if !hasLetter {
		return "", fmt.Errorf("name has no letters")
	}
	return cases.Title(language.Und).String(name), nil
}

// ValidateAge parses a whole-number age within the configured bounds.
func ValidateAge(input string, lim Limits) (int, error) {
	age, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return 0, fmt.Errorf("age is not a whole number")
	}
	if age < lim.AgeMin || age > lim.AgeMax {
		return 0, fmt.Errorf("age %d outside %d-%d", age, lim.AgeMin, lim.AgeMax)
	}
	return age, nil
}

// ValidateInterests splits a comma-separated list into distinct lower-cased
// entries, preserving first-seen order.
func ValidateInterests(input string, lim Limits) ([]string, error) {
	lower := cases.Lower(language.Und)
	seen := make(map[string]bool)
	var out []string
	for _, part := range strings.Split(input, ",") {
		item := lower.String(strings.Join(strings.Fields(part), " "))
		if item == "" || seen[item] {
			continue
		}
		if n := utf8.RuneCountInString(item); n > lim.InterestMaxRunes {
			return nil, fmt.Errorf("interest %q has %d characters, max %d", item, n, lim.InterestMaxRunes)
		}
		seen[item] = true
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no interests given")
	}
	if len(out) > lim.InterestsMax {
		return nil, fmt.Errorf("%d interests, max %d", len(out), lim.InterestsMax)
	}
	return out, nil
}

// apply validates input for step's field and stores it on p. Rejections
// are *chat.StateError.
func (f *Flow) apply(step Step, input string, p *chat.Profile) error {
	var err error
	switch step.Field {
	case FieldName:
		var name string
		if name, err = ValidateName(input, f.Limits); err == nil {
			p.Name = name
		}
	case FieldAge:
		var age int
		if age, err = ValidateAge(input, f.Limits); err == nil {
			p.Age = age
		}
	case FieldInterests:
		var interests []string
		if interests, err = ValidateInterests(input, f.Limits); err == nil {
			p.Interests = interests
		}
	default:
		err = fmt.Errorf("unknown field %q", step.Field)
	}
	if err != nil {
		return &chat.StateError{State: step.State, Input: input, Reason: err.Error()}
	}
	return nil
}
