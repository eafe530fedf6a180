package ingest

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/lasso/internal/chat"
)

// ErrMalformedEvent marks a raw event that cannot be attributed to a user.
var ErrMalformedEvent = errors.New("malformed event")

// RawEvent is what a transport adapter delivers for one inbound update.
type RawEvent struct {
	UserID  chat.UserID
	EventID string
	// Exactly one of Text and CallbackData is normally set.
	Text         string
	CallbackData string

	Username  string
	FirstName string
	LastName  string

	ReceivedAt time.Time
}

// maxTextRunes caps stored input; longer messages are truncated.
const maxTextRunes = 4096

// Normalize converts a raw event into its canonical form. now is used when
// the transport did not stamp a receipt time. Seq and CorrelationID are left
// for the Ingestor to assign.
func Normalize(raw RawEvent, now time.Time) (chat.ConversationEvent, error) {
	if raw.UserID <= 0 {
		return chat.ConversationEvent{}, fmt.Errorf("%w: missing user id", ErrMalformedEvent)
	}
	eventID := strings.TrimSpace(raw.EventID)
	if eventID == "" {
		return chat.ConversationEvent{}, fmt.Errorf("%w: missing event id", ErrMalformedEvent)
	}

	received := raw.ReceivedAt
	if received.IsZero() {
		received = now
	}

	ev := chat.ConversationEvent{
		UserID:     raw.UserID,
		EventID:    eventID,
		Username:   strings.TrimSpace(raw.Username),
		FirstName:  cleanText(raw.FirstName),
		LastName:   cleanText(raw.LastName),
		ReceivedAt: received.UTC(),
	}

	if data := strings.TrimSpace(raw.CallbackData); data != "" {
		ev.Kind = chat.KindCallback
		ev.Data = data
		return ev, nil
	}

	text := cleanText(raw.Text)
	if cmd, args, ok := parseCommand(text); ok {
		ev.Kind = chat.KindCommand
		ev.Command = cmd
		ev.Args = args
		ev.Text = text
		return ev, nil
	}

	ev.Kind = chat.KindText
	ev.Text = text
	return ev, nil
}

// cleanText trims, NFC normalizes, drops control characters other than
// newlines and truncates to maxTextRunes.
func cleanText(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	var b strings.Builder
	n := 0
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' {
			continue
		}
		if n == maxTextRunes {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// parseCommand splits "/seek@LassoBot now" into ("seek", "now").
// Command names are lower-cased; a bare "/" is not a command.
func parseCommand(text string) (cmd, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	for _, r := range head {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			return "", "", false
		}
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}
