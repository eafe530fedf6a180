package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/lasso/internal/chat"
)

// MaxMessageRunes is the longest text a single transport message carries.
const MaxMessageRunes = 4096

// DefaultAttempts bounds delivery attempts per message part.
const DefaultAttempts = 5

// Sender is the transport boundary. Implementations classify failures with
// Transient or Permanent; unclassified errors are retried as transient.
type Sender interface {
	Send(ctx context.Context, msg chat.OutboundMessage) error
}

// Transient marks err as worth retrying.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", chat.ErrDeliveryTransient, err)
}

// Permanent marks err as final: the recipient cannot be reached.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", chat.ErrDeliveryPermanent, err)
}

// IsPermanent reports whether err is a permanent delivery failure.
func IsPermanent(err error) bool {
	return errors.Is(err, chat.ErrDeliveryPermanent)
}

// Notifier delivers messages with bounded retries.
type Notifier struct {
	sender      Sender
	attempts    uint
	newBackOff  func() backoff.BackOff
	onPermanent func(ctx context.Context, id chat.UserID, err error)
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithAttempts sets the attempt budget per message part.
func WithAttempts(n int) Option {
	return func(nt *Notifier) {
		if n > 0 {
			nt.attempts = uint(n)
		}
	}
}

// WithBackOff sets the retry schedule factory. A fresh schedule is used for
// every message part.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(nt *Notifier) { nt.newBackOff = fn }
}

// WithOnPermanent registers a hook for recipients that cannot be reached.
func WithOnPermanent(fn func(ctx context.Context, id chat.UserID, err error)) Option {
	return func(nt *Notifier) { nt.onPermanent = fn }
}

// DefaultBackOff is exponential from 200ms, capped at 5s.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

// New creates a notifier over sender.
func New(sender Sender, opts ...Option) *Notifier {
	n := &Notifier{
		sender:     sender,
		attempts:   DefaultAttempts,
		newBackOff: DefaultBackOff,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Deliver sends msg, split into parts no longer than MaxMessageRunes.
// Buttons ride on the last part. A nil return means every part was
// acknowledged.
func (n *Notifier) Deliver(ctx context.Context, msg chat.OutboundMessage) error {
	parts := Split(msg.Text, MaxMessageRunes)
	for i, text := range parts {
		part := msg
		part.Text = text
		if i < len(parts)-1 {
			part.Buttons = nil
		}
		if err := n.deliverPart(ctx, part); err != nil {
			return err
		}
	}
	return nil
}

func (n *Notifier) deliverPart(ctx context.Context, msg chat.OutboundMessage) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := n.sender.Send(ctx, msg)
		if err != nil && IsPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(n.newBackOff()),
		backoff.WithMaxTries(n.attempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.Warn("delivery failed, retrying",
				"user_id", int64(msg.UserID),
				"correlation_id", msg.CorrelationID,
				"attempt", attempt,
				"wait", wait.String(),
				"error", err,
			)
		}),
	)
	if err == nil {
		return nil
	}

	if IsPermanent(err) {
		slog.Warn("recipient unreachable",
			"user_id", int64(msg.UserID),
			"correlation_id", msg.CorrelationID,
			"error", err,
		)
		if n.onPermanent != nil {
			n.onPermanent(ctx, msg.UserID, err)
		}
		return fmt.Errorf("deliver to %d: %w", msg.UserID, err)
	}
	if errors.Is(err, chat.ErrDeliveryTransient) {
		return fmt.Errorf("deliver to %d: %d attempts: %w", msg.UserID, attempt, err)
	}
	return fmt.Errorf("deliver to %d: %d attempts: %w: %w", msg.UserID, attempt, chat.ErrDeliveryTransient, err)
}

// Split breaks text into parts of at most max runes, preferring to break
// after a newline in the second half of a window.
func Split(text string, max int) []string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var parts []string
	runes := []rune(text)
	for len(runes) > max {
		cut := max
		window := string(runes[:max])
		if i := strings.LastIndexByte(window, '\n'); i >= 0 {
			if at := utf8.RuneCountInString(window[:i]) + 1; at > max/2 {
				cut = at
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
