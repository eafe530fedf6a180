package telegram

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/roach88/lasso/internal/chat"
	"github.com/roach88/lasso/internal/ingest"
)

// DefaultPollTimeout is the long-poll window in seconds.
const DefaultPollTimeout = 50

// SubmitFunc hands one raw event to the pipeline.
type SubmitFunc func(ctx context.Context, raw ingest.RawEvent) error

// Poller pulls updates with getUpdates and submits them as raw events.
// The update id becomes the event id, so a redelivered update is a
// duplicate to the ingestor.
type Poller struct {
	api        botAPI
	submit     SubmitFunc
	timeout    int
	newBackOff func() backoff.BackOff
	offset     int
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollTimeout sets the long-poll window in seconds.
func WithPollTimeout(seconds int) PollerOption {
	return func(p *Poller) {
		if seconds >= 0 {
			p.timeout = seconds
		}
	}
}

// WithPollBackOff sets the schedule for retrying failed polls.
func WithPollBackOff(fn func() backoff.BackOff) PollerOption {
	return func(p *Poller) { p.newBackOff = fn }
}

// NewPoller creates a Poller over api.
func NewPoller(api botAPI, submit SubmitFunc, opts ...PollerOption) *Poller {
	p := &Poller{
		api:     api,
		submit:  submit,
		timeout: DefaultPollTimeout,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = time.Minute
			return b
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is cancelled. A poll already in flight finishes
// first; the Bot API call has no cancellation.
func (p *Poller) Run(ctx context.Context) error {
	slog.Info("telegram poller starting", "timeout", p.timeout)
	b := p.newBackOff()

	for {
		if ctx.Err() != nil {
			slog.Info("telegram poller stopping", "offset", p.offset)
			return nil
		}

		cfg := tgbotapi.NewUpdate(p.offset)
		cfg.Timeout = p.timeout
		cfg.AllowedUpdates = []string{"message", "callback_query"}

		updates, err := p.api.GetUpdates(cfg)
		if err != nil {
			wait := b.NextBackOff()
			slog.Warn("poll failed, retrying", "offset", p.offset, "wait", wait.String(), "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
			continue
		}
		b.Reset()

		if !p.deliver(ctx, updates) {
			slog.Info("telegram poller stopping", "offset", p.offset)
			return nil
		}
	}
}

// deliver submits a batch in order. It returns false when ctx ended
// mid-batch; the unconfirmed remainder is redelivered on the next start.
func (p *Poller) deliver(ctx context.Context, updates []tgbotapi.Update) bool {
	for _, u := range updates {
		raw, callbackID, ok := toRawEvent(u)
		if ok {
			if err := p.submit(ctx, raw); err != nil {
				if ctx.Err() != nil {
					return false
				}
				slog.Warn("update rejected",
					"update_id", u.UpdateID,
					"user_id", raw.UserID,
					"error", err,
				)
			}
		} else {
			slog.Debug("ignoring update", "update_id", u.UpdateID)
		}

		if callbackID != "" {
			if _, err := p.api.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
				slog.Debug("answer callback failed", "update_id", u.UpdateID, "error", err)
			}
		}
		p.offset = u.UpdateID + 1
	}
	return true
}

// toRawEvent converts private-chat messages and callback queries. Group
// traffic and bot senders are ignored.
func toRawEvent(u tgbotapi.Update) (raw ingest.RawEvent, callbackID string, ok bool) {
	eventID := strconv.Itoa(u.UpdateID)

	switch {
	case u.Message != nil:
		m := u.Message
		if m.From == nil || m.From.IsBot || (m.Chat != nil && !m.Chat.IsPrivate()) {
			return ingest.RawEvent{}, "", false
		}
		return ingest.RawEvent{
			UserID:     chat.UserID(m.From.ID),
			EventID:    eventID,
			Text:       m.Text,
			Username:   m.From.UserName,
			FirstName:  m.From.FirstName,
			LastName:   m.From.LastName,
			ReceivedAt: m.Time(),
		}, "", true

	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		if q.From == nil || q.From.IsBot {
			return ingest.RawEvent{}, q.ID, false
		}
		return ingest.RawEvent{
			UserID:       chat.UserID(q.From.ID),
			EventID:      eventID,
			CallbackData: q.Data,
			Username:     q.From.UserName,
			FirstName:    q.From.FirstName,
			LastName:     q.From.LastName,
		}, q.ID, true
	}
	return ingest.RawEvent{}, "", false
}
