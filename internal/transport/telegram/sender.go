package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/roach88/lasso/internal/chat"
	"github.com/roach88/lasso/internal/notify"
)

// Descriptions the Bot API returns for recipients that will never accept
// a message again.
var unreachable = []string{
	"chat not found",
	"user is deactivated",
	"bot was blocked by the user",
	"bot can't initiate conversation",
}

// Sender delivers outbound messages as private chat messages.
type Sender struct {
	api botAPI
}

// NewSender creates a Sender over api.
func NewSender(api botAPI) *Sender {
	return &Sender{api: api}
}

// Send posts msg to the user's private chat. Errors are classified with
// notify.Permanent or notify.Transient.
func (s *Sender) Send(ctx context.Context, msg chat.OutboundMessage) error {
	if err := ctx.Err(); err != nil {
		return notify.Transient(err)
	}
	if _, err := s.api.Send(toMessage(msg)); err != nil {
		return classify(fmt.Errorf("send to %d: %w", msg.UserID, err))
	}
	return nil
}

// In private chats the chat id equals the user id.
func toMessage(msg chat.OutboundMessage) tgbotapi.MessageConfig {
	out := tgbotapi.NewMessage(int64(msg.UserID), msg.Text)
	if len(msg.Buttons) > 0 {
		out.ReplyMarkup = keyboard(msg.Buttons)
	}
	return out
}

func keyboard(rows [][]chat.Button) tgbotapi.InlineKeyboardMarkup {
	markup := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		markup = append(markup, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(markup...)
}

// classify maps Bot API failures onto the delivery sentinels. Forbidden and
// unreachable-chat responses are permanent; everything else, including
// rate limits, server errors and network failures, is retried.
func classify(err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return notify.Transient(err)
	}
	switch {
	case apiErr.Code == http.StatusForbidden:
		return notify.Permanent(err)
	case apiErr.Code == http.StatusBadRequest && isUnreachable(apiErr.Message):
		return notify.Permanent(err)
	default:
		return notify.Transient(err)
	}
}

func isUnreachable(description string) bool {
	d := strings.ToLower(description)
	for _, s := range unreachable {
		if strings.Contains(d, s) {
			return true
		}
	}
	return false
}
