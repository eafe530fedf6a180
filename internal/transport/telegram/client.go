package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// botAPI is the minimal Bot API surface the poller and sender need.
// *tgbotapi.BotAPI satisfies it; tests use a fake.
type botAPI interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Client is a connected bot.
type Client struct {
	api      botAPI
	username string
}

// Connect authenticates token against the Bot API.
func Connect(token string) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram: empty bot token")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	return &Client{api: bot, username: bot.Self.UserName}, nil
}

// Username returns the bot's own username.
func (c *Client) Username() string {
	return c.username
}

// Sender returns an outbound sender over this client.
func (c *Client) Sender() *Sender {
	return NewSender(c.api)
}

// Poller returns a long-polling update source over this client.
func (c *Client) Poller(submit SubmitFunc, opts ...PollerOption) *Poller {
	return NewPoller(c.api, submit, opts...)
}
