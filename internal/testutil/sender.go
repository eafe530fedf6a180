package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/lasso/internal/chat"
)

// FakeSender records delivered messages and can be scripted to fail.
// It satisfies notify.Sender.
type FakeSender struct {
	mu        sync.Mutex
	sent      []chat.OutboundMessage
	attempts  map[chat.UserID]int
	transient map[chat.UserID]int
	permanent map[chat.UserID]bool
}

// NewFakeSender returns a sender that accepts everything.
func NewFakeSender() *FakeSender {
	return &FakeSender{
		attempts:  make(map[chat.UserID]int),
		transient: make(map[chat.UserID]int),
		permanent: make(map[chat.UserID]bool),
	}
}

// FailTransient makes the next n sends to id fail with a transient error.
func (f *FakeSender) FailTransient(id chat.UserID, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transient[id] = n
}

// Block makes every send to id fail permanently, as if the user blocked the bot.
func (f *FakeSender) Block(id chat.UserID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permanent[id] = true
}

// Send implements notify.Sender.
func (f *FakeSender) Send(ctx context.Context, msg chat.OutboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts[msg.UserID]++
	if f.permanent[msg.UserID] {
		return fmt.Errorf("%w: user %d blocked the bot", chat.ErrDeliveryPermanent, msg.UserID)
	}
	if f.transient[msg.UserID] > 0 {
		f.transient[msg.UserID]--
		return fmt.Errorf("%w: simulated outage", chat.ErrDeliveryTransient)
	}

	f.sent = append(f.sent, msg)
	return nil
}

// Sent returns a copy of every successfully delivered message in order.
func (f *FakeSender) Sent() []chat.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.OutboundMessage(nil), f.sent...)
}

// SentTo returns the texts delivered to one user in order.
func (f *FakeSender) SentTo(id chat.UserID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		if m.UserID == id {
			out = append(out, m.Text)
		}
	}
	return out
}

// Attempts returns how many sends to id were attempted, failed ones included.
func (f *FakeSender) Attempts(id chat.UserID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[id]
}

// Reset forgets delivered messages and attempt counts.
func (f *FakeSender) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
	f.attempts = make(map[chat.UserID]int)
}
