package chat

import "time"

// EventKind classifies an inbound payload.
type EventKind string

const (
	KindText     EventKind = "text"
	KindCommand  EventKind = "command"
	KindCallback EventKind = "callback"
)

// ConversationEvent is the canonical, immutable form of one inbound chat event.
// It is created by the ingestor and consumed exactly once by the dialogue.
type ConversationEvent struct {
	UserID UserID
	// EventID is the transport id and the deduplication key.
	EventID string
	Kind    EventKind

	// Text is the normalized message text (KindText).
	Text string
	// Command and Args are set for KindCommand ("/seek now" -> "seek", "now").
	Command string
	Args    string
	// Data is the button payload (KindCallback).
	Data string

	// Transport identity snapshot.
	Username  string
	FirstName string
	LastName  string

	ReceivedAt time.Time
	// Seq is the ingestor's logical receipt clock.
	Seq int64
	// CorrelationID ties log lines and outbound messages to this event.
	CorrelationID string
}

// Button is one inline keyboard button.
type Button struct {
	Label string
	Data  string
}

// OutboundMessage is a message the core wants delivered to a user.
type OutboundMessage struct {
	UserID  UserID
	Text    string
	Buttons [][]Button

	CorrelationID string
}
