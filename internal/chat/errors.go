package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateEvent marks an event id that was already seen or applied.
	// It is a signal, not a failure: callers drop the event silently.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrVersionConflict is returned by conditional writes whose expected
	// version no longer matches. Callers re-read and retry.
	ErrVersionConflict = errors.New("version conflict")

	// ErrStateUnavailable is returned when the CAS retry budget is exhausted
	// or storage is unreachable.
	ErrStateUnavailable = errors.New("state unavailable")

	// ErrInvalidTransition marks input that the current dialogue state does
	// not accept. The dialogue re-prompts; it is never fatal.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrDeliveryTransient is a delivery failure worth retrying.
	ErrDeliveryTransient = errors.New("delivery failed: transient")

	// ErrDeliveryPermanent is a delivery failure that will not succeed on
	// retry (bot blocked, account deleted).
	ErrDeliveryPermanent = errors.New("delivery failed: permanent")

	ErrUserNotFound  = errors.New("user not found")
	ErrMatchNotFound = errors.New("match not found")
)

// StateError describes a rejected dialogue input with the state it was
// rejected in. It wraps ErrInvalidTransition.
type StateError struct {
	State  DialogueState
	Input  string
	Reason string
}

func (e *StateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid transition in %s: %s", e.State, e.Reason)
	}
	return fmt.Sprintf("invalid transition in %s", e.State)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidTransition
}

// IsDuplicate reports whether err marks a duplicate event.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateEvent)
}

// IsConflict reports whether err is a CAS version conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
