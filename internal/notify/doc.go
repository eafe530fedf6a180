// Package notify delivers outbound messages.
//
// A Notifier sends one message through the transport Sender, splitting long
// text and retrying transient failures on an exponential schedule. A
// permanent failure is not retried; it fires the OnPermanent hook so the
// recipient can be paused. The Outbox runs Notifiers off the request path
// so no state lock is held while a delivery retries.
package notify
