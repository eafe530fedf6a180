// Package telegram adapts the Telegram Bot API to the pipeline: a Poller
// turns updates into raw events and a Sender posts outbound messages with
// inline keyboards, classifying failures for the notifier.
package telegram
