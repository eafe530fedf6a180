// Package ingest turns raw transport events into canonical conversation
// events and hands them to per-user lanes.
//
// The ingestor never touches user state. Its guarantees are:
//
//   - Normalization: text is trimmed and NFC normalized, "/cmd args" text is
//     classified as a command, button presses as callbacks.
//   - Deduplication: an event id claimed inside the retention window is
//     rejected with chat.ErrDuplicateEvent. Callers drop it silently.
//   - Per-user order: the Dispatcher routes every event for a user to the
//     same lane, and each lane is drained by one goroutine in FIFO order.
//     Different users proceed in parallel.
//
// Dedup windows can live in memory, in the SQLite store, in Redis or in a
// DynamoDB table, depending on how many processes share the bot token.
package ingest
