// Package store provides SQLite-backed durable storage for lasso.
//
// The store holds:
//   - Users: versioned per-user profile and dialogue records
//   - Matches: committed pairings, active or ended
//   - Applied Events: (user, event id) pairs already committed by the dialogue
//   - Seen Events: the ingestor's deduplication window
//
// # Conditional Writes
//
// Every user write except the initial insert is conditional on the version
// the caller read. A mismatch returns chat.ErrVersionConflict and the caller
// re-reads. CASUpdate records the triggering event id in applied_events in
// the same transaction, so a redelivered event that slipped past the
// ingestor's window is rejected with chat.ErrDuplicateEvent.
//
// CommitMatch and EndMatch change two users and a match row in one
// transaction. CommitMatch additionally requires both users to still be
// seeking with no active match.
//
// # Deterministic Reads
//
// List queries always order by a unique key (users by id, matches by
// created_at then id) so inspection output is stable.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
