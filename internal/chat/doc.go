// Package chat defines the domain model shared by every lasso component.
//
// The types here are plain values. Ownership rules are enforced by the
// packages that write them:
//
//   - store owns User and Match records and is the only place they persist.
//   - dialogue is the only writer of User.Dialogue.
//   - matching is the only writer of transitions into and out of StatusMatched.
//
// # Identity and Versioning
//
// Users are keyed by the transport user id (UserID). Every persisted User
// carries a monotonic Version. All writers except the initial insert supply
// the version they read and receive ErrVersionConflict on mismatch, which
// forces a re-read before retrying.
package chat
