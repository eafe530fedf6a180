// Package harness runs scripted conversations end to end.
//
// A scenario (YAML) seeds onboarded users, then plays inbound messages,
// button presses, matching passes and delivery failures through the real
// ingest, dialogue, matching and notify packages. Each run uses a fresh
// SQLite store, a manual clock and sequential correlation ids, so the trace
// is byte-for-byte reproducible and can be compared against golden files.
//
// Trace lines are canonical JSON. Match ids are content hashes; the trace
// shows them as match-1, match-2, ... in order of creation.
package harness
