// Package engine wires the inbound pipeline.
//
// A raw transport event is normalized and deduplicated by the ingestor,
// queued on a lane chosen by user id, handled by the conversation state
// machine, and its replies are handed to the outbound sink. Lanes give
// per-user ordering without a global lock; the state machine's versioned
// writes keep concurrent lanes from clobbering each other.
//
// An event that is claimed but never handled, because its lane was closed
// or the handler failed, gives its dedup claim back so a redelivery gets
// through. Repeated storage failures stop Run instead of dropping events
// one by one.
//
// Matching runs beside the pipeline, not inside it: the state machine only
// enqueues seekers, and the matching scheduler announces matches through
// the same sink.
package engine
