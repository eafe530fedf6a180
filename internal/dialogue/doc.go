// Package dialogue runs the per-user conversation: onboarding steps that
// collect a profile, then the ready menu that hands users to matching.
//
// The flow is data: an embedded CUE document declares each step's prompt,
// field and successor, the menu keyboard and every message template.
// Machine.Handle is a read-decide-write loop over the profile store; each
// commit records the event id so redelivered events are ignored.
package dialogue
