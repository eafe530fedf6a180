// Package admin serves a read-only operator API over HTTP: health, user
// lookup, match listing and counters. It never mutates state.
package admin
