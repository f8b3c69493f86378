// Package router fans raw frames out to registered listeners.
//
// Handlers are keyed three ways: by exact frame type, by channel (under the
// pseudo-key "channel:<name>"), and by wildcard. Dispatch order is fixed:
// type handlers, then channel handlers, then wildcard handlers. A panicking
// handler is recovered and logged so sibling handlers still run.
package router
