// Package archive implements the batch writer persisting stream events
// to PostgreSQL.
//
// The archiver uses append-only semantics (never update, only insert),
// with ON CONFLICT DO NOTHING so redelivered events are dropped at the
// database instead of being tracked in memory.
package archive
