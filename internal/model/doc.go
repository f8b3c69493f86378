// Package model defines shared data types used across the event-stream core:
// wire frames, normalized events, and batches.
//
// Conventions:
//   - Timestamps: int64 milliseconds since Unix epoch
//   - Event IDs: UUID strings, unique per process lifetime
//   - Payloads: opaque JSON, never inspected by the core
package model
