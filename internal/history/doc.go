// Package history implements the bounded event history store.
//
// Two layers:
//   - Ring[T]: a generic fixed-capacity circular buffer with O(1) insert and
//     eviction. Not safe for concurrent use on its own.
//   - EventLog: the event-specific query layer over Ring[model.Event] with
//     by-type/by-channel/by-time queries, aggregate stats, and JSON
//     snapshot/restore. EventLog serializes all access internally.
package history
