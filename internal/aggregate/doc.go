// Package aggregate validates raw frames, normalizes them into canonical
// events, and coalesces events into batches under bounded latency and
// bounded size.
//
// A frame is accepted only if its type is in the known-type whitelist or
// carries the "custom:" prefix. Accepted events accumulate until either
// MaxBatchSize is reached or BatchInterval elapses since the first pending
// event started the debounce timer; the timer is never reset by later
// arrivals, so at most one flush timer is in flight per batch window.
package aggregate
