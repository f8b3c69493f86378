// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connection state and reconnect counts
//   - Frame and event throughput
//   - Batch flush counts and sizes
//   - History evictions
package metrics
