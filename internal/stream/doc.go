// Package stream composes the transport, router, aggregator, and history
// store into the client facade exposed to consumers.
//
// Every raw frame delivered by the transport is handed to the optional
// raw-frame callback, routed to registered handlers, and fed to the
// aggregator (or normalized straight into the history buffer when
// aggregation is disabled). Flushed batches land in the history buffer and
// reach the optional batch callback. Close tears the whole assembly down
// synchronously: no listener fires after it returns.
package stream
