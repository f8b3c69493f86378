package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors holds the event-stream client metrics. A nil *Collectors is
// safe to pass around: the facade checks before incrementing.
type Collectors struct {
	FramesReceived   prometheus.Counter
	FramesMalformed  prometheus.Counter
	EventsRejected   prometheus.Counter
	EventsStored     prometheus.Counter
	BatchesFlushed   prometheus.Counter
	BatchSize        prometheus.Histogram
	HistoryEvictions prometheus.Counter
	Reconnects       prometheus.Counter
	ConnectionState  prometheus.Gauge
}

// NewCollectors creates and registers the client metrics.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventstream",
			Subsystem: "transport",
			Name:      "frames_received_total",
			Help:      "Total frames received from the server",
		}),
		FramesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventstream",
			Subsystem: "transport",
			Name:      "frames_malformed_total",
			Help:      "Frames that failed JSON parsing and were downgraded to raw",
		}),
		EventsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventstream",
			Subsystem: "aggregate",
			Name:      "events_rejected_total",
			Help:      "Frames rejected by event-type validation",
		}),
		EventsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventstream",
			Subsystem: "history",
			Name:      "events_stored_total",
			Help:      "Normalized events written to the history buffer",
		}),
		BatchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventstream",
			Subsystem: "aggregate",
			Name:      "batches_flushed_total",
			Help:      "Batches emitted by the aggregator",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "eventstream",
			Subsystem: "aggregate",
			Name:      "batch_size",
			Help:      "Events per flushed batch",
			Buckets:   []float64{1, 5, 10, 25, 50, 100},
		}),
		HistoryEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventstream",
			Subsystem: "history",
			Name:      "evictions_total",
			Help:      "Events evicted from the history buffer",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventstream",
			Subsystem: "transport",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts scheduled",
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventstream",
			Subsystem: "transport",
			Name:      "connection_state",
			Help:      "Connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=error)",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			c.FramesReceived,
			c.FramesMalformed,
			c.EventsRejected,
			c.EventsStored,
			c.BatchesFlushed,
			c.BatchSize,
			c.HistoryEvictions,
			c.Reconnects,
			c.ConnectionState,
		)
	}
	return c
}
