package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultMaxReconnectAttempts = 10
	DefaultReconnectDelay       = 1 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultBatchInterval        = 100 * time.Millisecond
	DefaultMaxBatchSize         = 50
	DefaultHistoryCapacity      = 1000
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultArchiveBatchSize     = 500
	DefaultArchiveFlushInterval = 1 * time.Second
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
)

func (c *Config) applyDefaults() {
	// Stream defaults
	if c.Stream.MaxReconnectAttempts == 0 {
		c.Stream.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Stream.ReconnectDelay == 0 {
		c.Stream.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Stream.HeartbeatInterval == 0 {
		c.Stream.HeartbeatInterval = DefaultHeartbeatInterval
	}

	// Aggregation defaults
	if c.Aggregation.BatchInterval == 0 {
		c.Aggregation.BatchInterval = DefaultBatchInterval
	}
	if c.Aggregation.MaxBatchSize == 0 {
		c.Aggregation.MaxBatchSize = DefaultMaxBatchSize
	}

	// History defaults
	if c.History.Capacity == 0 {
		c.History.Capacity = DefaultHistoryCapacity
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Archive defaults
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultArchiveBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultArchiveFlushInterval
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
