package config

import "time"

// Config is the root configuration for an event-stream consumer.
type Config struct {
	Stream      StreamConfig      `yaml:"stream"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	History     HistoryConfig     `yaml:"history"`
	Database    DatabaseConfig    `yaml:"database"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// StreamConfig holds WebSocket connection settings.
type StreamConfig struct {
	URL                  string        `yaml:"url"`
	Protocols            []string      `yaml:"protocols"`
	Channels             []string      `yaml:"channels"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
}

// AggregationConfig holds event batching settings. Enabled defaults to
// true when absent; set it to false explicitly to deliver events one at
// a time.
type AggregationConfig struct {
	Enabled       *bool         `yaml:"enabled"`
	BatchInterval time.Duration `yaml:"batch_interval"`
	MaxBatchSize  int           `yaml:"max_batch_size"`
}

// On reports whether aggregation is enabled.
func (a AggregationConfig) On() bool {
	return a.Enabled == nil || *a.Enabled
}

// HistoryConfig bounds the in-memory event buffer.
type HistoryConfig struct {
	Capacity int `yaml:"capacity"`
}

// DatabaseConfig holds the Postgres connection for event archival.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// ArchiveConfig holds batch archiver settings.
type ArchiveConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
