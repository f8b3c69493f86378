package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/swarmdash/eventstream/internal/aggregate"
	"github.com/swarmdash/eventstream/internal/history"
	"github.com/swarmdash/eventstream/internal/metrics"
	"github.com/swarmdash/eventstream/internal/model"
	"github.com/swarmdash/eventstream/internal/router"
	"github.com/swarmdash/eventstream/internal/transport"
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("stream client closed")

// DefaultHistoryCapacity bounds the event history when unconfigured.
const DefaultHistoryCapacity = 1000

// Config configures a Client. Zero values take documented defaults.
type Config struct {
	URL                  string
	Protocols            []string
	MaxReconnectAttempts int           // default 10
	ReconnectDelay       time.Duration // default 1s
	HeartbeatInterval    time.Duration // default 30s

	// DisableAggregation bypasses batching: accepted frames normalize
	// straight into the history buffer.
	DisableAggregation bool
	BatchInterval      time.Duration // default 100ms
	MaxBatchSize       int           // default 50
	HistoryCapacity    int           // default 1000

	// Dialer overrides the production WebSocket dialer. Nil uses it.
	Dialer transport.Dialer

	Logger  *slog.Logger
	Metrics *metrics.Collectors

	// OnRawFrame observes every non-control frame before routing.
	OnRawFrame func(model.Frame)

	// OnBatch observes every flushed batch after it lands in history.
	OnBatch func(model.Batch)
}

type statusEntry struct {
	id int
	fn func(transport.State)
}

// Client is the lifecycle-scoped event-stream client.
type Client struct {
	cfg    Config
	logger *slog.Logger
	met    *metrics.Collectors

	conn *transport.Conn
	rt   *router.Router
	agg  *aggregate.Aggregator // nil when aggregation is disabled
	log  *history.EventLog

	offBatch func()

	mu        sync.Mutex
	closed    bool
	statusFns []statusEntry
	nextID    int
}

// New assembles a client. The caller owns the instance and must Close it.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	capacity := cfg.HistoryCapacity
	if capacity == 0 {
		capacity = DefaultHistoryCapacity
	}

	c := &Client{
		cfg:    cfg,
		logger: logger,
		met:    cfg.Metrics,
		rt:     router.New(logger),
		log:    history.NewEventLog(capacity),
	}

	if !cfg.DisableAggregation {
		c.agg = aggregate.New(aggregate.Config{
			BatchInterval: cfg.BatchInterval,
			MaxBatchSize:  cfg.MaxBatchSize,
		}, logger)
		c.offBatch = c.agg.OnBatch(c.handleBatch)
	}

	c.conn = transport.NewConn(transport.Config{
		URL:                  cfg.URL,
		Protocols:            cfg.Protocols,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectDelay:       cfg.ReconnectDelay,
		HeartbeatInterval:    cfg.HeartbeatInterval,
	}, cfg.Dialer, transport.NewRegistry(), logger)
	c.conn.OnFrame(c.handleFrame)
	c.conn.OnStatus(c.handleStatus)

	return c
}

// Connect establishes the connection, resolving when the socket is open or
// failing with a ConnectionError on first-attempt handshake failure.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()
	return c.conn.Connect(ctx)
}

// Disconnect intentionally closes the connection without tearing down the
// client; Connect may be called again.
func (c *Client) Disconnect() {
	c.conn.Disconnect()
}

// Close tears the client down: pending events flush, every internal
// listener is unregistered, and the transport disconnects. The client is
// unusable afterwards. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.statusFns = nil
	c.mu.Unlock()

	c.conn.OnFrame(nil)
	c.conn.OnStatus(nil)
	c.conn.Disconnect()

	if c.agg != nil {
		c.agg.Stop()
		c.offBatch()
	}
	return nil
}

// Subscribe registers interest in a channel; the subscription survives
// reconnects until Unsubscribe.
func (c *Client) Subscribe(channel string) {
	c.conn.Subscribe(channel)
}

// Unsubscribe removes the channel and discards its channel-scoped handlers.
func (c *Client) Unsubscribe(channel string) {
	c.conn.Unsubscribe(channel)
	c.rt.DropChannel(channel)
}

// Send writes a frame, reporting false when the socket is not open.
func (c *Client) Send(f model.Frame) bool {
	return c.conn.Send(f)
}

// On registers a handler for an exact frame type.
func (c *Client) On(frameType string, h router.Handler) func() {
	return c.rt.On(frameType, h)
}

// OnChannel registers a handler for every frame on a channel.
func (c *Client) OnChannel(channel string, h router.Handler) func() {
	return c.rt.OnChannel(channel, h)
}

// OnAny registers a wildcard handler.
func (c *Client) OnAny(h router.Handler) func() {
	return c.rt.OnAny(h)
}

// OnStatusChange registers a connection-status observer and returns a
// closure removing it.
func (c *Client) OnStatusChange(fn func(transport.State)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.statusFns = append(c.statusFns, statusEntry{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, e := range c.statusFns {
			if e.id == id {
				c.statusFns = append(c.statusFns[:i:i], c.statusFns[i+1:]...)
				break
			}
		}
	}
}

// Status returns the current connection state.
func (c *Client) Status() transport.State {
	return c.conn.State()
}

// IsConnected reports whether the socket is open.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// Channels returns the subscribed channels in registration order.
func (c *Client) Channels() []string {
	return c.conn.Registry().Channels()
}

// LastError returns the most recent terminal transport error.
func (c *Client) LastError() error {
	return c.conn.LastError()
}

// History returns the bounded event history for ad-hoc queries.
func (c *Client) History() *history.EventLog {
	return c.log
}

// Flush forces any pending aggregation window to flush immediately.
func (c *Client) Flush() {
	if c.agg != nil {
		c.agg.Flush()
	}
}

// handleFrame wires every transport frame through the raw callback, the
// router, and the ingestion path.
func (c *Client) handleFrame(f model.Frame) {
	if c.met != nil {
		c.met.FramesReceived.Inc()
		if f.Type == "raw" {
			c.met.FramesMalformed.Inc()
		}
	}

	if cb := c.cfg.OnRawFrame; cb != nil {
		c.observe(func() { cb(f) })
	}

	c.rt.Route(f)

	if c.agg != nil {
		if !c.agg.Ingest(f) && c.met != nil {
			c.met.EventsRejected.Inc()
		}
		return
	}

	// Direct mode: validation still applies, batching does not.
	if !aggregate.Validate(f.Type) {
		c.logger.Warn("rejected event with unknown type", "type", f.Type)
		if c.met != nil {
			c.met.EventsRejected.Inc()
		}
		return
	}
	_, evicted := c.log.Add(aggregate.Normalize(f))
	if c.met != nil {
		c.met.EventsStored.Inc()
		if evicted {
			c.met.HistoryEvictions.Inc()
		}
	}
}

// handleBatch persists a flushed batch and forwards it to the caller.
func (c *Client) handleBatch(b model.Batch) {
	evicted := c.log.AddBatch(b.Events)
	if c.met != nil {
		c.met.BatchesFlushed.Inc()
		c.met.BatchSize.Observe(float64(b.Count))
		c.met.EventsStored.Add(float64(b.Count))
		c.met.HistoryEvictions.Add(float64(len(evicted)))
	}

	if cb := c.cfg.OnBatch; cb != nil {
		c.observe(func() { cb(b) })
	}
}

func (c *Client) handleStatus(s transport.State) {
	if c.met != nil {
		c.met.ConnectionState.Set(stateValue(s))
		if s == transport.StateReconnecting {
			c.met.Reconnects.Inc()
		}
	}

	c.mu.Lock()
	entries := make([]statusEntry, len(c.statusFns))
	copy(entries, c.statusFns)
	c.mu.Unlock()

	for _, e := range entries {
		fn := e.fn
		c.observe(func() { fn(s) })
	}
}

// observe runs a caller-provided callback with panic recovery so consumer
// faults never escape transport goroutines.
func (c *Client) observe(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Warn("observer callback panicked", "panic", rec)
		}
	}()
	fn()
}

func stateValue(s transport.State) float64 {
	switch s {
	case transport.StateDisconnected:
		return 0
	case transport.StateConnecting:
		return 1
	case transport.StateConnected:
		return 2
	case transport.StateReconnecting:
		return 3
	case transport.StateError:
		return 4
	}
	return -1
}
