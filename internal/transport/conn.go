package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/swarmdash/eventstream/internal/model"
)

// FrameHandler receives parsed frames in wire-arrival order.
type FrameHandler func(model.Frame)

// StatusHandler receives connection state transitions. It is invoked from
// transport goroutines and must not block.
type StatusHandler func(State)

// Conn owns exactly one underlying socket at a time and drives the
// reconnect and heartbeat state machine.
type Conn struct {
	cfg      Config
	dialer   Dialer
	registry *Registry
	logger   *slog.Logger

	mu             sync.Mutex
	state          State
	sock           Socket
	gen            int // socket generation; stale callbacks are ignored
	attempts       int
	lastPong       time.Time
	heartbeatStop  chan struct{}
	reconnectTimer *time.Timer
	onFrame        FrameHandler
	onStatus       StatusHandler

	stateVal atomic.Value // State, for lock-free reads

	errMu   sync.Mutex
	lastErr error

	framesReceived atomic.Int64
	framesSent     atomic.Int64
	malformed      atomic.Int64
}

// NewConn creates a connection manager over the given dialer and registry.
// A nil dialer uses the production WebSocket dialer; a nil registry gets a
// fresh one; a nil logger falls back to slog.Default.
func NewConn(cfg Config, dialer Dialer, registry *Registry, logger *slog.Logger) *Conn {
	if dialer == nil {
		dialer = NewWebsocketDialer()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}

	c := &Conn{
		cfg:      cfg,
		dialer:   dialer,
		registry: registry,
		logger:   logger,
		state:    StateDisconnected,
	}
	c.stateVal.Store(StateDisconnected)
	return c
}

// OnFrame sets the handler for incoming frames. Set before Connect.
func (c *Conn) OnFrame(h FrameHandler) {
	c.mu.Lock()
	c.onFrame = h
	c.mu.Unlock()
}

// OnStatus sets the handler for state transitions. Set before Connect.
func (c *Conn) OnStatus(h StatusHandler) {
	c.mu.Lock()
	c.onStatus = h
	c.mu.Unlock()
}

// Registry returns the subscription registry.
func (c *Conn) Registry() *Registry { return c.registry }

// State returns the current connection state.
func (c *Conn) State() State {
	return c.stateVal.Load().(State)
}

// IsConnected reports whether the socket is open.
func (c *Conn) IsConnected() bool {
	return c.State() == StateConnected
}

// LastError returns the most recent terminal error, if any.
func (c *Conn) LastError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

// Stats returns transport counters.
func (c *Conn) Stats() Stats {
	c.mu.Lock()
	attempts := c.attempts
	lastPong := c.lastPong
	c.mu.Unlock()

	return Stats{
		State:           c.State(),
		Attempts:        attempts,
		FramesReceived:  c.framesReceived.Load(),
		FramesSent:      c.framesSent.Load(),
		MalformedFrames: c.malformed.Load(),
		LastPong:        lastPong,
	}
}

// Connect establishes the connection. Idempotent: an already connected Conn
// returns immediately with no new socket. A first-attempt dial failure
// transitions to the error state and returns a ConnectionError; this is the
// only case where a caller receives an error from the connect path.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	notify := c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	c.fire(notify)

	if err := c.dial(ctx); err != nil {
		c.setErr(err)
		c.mu.Lock()
		notify := c.setStateLocked(StateError)
		c.mu.Unlock()
		c.fire(notify)
		return &ConnectionError{URL: c.cfg.URL, Err: err}
	}
	return nil
}

// Disconnect intentionally closes the connection: the heartbeat and any
// pending reconnect timer are cancelled synchronously so no further attempt
// is scheduled, and the socket closes with a normal code that suppresses
// auto-reconnect. This is the sole cancellation point.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.stopHeartbeatLocked()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	sock := c.sock
	c.sock = nil
	c.gen++ // invalidate in-flight socket callbacks
	c.attempts = 0
	notify := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
	c.fire(notify)

	if sock != nil {
		sock.Close(CloseNormal, "client disconnect")
	}
}

// Send serializes a frame and writes it. Returns false, without error, when
// the socket is not open.
func (c *Conn) Send(f model.Frame) bool {
	c.mu.Lock()
	sock := c.sock
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || sock == nil {
		return false
	}

	data, err := json.Marshal(f)
	if err != nil {
		c.logger.Warn("frame marshal failed", "type", f.Type, "error", err)
		return false
	}
	if err := sock.SendText(string(data)); err != nil {
		c.logger.Warn("frame send failed", "type", f.Type, "error", err)
		return false
	}
	c.framesSent.Add(1)
	return true
}

// Subscribe adds the channel to the registry and, when connected, sends the
// subscribe frame immediately. When not connected the registry update alone
// suffices: the channel is swept in on the next successful connect.
func (c *Conn) Subscribe(channel string) {
	c.registry.Add(channel)
	c.Send(model.Frame{Type: "subscribe", Channel: channel})
}

// Unsubscribe removes the channel from the registry and, when connected,
// sends the unsubscribe frame immediately.
func (c *Conn) Unsubscribe(channel string) {
	c.registry.Remove(channel)
	c.Send(model.Frame{Type: "unsubscribe", Channel: channel})
}

// dial performs one connection attempt and, on success, completes the
// on-open transition: reset attempts, start heartbeat, resubscribe.
func (c *Conn) dial(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	cb := Callbacks{
		OnMessage: func(text string) { c.handleMessage(gen, text) },
		OnClose:   func(code int) { c.handleClose(gen, code) },
		OnError:   func(err error) { c.handleError(gen, err) },
	}

	sock, err := c.dialer.Dial(ctx, c.cfg.URL, c.cfg.Protocols, cb)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if gen != c.gen {
		// Disconnect raced the dial; drop the socket.
		c.mu.Unlock()
		sock.Close(CloseNormal, "superseded")
		return nil
	}
	c.sock = sock
	c.attempts = 0
	c.lastPong = time.Now()
	notify := c.setStateLocked(StateConnected)
	c.startHeartbeatLocked(gen)
	c.mu.Unlock()
	c.fire(notify)

	for _, channel := range c.registry.Channels() {
		c.Send(model.Frame{Type: "subscribe", Channel: channel})
	}

	c.logger.Info("connected", "url", c.cfg.URL, "channels", c.registry.Len())
	return nil
}

// handleMessage parses one wire frame. Malformed text is downgraded to a
// raw frame, pongs feed the heartbeat, everything else goes to the frame
// handler.
func (c *Conn) handleMessage(gen int, text string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	handler := c.onFrame
	c.mu.Unlock()

	var frame model.Frame
	if err := json.Unmarshal([]byte(text), &frame); err != nil {
		c.malformed.Add(1)
		frame = model.RawFrame(text)
	}
	if frame.Timestamp == 0 {
		frame.Timestamp = float64(time.Now().UnixMilli())
	}

	if frame.Type == "pong" {
		c.mu.Lock()
		if gen == c.gen {
			c.lastPong = time.Now()
		}
		c.mu.Unlock()
		return
	}

	c.framesReceived.Add(1)
	if handler != nil {
		c.deliver(handler, frame)
	}
}

// deliver invokes the frame handler with panic recovery so no fault escapes
// a socket callback.
func (c *Conn) deliver(h FrameHandler, f model.Frame) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Warn("frame handler panicked", "type", f.Type, "panic", rec)
		}
	}()
	h(f)
}

// handleClose runs when the socket dies. Intentional codes are terminal;
// anything else enters the reconnect policy.
func (c *Conn) handleClose(gen int, code int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.stopHeartbeatLocked()
	c.sock = nil

	var notify func()
	if intentionalClose(code) {
		notify = c.setStateLocked(StateDisconnected)
	} else {
		c.logger.Warn("connection lost", "code", code)
		notify = c.scheduleReconnectLocked()
	}
	c.mu.Unlock()
	c.fire(notify)
}

func (c *Conn) handleError(gen int, err error) {
	c.mu.Lock()
	stale := gen != c.gen
	c.mu.Unlock()
	if !stale {
		c.logger.Warn("socket error", "error", err)
	}
}

// scheduleReconnectLocked applies the reconnect policy: give up at the
// attempt ceiling, otherwise back off exponentially and schedule a retry.
// Caller holds c.mu; the returned notification runs after unlock.
func (c *Conn) scheduleReconnectLocked() func() {
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.setErr(ErrMaxRetries)
		c.logger.Error("reconnect attempts exhausted", "attempts", c.attempts)
		return c.setStateLocked(StateError)
	}

	notify := c.setStateLocked(StateReconnecting)
	c.attempts++
	delay := backoffDelay(c.attempts, c.cfg.ReconnectDelay)
	c.logger.Info("scheduling reconnect", "attempt", c.attempts, "delay", delay)
	c.reconnectTimer = time.AfterFunc(delay, c.retry)
	return notify
}

// retry is the reconnect timer body. A failed dial loops back into the
// same policy; the failure is never surfaced to a caller.
func (c *Conn) retry() {
	c.mu.Lock()
	if c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.mu.Unlock()

	if err := c.dial(context.Background()); err != nil {
		c.logger.Warn("reconnect attempt failed", "error", err)
		c.mu.Lock()
		notify := c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.fire(notify)
	}
}

// backoffDelay computes the delay before reconnect attempt k (1-based):
// base doubled per attempt, capped at 30s.
func backoffDelay(attempt int, base time.Duration) time.Duration {
	if attempt > 30 {
		return reconnectMaxDelay
	}
	d := base << (attempt - 1)
	if d <= 0 || d > reconnectMaxDelay {
		return reconnectMaxDelay
	}
	return d
}

// startHeartbeatLocked launches the heartbeat loop for this socket
// generation. Caller holds c.mu.
func (c *Conn) startHeartbeatLocked(gen int) {
	stop := make(chan struct{})
	c.heartbeatStop = stop
	go c.heartbeatLoop(gen, stop)
}

func (c *Conn) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

// heartbeatLoop pings every interval. A link with no pong for two intervals
// is treated as stale and force-closed with a non-intentional code, which
// re-enters the reconnect path; no ping is sent that cycle.
func (c *Conn) heartbeatLoop(gen int, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if gen != c.gen || c.state != StateConnected {
				c.mu.Unlock()
				return
			}
			stale := time.Since(c.lastPong) > 2*c.cfg.HeartbeatInterval
			sock := c.sock
			c.mu.Unlock()

			if stale {
				c.logger.Warn("heartbeat stale, forcing close",
					"interval", c.cfg.HeartbeatInterval,
				)
				if sock != nil {
					sock.Close(closeStale, "heartbeat timeout")
				}
				return
			}

			c.Send(model.Frame{
				Type:      "ping",
				Timestamp: float64(time.Now().UnixMilli()),
			})
		}
	}
}

// setStateLocked updates the state and returns the status notification to
// run after the caller releases c.mu, or nil when nothing changed.
func (c *Conn) setStateLocked(s State) func() {
	if c.state == s {
		return nil
	}
	c.state = s
	c.stateVal.Store(s)
	h := c.onStatus
	if h == nil {
		return nil
	}
	return func() { h(s) }
}

// fire runs a status notification with panic recovery.
func (c *Conn) fire(notify func()) {
	if notify == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Warn("status handler panicked", "panic", rec)
		}
	}()
	notify()
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()
}
