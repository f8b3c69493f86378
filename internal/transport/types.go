package transport

import (
	"errors"
	"fmt"
	"time"
)

// State is the connection lifecycle state. Transitions are driven
// exclusively by the transport; disconnected and error are the only states
// reachable without an active socket.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

// Close codes. Normal and going-away are the two intentional codes used by
// Disconnect; every other code triggers reconnection. The stale code marks
// a heartbeat-detected dead link and deliberately is not intentional.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseAbnormal  = 1006
	closeStale     = 4000
)

func intentionalClose(code int) bool {
	return code == CloseNormal || code == CloseGoingAway
}

// Errors
var (
	ErrNotConnected = errors.New("not connected")
	ErrMaxRetries   = errors.New("reconnect attempts exhausted")
)

// ConnectionError reports an initial handshake failure. It is the only
// error a Connect caller receives; retry-path failures surface through the
// state machine instead.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Config configures a Conn.
type Config struct {
	URL                  string
	Protocols            []string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration // base delay, doubled per attempt
	HeartbeatInterval    time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxReconnectAttempts: 10,
		ReconnectDelay:       time.Second,
		HeartbeatInterval:    30 * time.Second,
	}
}

// reconnectMaxDelay caps the exponential backoff.
const reconnectMaxDelay = 30 * time.Second

// Stats provides transport counters.
type Stats struct {
	State           State
	Attempts        int
	FramesReceived  int64
	FramesSent      int64
	MalformedFrames int64
	LastPong        time.Time
}
