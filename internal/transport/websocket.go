package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketDialer is the production Dialer backed by gorilla/websocket.
type WebsocketDialer struct {
	// HandshakeTimeout bounds the opening handshake. Zero means 10s.
	HandshakeTimeout time.Duration

	// WriteTimeout is the per-frame write deadline. Zero means 5s.
	WriteTimeout time.Duration
}

// NewWebsocketDialer returns a dialer with default timeouts.
func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// Dial opens a WebSocket connection and starts its read loop.
func (d *WebsocketDialer) Dial(ctx context.Context, url string, protocols []string, cb Callbacks) (Socket, error) {
	handshake := d.HandshakeTimeout
	if handshake == 0 {
		handshake = 10 * time.Second
	}
	writeTimeout := d.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 5 * time.Second
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: handshake,
		Subprotocols:     protocols,
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	s := &websocketSocket{
		conn:         conn,
		cb:           cb,
		writeTimeout: writeTimeout,
	}
	go s.readLoop()
	return s, nil
}

type websocketSocket struct {
	conn         *websocket.Conn
	cb           Callbacks
	writeTimeout time.Duration

	writeMu sync.Mutex

	mu        sync.Mutex
	closed    bool
	closeCode int
}

func (s *websocketSocket) SendText(text string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (s *websocketSocket) Close(code int, reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.closeCode = code
	s.mu.Unlock()

	s.writeMu.Lock()
	s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	s.writeMu.Unlock()

	return s.conn.Close()
}

// readLoop pumps frames to the callbacks until the connection dies, then
// reports the close code: a locally recorded one, the peer's, or abnormal.
func (s *websocketSocket) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			localClose := s.closed
			code := s.closeCode
			s.closed = true
			s.mu.Unlock()

			if !localClose {
				if ce, ok := err.(*websocket.CloseError); ok {
					code = ce.Code
				} else {
					code = CloseAbnormal
					if s.cb.OnError != nil {
						s.cb.OnError(err)
					}
				}
				s.conn.Close()
			}

			if s.cb.OnClose != nil {
				s.cb.OnClose(code)
			}
			return
		}

		if s.cb.OnMessage != nil {
			s.cb.OnMessage(string(data))
		}
	}
}
