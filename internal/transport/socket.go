package transport

import "context"

// Callbacks receive socket lifecycle notifications. They are invoked from
// the socket's read goroutine, one at a time, never concurrently.
type Callbacks struct {
	// OnMessage delivers one received text frame.
	OnMessage func(text string)

	// OnClose fires once when the socket is closed, with the close code.
	// A locally initiated Close reports the code it was given.
	OnClose func(code int)

	// OnError reports a read fault that was not a clean close. OnClose
	// still follows with CloseAbnormal.
	OnError func(err error)
}

// Socket is one established bidirectional text-frame connection.
type Socket interface {
	// SendText writes one text frame.
	SendText(text string) error

	// Close closes the connection with the given close code. Idempotent.
	Close(code int, reason string) error
}

// Dialer opens sockets. Any transport satisfying this contract is
// substitutable; tests use an in-memory fake.
type Dialer interface {
	// Dial attempts one connection. On success the returned socket is
	// live and callbacks may begin firing immediately.
	Dial(ctx context.Context, url string, protocols []string, cb Callbacks) (Socket, error)
}
