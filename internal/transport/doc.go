// Package transport implements the connection manager for the event stream.
//
// The transport owns exactly one socket at a time and drives the
// reconnect-with-backoff and heartbeat state machine:
//   - Connect either reaches the connected state or fails with a
//     ConnectionError (first attempt only).
//   - Unexpected closes re-enter the dial loop with exponential backoff,
//     capped at 30s, until the attempt ceiling turns the state terminal.
//   - Liveness uses JSON ping/pong frames; a missing pong for two heartbeat
//     intervals force-closes the socket, which re-enters reconnection.
//   - Every successful connect replays a subscribe frame for each channel
//     in the subscription registry, in registration order.
//
// The underlying socket is abstracted behind the Dialer/Socket interfaces;
// the production implementation uses gorilla/websocket, and tests
// substitute an in-memory fake.
package transport
