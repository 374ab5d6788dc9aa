// Package chat provides the core chat domain logic shared by all transports:
// the user directory, the connection registry, the command dispatcher and
// the message router.
package chat

import "context"

// Conn abstracts a bidirectional connection for both TCP and WebSocket.
// This interface isolates transport details from chat logic.
type Conn interface {
	// Read returns the next chunk of bytes received from the peer. A chunk
	// may hold a partial frame or several frames.
	// Returns io.EOF when the peer has closed the connection.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one or more complete frames.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
