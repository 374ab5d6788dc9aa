// Package tcp provides TCP transport implementation for the chat server.
package tcp

import (
	"context"
	"io"
	"net"

	"github.com/omochice/linechat/internal/transport"
)

const readChunkSize = 4096

// Conn adapts net.Conn to chat.Conn interface.
type Conn struct {
	conn   net.Conn
	reader io.Reader
}

// NewConn wraps a net.Conn.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn, reader: conn}
}

// NewConnWithReader wraps a net.Conn whose first bytes were already
// buffered by r during protocol detection.
func NewConnWithReader(conn net.Conn, r io.Reader) *Conn {
	return &Conn{conn: conn, reader: r}
}

// Read implements chat.Conn.
// Reads available bytes from the TCP connection. The chunk may end in the
// middle of a frame.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	stop := transport.BindDeadline(ctx, c.conn.SetReadDeadline)
	defer stop()

	buf := make([]byte, readChunkSize)
	n, err := c.reader.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return nil, transport.ContextError(ctx, err)
}

// Write implements chat.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	stop := transport.BindDeadline(ctx, c.conn.SetWriteDeadline)
	defer stop()

	if _, err := c.conn.Write(data); err != nil {
		return transport.ContextError(ctx, err)
	}
	return nil
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
