// Package ws provides WebSocket transport implementation for the chat server.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/linechat/internal/transport"
)

const closeTimeout = time.Second

// Conn adapts a gobwas/ws connection to chat.Conn interface. Each text
// message read is one chunk of the line stream; each Write is sent as one
// text message.
type Conn struct {
	conn   net.Conn
	reader io.Reader
	state  ws.State

	wmu       sync.Mutex // serializes data frames and control replies
	closeOnce sync.Once
	closeErr  error
}

func newConn(conn net.Conn, r io.Reader, state ws.State) *Conn {
	return &Conn{conn: conn, reader: r, state: state}
}

// Upgrade performs the server side handshake on an accepted connection.
// r must yield the connection's bytes including any already consumed
// during protocol detection.
func Upgrade(conn net.Conn, r io.Reader) (*Conn, error) {
	if _, err := ws.Upgrade(readWriter{Reader: r, Writer: conn}); err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	return newConn(conn, r, ws.StateServerSide), nil
}

// Dial connects to a WebSocket endpoint such as ws://host:port/.
func Dial(ctx context.Context, url string) (*Conn, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	var r io.Reader = conn
	if br != nil {
		r = br
	}
	return newConn(conn, r, ws.StateClientSide), nil
}

// Read implements chat.Conn.
// Reads the next text or binary message. A message that does not end with
// a newline is terminated with one, so every message ends on a frame
// boundary.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	stop := transport.BindDeadline(ctx, c.conn.SetReadDeadline)
	defer stop()

	data, _, err := wsutil.ReadData(readWriter{Reader: c.reader, Writer: controlWriter{c}}, c.state)
	if err != nil {
		var closed wsutil.ClosedError
		if errors.As(err, &closed) {
			return nil, io.EOF
		}
		return nil, transport.ContextError(ctx, err)
	}
	if n := len(data); n > 0 && data[n-1] != '\n' {
		data = append(data, '\n')
	}
	return data, nil
}

// Write implements chat.Conn.
// Sends data as a single text message.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	stop := transport.BindDeadline(ctx, c.conn.SetWriteDeadline)
	defer stop()

	if err := wsutil.WriteMessage(c.conn, c.state, ws.OpText, data); err != nil {
		return transport.ContextError(ctx, err)
	}
	return nil
}

// Close implements chat.Conn.
// Sends a normal closure frame and closes the socket.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		// Bound a Write that may be holding the lock on a stalled peer.
		_ = c.conn.SetWriteDeadline(time.Now().Add(closeTimeout))
		c.wmu.Lock()
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		_ = wsutil.WriteMessage(c.conn, c.state, ws.OpClose, body)
		c.wmu.Unlock()

		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

type readWriter struct {
	io.Reader
	io.Writer
}

// controlWriter lets the reader answer pings and close frames without
// interleaving with a data frame being written. Replies are best effort:
// a failed reply must not hide the close frame that triggered it.
type controlWriter struct {
	c *Conn
}

func (w controlWriter) Write(p []byte) (int, error) {
	w.c.wmu.Lock()
	defer w.c.wmu.Unlock()
	_, _ = w.c.conn.Write(p)
	return len(p), nil
}
