package server

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"time"

	"github.com/omochice/linechat/internal/transport"
)

type protocolType int

const (
	protocolTCP protocolType = iota
	protocolHTTP
)

func (p protocolType) String() string {
	if p == protocolHTTP {
		return "websocket"
	}
	return "tcp"
}

// httpMethods are the request line prefixes that mark a WebSocket upgrade
// attempt. No protocol command starts with any of them.
var httpMethods = [][]byte{
	[]byte("GET "),
	[]byte("POST"),
	[]byte("PUT "),
	[]byte("HEAD"),
	[]byte("OPTI"), // OPTIONS
	[]byte("PATC"), // PATCH
	[]byte("DELE"), // DELETE
	[]byte("CONN"), // CONNECT
}

// detectProtocol peeks at the first bytes to determine protocol type. The
// returned reader still holds the peeked bytes. Peeking stops at the first
// newline, since a shorter line cannot be an HTTP request line, and a peer
// that sends fewer than four bytes and then closes is treated as a line
// client.
func detectProtocol(ctx context.Context, conn net.Conn) (protocolType, *bufio.Reader, error) {
	reader := bufio.NewReader(conn)

	stop := transport.BindDeadline(ctx, conn.SetReadDeadline)
	peek, err := peekLine(reader, 4)
	stop()
	_ = conn.SetReadDeadline(time.Time{})

	if err != nil {
		if len(peek) == 0 {
			return protocolTCP, reader, transport.ContextError(ctx, err)
		}
		return protocolTCP, reader, nil
	}
	if len(peek) < 4 {
		return protocolTCP, reader, nil
	}

	for _, method := range httpMethods {
		if bytes.HasPrefix(peek, method) {
			return protocolHTTP, reader, nil
		}
	}
	return protocolTCP, reader, nil
}

// peekLine peeks up to n bytes, returning early once a newline is buffered.
func peekLine(reader *bufio.Reader, n int) ([]byte, error) {
	var peek []byte
	for i := 1; i <= n; i++ {
		var err error
		if peek, err = reader.Peek(i); err != nil {
			return peek, err
		}
		if bytes.IndexByte(peek, '\n') >= 0 {
			break
		}
	}
	return peek, nil
}
