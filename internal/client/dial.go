package client

import (
	"context"
	"fmt"
	"net"

	"github.com/omochice/linechat/internal/transport/tcp"
	"github.com/omochice/linechat/internal/transport/ws"
)

// DialTCP connects to a server over raw TCP.
func DialTCP(ctx context.Context, address string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return New(tcp.NewConn(conn)), nil
}

// DialWebSocket connects to a server over WebSocket, e.g. ws://host:8000/.
func DialWebSocket(ctx context.Context, url string) (*Client, error) {
	conn, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return New(conn), nil
}
