package server

import (
	"context"
	"errors"
	"log"
	"net"

	"github.com/omochice/linechat/internal/chat"
	"github.com/omochice/linechat/internal/transport/tcp"
	"github.com/omochice/linechat/internal/transport/ws"
	"github.com/omochice/linechat/pkg/protocol"
)

// handleConnection determines whether the connection is a WebSocket
// upgrade or a raw line client, then hands it to the hub.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	peekCtx := ctx
	if timeout := s.cfg.ReadTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		peekCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	proto, reader, err := detectProtocol(peekCtx, conn)
	if err != nil {
		debugLog.Printf("Failed to peek connection from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	var client chat.Conn
	switch proto {
	case protocolHTTP:
		wsConn, err := ws.Upgrade(conn, reader)
		if err != nil {
			log.Printf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			return
		}
		client = wsConn
	default:
		client = tcp.NewConnWithReader(conn, reader)
	}

	s.metrics.ConnectionOpened(proto.String())
	defer s.metrics.ConnectionClosed()

	if err := s.hub.HandleClient(ctx, client); err != nil {
		if errors.Is(err, protocol.ErrFrameTooLarge) {
			log.Printf("Dropping %s client %s: %v", proto, client.RemoteAddr(), err)
			return
		}
		debugLog.Printf("%s client %s: %v", proto, client.RemoteAddr(), err)
	}
}
