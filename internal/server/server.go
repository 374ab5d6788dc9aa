// Package server accepts raw TCP and WebSocket clients on one port and
// serves them through a shared chat hub.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"

	"github.com/omochice/linechat/internal/chat"
	"github.com/omochice/linechat/internal/config"
	"github.com/omochice/linechat/internal/metrics"
	"github.com/omochice/linechat/internal/transport/tcp"
)

var debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags|log.Lmicroseconds)

// SetDebug toggles connection level tracing here and in the chat core.
func SetDebug(enabled bool) {
	if enabled {
		debugLog.SetOutput(os.Stderr)
	} else {
		debugLog.SetOutput(io.Discard)
	}
	chat.SetDebug(enabled)
}

// Server represents a chat server handling both TCP and WebSocket clients
// on a single port.
type Server struct {
	cfg     config.Config
	hub     *chat.Hub
	metrics *metrics.Metrics

	listener       *tcp.Server
	metricsServer  *http.Server
	metricsAddress string
}

// New creates a new Server. m may be nil, which disables the metrics
// endpoint regardless of configuration.
func New(cfg config.Config, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		metrics: m,
		hub: chat.NewHub(chat.Options{
			MaxFrameBytes:   cfg.Limits.MaxFrameBytes,
			MaxMessageChars: cfg.Limits.MaxMessageChars,
			OutboundQueue:   cfg.Limits.OutboundQueue,
			ReadTimeout:     cfg.ReadTimeout(),
			WriteTimeout:    cfg.WriteTimeout(),
		}, m),
	}
	s.listener = tcp.New(cfg.Server.Address, s.handleConnection)
	return s
}

// Start binds the chat port and, when configured, the metrics endpoint.
// It returns once both are accepting.
func (s *Server) Start() error {
	if err := s.listener.Start(); err != nil {
		return err
	}
	log.Printf("Chat server listening on %s (TCP and WebSocket)", s.listener.Addr())

	if s.metrics == nil || s.cfg.Server.MetricsAddress == "" {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Server.MetricsAddress)
	if err != nil {
		s.listener.Stop()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	s.metricsAddress = ln.Addr().String()

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	s.metricsServer = &http.Server{Handler: mux}

	go func() {
		if err := s.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics server error: %v", err)
		}
	}()
	log.Printf("Metrics available at http://%s/metrics", s.metricsAddress)
	return nil
}

// Stop closes the listener and every client connection, then shuts the
// metrics endpoint down within ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.listener.Stop()

	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop metrics server: %w", err)
		}
	}
	log.Printf("Chat server stopped")
	return nil
}

// Addr returns the chat listening address.
func (s *Server) Addr() string {
	return s.listener.Addr()
}

// MetricsAddr returns the metrics listening address, or "" when disabled.
func (s *Server) MetricsAddr() string {
	return s.metricsAddress
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

// UserCount returns the number of joined users.
func (s *Server) UserCount() int {
	return s.hub.Directory().Count()
}
