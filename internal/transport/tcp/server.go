package tcp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
)

// Handler serves one accepted connection. ctx is cancelled when the
// server stops; the handler owns conn and must close it.
type Handler func(ctx context.Context, conn net.Conn)

// Server accepts TCP connections and runs a Handler for each of them in
// its own goroutine.
type Server struct {
	address  string
	handler  Handler
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	quit   chan struct{}
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// New creates a TCP server that passes connections to handler.
func New(address string, handler Handler) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		address: address,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		quit:    make(chan struct{}),
	}
}

// Start binds the listening socket and starts accepting connections in the
// background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}
	s.listener = listener

	log.Printf("TCP server started on %s", listener.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop stops accepting, cancels every running handler and waits for them
// to return. Calling Stop more than once is safe.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		s.cancel()
		if s.listener != nil {
			s.listener.Close()
		}
	})
	s.wg.Wait()
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("Failed to accept TCP connection: %v", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handler(s.ctx, conn)
		}()
	}
}
