package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/omochice/linechat/internal/metrics"
	"github.com/omochice/linechat/pkg/protocol"
)

const defaultFlushTimeout = 5 * time.Second

// Options configure a Hub. Zero values select the defaults.
type Options struct {
	MaxFrameBytes   int
	MaxMessageChars int
	OutboundQueue   int
	// ReadTimeout closes a connection that sends nothing for this long.
	ReadTimeout time.Duration
	// WriteTimeout bounds each socket write and the final flush on close.
	WriteTimeout time.Duration
}

// State is the lifecycle stage of one connection.
type State int

const (
	StateConnected State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateJoined:
		return "JOINED"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Hub owns the state shared by all connections and runs each connection's
// handler. Both TCP and WebSocket servers share a single Hub instance.
type Hub struct {
	dir        *Directory
	reg        *Registry
	dispatcher *Dispatcher
	opts       Options
}

// NewHub creates a Hub. m may be nil.
func NewHub(opts Options, m *metrics.Metrics) *Hub {
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = protocol.DefaultMaxFrameBytes
	}
	if opts.OutboundQueue <= 0 {
		opts.OutboundQueue = 64
	}

	dir := NewDirectory()
	reg := NewRegistry()
	return &Hub{
		dir: dir,
		reg: reg,
		dispatcher: NewDispatcher(dir, reg, m, DispatcherOptions{
			MaxMessageChars: opts.MaxMessageChars,
		}),
		opts: opts,
	}
}

// Directory returns the shared user directory.
func (h *Hub) Directory() *Directory {
	return h.dir
}

// ClientCount returns the number of registered connections. Connections
// that sent LEAVE are no longer counted.
func (h *Hub) ClientCount() int {
	return h.reg.Count()
}

// HandleClient serves conn until the peer disconnects, fails or ctx is
// cancelled. After LEAVE the connection is out of the directory and
// registry but its requests are still answered. The connection is always
// closed and removed when HandleClient returns. A nil error means an
// orderly end of the session.
func (h *Hub) HandleClient(ctx context.Context, conn Conn) error {
	s := h.newSession(conn)
	defer s.close()

	reader := protocol.NewReader(s, h.opts.MaxFrameBytes)
	for {
		frame, err := reader.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("conn %s: read: %w", s.id, err)
		}

		result := h.dispatcher.Dispatch(s.id, frame)
		switch {
		case result.Joined:
			s.setState(StateJoined)
		case result.Left:
			s.setState(StateClosed)
		}
		if err := s.client.SendContext(ctx, result.Response.Encode()); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("conn %s: respond: %w", s.id, err)
		}
	}
}

// session is the per-connection handler state. It is owned by the
// goroutine running HandleClient.
type session struct {
	hub    *Hub
	id     ConnID
	conn   Conn
	client *Client
	state  State
	once   sync.Once
}

func (h *Hub) newSession(conn Conn) *session {
	id := NewConnID()
	s := &session{
		hub:    h,
		id:     id,
		conn:   conn,
		client: NewClient(id, conn, h.opts.OutboundQueue, h.opts.WriteTimeout),
		state:  StateConnected,
	}
	h.reg.Insert(s.client)
	log.Printf("Connection %s from %s", id, conn.RemoteAddr())
	return s
}

// Read implements protocol.ChunkSource, applying the idle timeout.
func (s *session) Read(ctx context.Context) ([]byte, error) {
	if s.hub.opts.ReadTimeout <= 0 {
		return s.conn.Read(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, s.hub.opts.ReadTimeout)
	defer cancel()
	return s.conn.Read(ctx)
}

func (s *session) setState(next State) {
	if s.state == next {
		return
	}
	debugLog.Printf("Conn %s: %s -> %s", s.id, s.state, next)
	s.state = next
}

// close runs cleanup exactly once: the directory and registry entries go
// first, then queued frames are flushed and the socket is closed.
func (s *session) close() {
	s.once.Do(func() {
		prev := s.state
		s.setState(StateClosed)
		s.hub.dispatcher.Release(s.id)

		timeout := s.hub.opts.WriteTimeout
		if timeout <= 0 {
			timeout = defaultFlushTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		s.client.Close(ctx)

		if err := s.conn.Close(); err != nil {
			debugLog.Printf("Conn %s: close: %v", s.id, err)
		}
		log.Printf("Connection %s closed (%s)", s.id, prev)
	})
}
