package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrQueueFull is returned when a client's outbound queue has no room.
	ErrQueueFull = errors.New("outbound queue full")
	// ErrClientClosed is returned when sending to a closed client.
	ErrClientClosed = errors.New("client closed")
)

// ConnID identifies one accepted connection for its whole lifetime.
type ConnID string

// NewConnID returns a fresh random connection identity.
func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}

// Client is the writable handle of a connection. Frames are queued and
// written by a dedicated goroutine, so a slow peer never blocks the
// goroutine that routes to it.
type Client struct {
	ID   ConnID
	Conn Conn

	outgoing     chan []byte
	writeTimeout time.Duration
	done         chan struct{}

	mu     sync.RWMutex // guards closed and sends on outgoing
	closed bool
}

// NewClient creates a handle for conn and starts its writer. queueSize is
// the number of frames that may wait for the socket; writeTimeout bounds
// each socket write when positive.
func NewClient(id ConnID, conn Conn, queueSize int, writeTimeout time.Duration) *Client {
	if queueSize <= 0 {
		queueSize = 1
	}
	c := &Client{
		ID:           id,
		Conn:         conn,
		outgoing:     make(chan []byte, queueSize),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Send queues a frame without blocking.
func (c *Client) Send(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.outgoing <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// SendContext queues a frame, waiting for room until ctx is done. It is
// used for a connection's own responses, where backpressure only affects
// the requester.
func (c *Client) SendContext(ctx context.Context, frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.outgoing <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting frames and waits until the queued ones have been
// written. If ctx ends first the connection is closed to unblock the
// writer.
func (c *Client) Close(ctx context.Context) {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.outgoing)
	}
	c.mu.Unlock()

	select {
	case <-c.done:
	case <-ctx.Done():
		c.Conn.Close()
		<-c.done
	}
}

func (c *Client) writeLoop() {
	defer close(c.done)

	failed := false
	for data := range c.outgoing {
		if failed {
			continue
		}
		if err := c.write(data); err != nil {
			debugLog.Printf("Client %s: write failed: %v", c.ID, err)
			// Closing the connection makes the reader fail, which runs the
			// regular cleanup.
			failed = true
			c.Conn.Close()
		}
	}
}

func (c *Client) write(data []byte) error {
	ctx := context.Background()
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return c.Conn.Write(ctx, data)
}
