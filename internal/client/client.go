// Package client implements the client side of the line protocol over any
// chat.Conn. Pushed messages and responses share one stream; the client
// separates them by the push envelope.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/omochice/linechat/internal/chat"
	"github.com/omochice/linechat/pkg/protocol"
)

// ErrClosed is returned for requests on a client whose connection ended.
var ErrClosed = errors.New("connection closed")

// ResponseError is returned by the typed helpers when the server replies
// with a non-2xx response.
type ResponseError struct {
	Response protocol.Response
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("server replied %q", string(e.Response))
}

// Message is the JSON object this client sends with SEND. The server
// relays it verbatim.
type Message struct {
	Sender    string `json:"sender,omitempty"`
	Header    string `json:"header"`
	Timestamp string `json:"timestamp,omitempty"`
	Message   string `json:"message"`
}

// Client is a connected protocol client. Requests are serialized: each Do
// waits for its response before the next request is written.
type Client struct {
	conn chat.Conn

	mu       sync.Mutex
	username string
	// stale counts responses still owed to requests whose Do gave up.
	// Guarded by mu.
	stale int

	responses chan protocol.Response
	messages  chan json.RawMessage

	reqMu sync.Mutex // one request in flight

	cancel context.CancelFunc
	done   chan struct{}
	err    error // set before done is closed
}

// New starts a client over conn. The client owns conn from now on.
func New(conn chat.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:      conn,
		responses: make(chan protocol.Response, 1),
		messages:  make(chan json.RawMessage, 64),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go c.receive(ctx)
	return c
}

// Messages returns pushed message objects. The channel is closed when the
// connection ends.
func (c *Client) Messages() <-chan json.RawMessage {
	return c.messages
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is open. A clean
// close by either side is reported as ErrClosed.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Do writes one request and waits for its response.
func (c *Client) Do(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	select {
	case <-c.done:
		return "", c.err
	default:
	}

	if err := c.conn.Write(ctx, req.Encode()); err != nil {
		return "", fmt.Errorf("failed to send %s: %w", req.Command, err)
	}

	select {
	case resp := <-c.responses:
		return resp, nil
	case <-c.done:
		return "", c.err
	case <-ctx.Done():
		c.abandon()
		return "", ctx.Err()
	}
}

// abandon discards the response of a request nobody waits for anymore,
// so it is not handed to the next request.
func (c *Client) abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.responses:
	default:
		c.stale++
	}
}

// Join registers username for this connection.
func (c *Client) Join(ctx context.Context, username string) error {
	if err := c.expectOK(ctx, protocol.Request{Command: protocol.CommandJoin, Args: username}); err != nil {
		return err
	}
	c.mu.Lock()
	c.username = username
	c.mu.Unlock()
	return nil
}

// Leave unregisters and then closes the connection.
func (c *Client) Leave(ctx context.Context) error {
	if err := c.expectOK(ctx, protocol.Request{Command: protocol.CommandLeave}); err != nil {
		return err
	}
	return c.Close()
}

// Send addresses body to header, which is "@all" or a list of @username
// tokens.
func (c *Client) Send(ctx context.Context, header, body string) error {
	c.mu.Lock()
	sender := c.username
	c.mu.Unlock()

	data, err := json.Marshal(Message{
		Sender:    sender,
		Header:    header,
		Timestamp: time.Now().Format("15:04"),
		Message:   body,
	})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return c.expectOK(ctx, protocol.Request{Command: protocol.CommandSend, Args: string(data)})
}

// UserBoard returns every joined user and their status.
func (c *Client) UserBoard(ctx context.Context) (map[string]string, error) {
	resp, err := c.Do(ctx, protocol.Request{Command: protocol.CommandUserBoard})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &ResponseError{Response: resp}
	}
	return protocol.ParseBoard(resp)
}

// SetStatus changes a user's status.
func (c *Client) SetStatus(ctx context.Context, username, status string) error {
	return c.expectOK(ctx, protocol.Request{Command: protocol.CommandUserStatus, Args: username + " " + status})
}

// Close closes the connection and waits for the receive loop to stop.
func (c *Client) Close() error {
	c.cancel()
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) expectOK(ctx context.Context, req protocol.Request) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &ResponseError{Response: resp}
	}
	return nil
}

func (c *Client) receive(ctx context.Context) {
	defer close(c.done)
	defer close(c.messages)

	reader := protocol.NewReader(c.conn, 0)
	for {
		frame, err := reader.Next(ctx)
		if err != nil {
			c.err = fmt.Errorf("%w: %v", ErrClosed, err)
			return
		}

		if raw, ok := protocol.ParsePush(frame); ok {
			select {
			case c.messages <- raw:
			case <-ctx.Done():
				c.err = ErrClosed
				return
			}
			continue
		}

		if !protocol.IsResponse(frame) {
			log.Printf("Ignoring unexpected frame: %q", frame)
			continue
		}
		c.deliver(protocol.Response(frame))
	}
}

func (c *Client) deliver(resp protocol.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stale > 0 {
		c.stale--
		return
	}
	select {
	case c.responses <- resp:
	default:
		log.Printf("Ignoring unsolicited response: %q", resp)
	}
}
