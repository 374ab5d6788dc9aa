package chat

import (
	"errors"
	"log"

	"github.com/omochice/linechat/internal/metrics"
	"github.com/omochice/linechat/pkg/protocol"
)

// Result is the outcome of one request frame.
type Result struct {
	Response protocol.Response
	// Joined is set when the frame registered the connection's user.
	Joined bool
	// Left is set when the frame released the connection from the
	// directory and registry. The connection keeps being served until the
	// peer closes it, but it no longer receives pushes and cannot join
	// again.
	Left bool
}

// DispatcherOptions tune request validation.
type DispatcherOptions struct {
	// MaxMessageChars bounds a SEND body. Zero means
	// protocol.DefaultMaxMessageChars.
	MaxMessageChars int
}

// Dispatcher executes request frames against the shared directory and
// registry. It holds no per-connection state, so one Dispatcher serves
// every connection.
type Dispatcher struct {
	dir     *Directory
	reg     *Registry
	router  *Router
	metrics *metrics.Metrics

	maxMessageChars int
}

// NewDispatcher wires a Dispatcher. m may be nil.
func NewDispatcher(dir *Directory, reg *Registry, m *metrics.Metrics, opts DispatcherOptions) *Dispatcher {
	if opts.MaxMessageChars <= 0 {
		opts.MaxMessageChars = protocol.DefaultMaxMessageChars
	}
	return &Dispatcher{
		dir:             dir,
		reg:             reg,
		router:          NewRouter(dir, reg, m),
		metrics:         m,
		maxMessageChars: opts.MaxMessageChars,
	}
}

// Dispatch runs a single trimmed request frame received on connection id
// and returns exactly one response for it.
func (d *Dispatcher) Dispatch(id ConnID, frame string) Result {
	req := protocol.ParseRequest(frame)
	d.metrics.FrameReceived(req.Command.String())
	debugLog.Printf("Conn %s <- %s", id, req.Command)

	var result Result
	switch req.Command {
	case protocol.CommandJoin:
		result = d.join(id, req.Args)
	case protocol.CommandLeave:
		d.Release(id)
		result = Result{Response: protocol.ResponseBye, Left: true}
	case protocol.CommandSend:
		result = Result{Response: d.send(id, req.Args)}
	case protocol.CommandUserBoard:
		result = Result{Response: d.userBoard()}
	case protocol.CommandUserStatus:
		result = Result{Response: d.userStatus(req.Fields())}
	default:
		result = Result{Response: protocol.ResponseServerError}
	}

	d.metrics.ResponseSent(result.Response.Code())
	return result
}

// Release removes the connection from the directory and then from the
// registry. Releasing an unknown or already released connection is a
// no-op. Between the two steps a broadcast may still queue a frame on the
// handle, which is written like any other push.
func (d *Dispatcher) Release(id ConnID) {
	name, joined := d.dir.Unregister(id)
	d.reg.Remove(id)
	if joined {
		log.Printf("User %q left (conn %s)", name, id)
		d.metrics.UserLeft()
	}
}

func (d *Dispatcher) join(id ConnID, username string) Result {
	// Only the connection's own goroutine releases it, so the registry
	// entry cannot disappear between this check and Register.
	if _, live := d.reg.Get(id); !live {
		debugLog.Printf("Conn %s: join after leave", id)
		return Result{Response: protocol.ResponseInvalidUsername}
	}
	if err := d.dir.Register(id, username); err != nil {
		debugLog.Printf("Conn %s: join rejected: %v", id, err)
		return Result{Response: protocol.ResponseInvalidUsername}
	}
	log.Printf("User %q joined (conn %s)", username, id)
	d.metrics.UserJoined()
	return Result{Response: protocol.ResponseOK, Joined: true}
}

func (d *Dispatcher) send(id ConnID, payload string) protocol.Response {
	msg, err := protocol.ParseMessage(payload)
	if errors.Is(err, protocol.ErrInvalidFormat) {
		return protocol.ResponseInvalidFormat
	}
	if err != nil {
		debugLog.Printf("Conn %s: rejected message: %v", id, err)
		return protocol.ResponseMessageFailed
	}

	if _, ok := d.dir.Lookup(id); !ok {
		debugLog.Printf("Conn %s: send before join", id)
		return protocol.ResponseMessageFailed
	}

	if err := msg.CheckBody(d.maxMessageChars); err != nil {
		debugLog.Printf("Conn %s: rejected message: %v", id, err)
		return protocol.ResponseMessageFailed
	}

	if err := d.router.Route(id, msg); err != nil {
		debugLog.Printf("Conn %s: routing failed: %v", id, err)
		return protocol.ResponseMessageFailed
	}
	return protocol.ResponseSent
}

func (d *Dispatcher) userBoard() protocol.Response {
	resp, err := protocol.BoardResponse(d.dir.Snapshot())
	if err != nil {
		log.Printf("Failed to render user board: %v", err)
		return protocol.ResponseServerError
	}
	return resp
}

func (d *Dispatcher) userStatus(args []string) protocol.Response {
	if len(args) != 2 {
		return protocol.ResponseInvalidRequest
	}
	status, err := ParseStatus(args[1])
	if err != nil {
		return protocol.ResponseInvalidRequest
	}
	if err := d.dir.SetStatus(args[0], status); err != nil {
		return protocol.ResponseInvalidRequest
	}
	return protocol.ResponseStatusUpdated
}
