package chat

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/omochice/linechat/internal/metrics"
	"github.com/omochice/linechat/pkg/protocol"
)

// ErrDeliveryFailed is returned by Route when at least one named recipient
// could not be reached. Recipients reached before the failure keep the
// message.
var ErrDeliveryFailed = errors.New("delivery failed")

// Router delivers SEND messages to other connections.
type Router struct {
	dir     *Directory
	reg     *Registry
	metrics *metrics.Metrics
}

// NewRouter creates a Router over the shared directory and registry. m may
// be nil.
func NewRouter(dir *Directory, reg *Registry, m *metrics.Metrics) *Router {
	return &Router{dir: dir, reg: reg, metrics: m}
}

// Route pushes msg to its recipients. A broadcast reaches every live
// connection except sender and always succeeds. A directed send succeeds
// only if every named user was reached; the sender is not excluded there.
func (r *Router) Route(sender ConnID, msg protocol.Message) error {
	broadcast, usernames, err := msg.Recipients()
	if err != nil {
		return err
	}

	frame := protocol.EncodePush(msg.Raw)
	if broadcast {
		r.broadcast(sender, frame)
		return nil
	}
	return r.direct(usernames, frame)
}

func (r *Router) broadcast(sender ConnID, frame []byte) {
	delivered := 0
	r.reg.ForEach(func(client *Client) {
		if client.ID == sender {
			return
		}
		if err := client.Send(frame); err != nil {
			log.Printf("Broadcast to %s failed: %v", client.ID, err)
			r.metrics.Delivery("broadcast", false)
			return
		}
		delivered++
		r.metrics.Delivery("broadcast", true)
	})
	r.metrics.BroadcastFanout(delivered)
	debugLog.Printf("Broadcast from %s delivered to %d connections", sender, delivered)
}

func (r *Router) direct(usernames []string, frame []byte) error {
	var failed []string
	for _, name := range usernames {
		if err := r.deliverTo(name, frame); err != nil {
			log.Printf("Delivery to %q failed: %v", name, err)
			failed = append(failed, name)
			r.metrics.Delivery("direct", false)
			continue
		}
		r.metrics.Delivery("direct", true)
	}

	if len(failed) > 0 {
		return fmt.Errorf("%w: %s", ErrDeliveryFailed, strings.Join(failed, ", "))
	}
	return nil
}

func (r *Router) deliverTo(name string, frame []byte) error {
	id, ok := r.dir.FindConnection(name)
	if !ok {
		return ErrUnknownUser
	}
	client, ok := r.reg.Get(id)
	if !ok {
		return ErrClientClosed
	}
	return client.Send(frame)
}
