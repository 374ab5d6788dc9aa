package chat

import "sync"

// Registry maps live connections to their writable handles. The lock only
// covers structural changes; frames are written outside of it.
type Registry struct {
	clients map[ConnID]*Client
	mu      sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[ConnID]*Client),
	}
}

// Insert adds a client to the registry.
func (r *Registry) Insert(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.ID] = client
}

// Remove removes a client from the registry. Removing an unknown id is a
// no-op.
func (r *Registry) Remove(id ConnID) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
	}
	return client, ok
}

// Get returns the handle of a live connection.
func (r *Registry) Get(id ConnID) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[id]
	return client, ok
}

// ForEach calls f for every client live at the time of the call. f runs
// without the registry lock held.
func (r *Registry) ForEach(f func(*Client)) {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	r.mu.RUnlock()

	for _, client := range clients {
		f(client)
	}
}

// Count returns number of registered clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
