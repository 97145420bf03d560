package hub

import "sync"

// Registry is the set of live chat connections.
type Registry struct {
	clients map[string]*Client
	mu      sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Register adds c. It returns false if c is already registered or closed.
func (r *Registry) Register(c *Client) bool {
	if c.State() == StateClosed {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c.ID]; ok {
		return false
	}
	r.clients[c.ID] = c
	return true
}

// Unregister removes c. Only the call that actually removed it returns true.
func (r *Registry) Unregister(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.clients[c.ID]; !ok || cur != c {
		return false
	}
	delete(r.clients, c.ID)
	return true
}

// Snapshot returns a copy of the live set.
func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
