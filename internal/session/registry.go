package session

import (
	"sync"

	"livecollab/internal/metrics"
)

type binding struct {
	client *Client
	rooms  []string
	users  map[string]string // roomID -> userID
}

// Registry maps live connections to the rooms they joined. It is safe for
// concurrent use: the transport attaches connections, the coordinator binds
// and detaches them.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*binding
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*binding)}
}

func (r *Registry) Attach(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.ID]; ok {
		return
	}
	r.conns[c.ID] = &binding{client: c, users: make(map[string]string)}
	metrics.Connections.Inc()
}

func (r *Registry) Client(connID string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	return b.client, true
}

// Bind records that connID joined roomID as userID. Unknown connections
// are ignored.
func (r *Registry) Bind(connID, roomID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.conns[connID]
	if !ok {
		return
	}
	if _, seen := b.users[roomID]; !seen {
		b.rooms = append(b.rooms, roomID)
	}
	b.users[roomID] = userID
}

func (r *Registry) Rooms(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.conns[connID]
	if !ok {
		return nil
	}
	return append([]string(nil), b.rooms...)
}

// Detach forgets connID and returns the rooms it was bound to, in join
// order. Only the first call for a connection reports ok.
func (r *Registry) Detach(connID string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	delete(r.conns, connID)
	metrics.Connections.Dec()
	return b.rooms, true
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
