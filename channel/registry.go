package channel

import "sync"

// Registry maps a canonical channel id to its Channel, creating channels
// atomically so concurrent requesters for the same participant set or
// meeting always observe exactly one Channel (spec §4.4, invariant: at
// most one channel per participant-set|meeting; creation is atomic).
type Registry struct {
	mu       sync.Mutex
	channels map[string]*Channel
}

// NewRegistry creates an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*Channel)}
}

// GetOrCreate returns the Channel for id, creating it with New(id) if
// absent. Concurrent callers racing on the same id always receive the same
// *Channel instance (map-set-if-absent under a single lock).
func (r *Registry) GetOrCreate(id string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.channels[id]; ok {
		return c
	}
	c := New(id)
	r.channels[id] = c
	return c
}

// Get returns the Channel for id, if it already exists.
func (r *Registry) Get(id string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[id]
	return c, ok
}

// Delete removes a channel from the registry (e.g. on meeting end).
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, id)
}

// All returns a snapshot of every registered channel.
func (r *Registry) All() []*Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Channel, 0, len(r.channels))
	for _, c := range r.channels {
		out = append(out, c)
	}
	return out
}
