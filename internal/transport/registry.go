package transport

import "sync"

// Registry is the set of subscribed channel names. Its membership is the
// sole source of truth for what gets resubscribed after a reconnect, and it
// persists across reconnects until explicit unsubscribe or teardown.
//
// Channels keep registration order; resubscription replays in that order.
type Registry struct {
	mu    sync.Mutex
	order []string
	index map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]struct{})}
}

// Add inserts a channel, returning false if it was already present.
func (r *Registry) Add(channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[channel]; ok {
		return false
	}
	r.index[channel] = struct{}{}
	r.order = append(r.order, channel)
	return true
}

// Remove deletes a channel, returning false if it was not present.
func (r *Registry) Remove(channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[channel]; !ok {
		return false
	}
	delete(r.index, channel)
	for i, ch := range r.order {
		if ch == channel {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Has reports membership.
func (r *Registry) Has(channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.index[channel]
	return ok
}

// Channels returns the subscribed channels in registration order.
func (r *Registry) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of subscribed channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Clear removes every channel.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
	r.index = make(map[string]struct{})
}
