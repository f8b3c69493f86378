package router

import (
	"log/slog"
	"sync"

	"github.com/swarmdash/eventstream/internal/model"
)

// Wildcard is the handler key matching every frame.
const Wildcard = "*"

const channelPrefix = "channel:"

// Handler receives a dispatched frame.
type Handler func(model.Frame)

type entry struct {
	id int
	fn Handler
}

// Router dispatches parsed frames to per-type, per-channel, and wildcard
// handlers with failure isolation. Safe for concurrent use.
type Router struct {
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[string][]entry
	nextID   int
}

// New creates an empty router.
func New(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:   logger,
		handlers: make(map[string][]entry),
	}
}

// On registers a handler for an exact frame type and returns a closure that
// removes exactly that registration.
func (r *Router) On(frameType string, h Handler) func() {
	return r.add(frameType, h)
}

// OnChannel registers a handler for every frame on the given channel.
func (r *Router) OnChannel(channel string, h Handler) func() {
	return r.add(channelPrefix+channel, h)
}

// OnAny registers a wildcard handler invoked for every frame.
func (r *Router) OnAny(h Handler) func() {
	return r.add(Wildcard, h)
}

func (r *Router) add(key string, h Handler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.handlers[key] = append(r.handlers[key], entry{id: id, fn: h})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		entries := r.handlers[key]
		for i, e := range entries {
			if e.id == id {
				r.handlers[key] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
		if len(r.handlers[key]) == 0 {
			delete(r.handlers, key)
		}
	}
}

// DropChannel removes every handler scoped to the given channel. Called on
// unsubscribe so stale channel listeners do not outlive the subscription.
func (r *Router) DropChannel(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, channelPrefix+channel)
}

// Route dispatches a frame: type handlers first, then channel handlers if
// the frame names a channel, then wildcard handlers. A handler panic never
// prevents remaining handlers from running.
func (r *Router) Route(f model.Frame) {
	r.dispatch(f.Type, f)
	if f.Channel != "" {
		r.dispatch(channelPrefix+f.Channel, f)
	}
	r.dispatch(Wildcard, f)
}

func (r *Router) dispatch(key string, f model.Frame) {
	r.mu.Lock()
	entries := make([]entry, len(r.handlers[key]))
	copy(entries, r.handlers[key])
	r.mu.Unlock()

	for _, e := range entries {
		r.invoke(e.fn, f)
	}
}

func (r *Router) invoke(h Handler, f model.Frame) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("message handler panicked",
				"type", f.Type,
				"channel", f.Channel,
				"panic", rec,
			)
		}
	}()
	h(f)
}

// handlerCount reports registered handlers for a key. Test helper.
func (r *Router) handlerCount(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[key])
}

// keyCount reports how many keys currently hold handlers. Test helper.
func (r *Router) keyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}
