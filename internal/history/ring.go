package history

// Ring is a fixed-capacity circular buffer. When full, adding evicts the
// oldest element and returns it so callers maintaining derived aggregates
// can stay consistent.
//
// Ring is not safe for concurrent use; EventLog provides the synchronized
// layer.
type Ring[T any] struct {
	buf      []T
	head     int // oldest element
	tail     int // next write position
	count    int
	capacity int
}

// NewRing creates a ring with the given capacity. Capacities below 1 are
// clamped to 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends an item, evicting the oldest when full. Returns the evicted
// element and true exactly when the ring was already at capacity.
func (r *Ring[T]) Add(item T) (evicted T, ok bool) {
	if r.count == r.capacity {
		evicted = r.buf[r.head]
		r.head = (r.head + 1) % r.capacity
		ok = true
	} else {
		r.count++
	}
	r.buf[r.tail] = item
	r.tail = (r.tail + 1) % r.capacity
	return evicted, ok
}

// AddBatch appends items in order and returns every evicted element, oldest
// first. The result is empty (nil) when nothing was evicted.
func (r *Ring[T]) AddBatch(items []T) []T {
	var evicted []T
	for _, item := range items {
		if ev, ok := r.Add(item); ok {
			evicted = append(evicted, ev)
		}
	}
	return evicted
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int { return r.count }

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return r.capacity }

// Clear removes all elements. Capacity is unchanged.
func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = 0
	r.tail = 0
	r.count = 0
}

// at returns the i-th element in chronological order (0 = oldest).
func (r *Ring[T]) at(i int) T {
	return r.buf[(r.head+i)%r.capacity]
}

// All returns the contents oldest to newest.
func (r *Ring[T]) All() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.at(i)
	}
	return out
}

// Recent returns up to k elements newest to oldest. Recent(0) returns an
// empty slice.
func (r *Ring[T]) Recent(k int) []T {
	if k > r.count {
		k = r.count
	}
	if k <= 0 {
		return []T{}
	}
	out := make([]T, k)
	for i := 0; i < k; i++ {
		out[i] = r.at(r.count - 1 - i)
	}
	return out
}

// Oldest returns up to k elements oldest to newest.
func (r *Ring[T]) Oldest(k int) []T {
	if k > r.count {
		k = r.count
	}
	if k <= 0 {
		return []T{}
	}
	out := make([]T, k)
	for i := 0; i < k; i++ {
		out[i] = r.at(i)
	}
	return out
}

// PeekNewest returns the most recent element without removing it.
func (r *Ring[T]) PeekNewest() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.at(r.count - 1), true
}

// PeekOldest returns the oldest element without removing it.
func (r *Ring[T]) PeekOldest() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.at(0), true
}

// Filter returns all elements matching pred, oldest to newest.
func (r *Ring[T]) Filter(pred func(T) bool) []T {
	out := []T{}
	for i := 0; i < r.count; i++ {
		if item := r.at(i); pred(item) {
			out = append(out, item)
		}
	}
	return out
}

// First returns the oldest element matching pred.
func (r *Ring[T]) First(pred func(T) bool) (T, bool) {
	for i := 0; i < r.count; i++ {
		if item := r.at(i); pred(item) {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Last returns the newest element matching pred.
func (r *Ring[T]) Last(pred func(T) bool) (T, bool) {
	for i := r.count - 1; i >= 0; i-- {
		if item := r.at(i); pred(item) {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Each calls fn for every element in chronological order with its index.
func (r *Ring[T]) Each(fn func(i int, item T)) {
	for i := 0; i < r.count; i++ {
		fn(i, r.at(i))
	}
}
