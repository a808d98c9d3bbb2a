package events

import "sync"

// Ring keeps the last cap values pushed and counts every push.
type Ring[T any] struct {
	mu    sync.RWMutex
	items []T
	next  int
	count int
	total uint64
}

// NewRing creates a ring holding at most capacity values.
func NewRing[T any](capacity int) *Ring[T] {
	return &Ring[T]{items: make([]T, capacity)}
}

// Push stores v, overwriting the oldest value when full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[r.next] = v
	r.next = (r.next + 1) % len(r.items)
	if r.count < len(r.items) {
		r.count++
	}
	r.total++
}

// Last returns up to n values, oldest first. n <= 0 means all.
func (r *Ring[T]) Last(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]T, n)
	start := (r.next - n + len(r.items)) % len(r.items)
	for i := range out {
		out[i] = r.items[(start+i)%len(r.items)]
	}
	return out
}

// Len returns the number of values held.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Total returns the number of pushes since creation or the last Reset.
func (r *Ring[T]) Total() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Reset drops all values and the push count.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.next, r.count, r.total = 0, 0, 0
}
