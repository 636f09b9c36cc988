// Package bounded provides a capped, insertion ordered buffer that evicts its
// oldest entries first.
package bounded

import "sync"

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 10

// Buffer is a FIFO with a fixed capacity. It is safe for concurrent use.
type Buffer[T any] struct {
	mu    sync.Mutex
	items []T
	cap   int
}

// New returns an empty buffer holding at most capacity items.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer[T]{cap: capacity}
}

// Push appends v, dropping the oldest items once the buffer is over capacity.
// It returns the number of items dropped.
func (b *Buffer[T]) Push(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, v)
	over := len(b.items) - b.cap
	if over <= 0 {
		return 0
	}
	b.items = append(b.items[:0:0], b.items[over:]...)
	return over
}

// Pop removes and returns the newest item.
func (b *Buffer[T]) Pop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var zero T
	if len(b.items) == 0 {
		return zero, false
	}
	last := b.items[len(b.items)-1]
	b.items[len(b.items)-1] = zero
	b.items = b.items[:len(b.items)-1]
	return last, true
}

// Last returns the newest item without removing it.
func (b *Buffer[T]) Last() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		var zero T
		return zero, false
	}
	return b.items[len(b.items)-1], true
}

// Drain removes and returns every item, oldest first.
func (b *Buffer[T]) Drain() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	return out
}

// Items returns a copy of the items, oldest first.
func (b *Buffer[T]) Items() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]T, len(b.items))
	copy(out, b.items)
	return out
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Cap returns the capacity.
func (b *Buffer[T]) Cap() int {
	return b.cap
}

// Clear drops every item.
func (b *Buffer[T]) Clear() {
	b.mu.Lock()
	b.items = nil
	b.mu.Unlock()
}
