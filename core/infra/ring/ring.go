// Package ring provides a fixed-capacity buffer that keeps the newest entries.
package ring

import "sync"

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 1000

// Buffer is a goroutine-safe ring of the most recent Capacity items.
type Buffer[T any] struct {
	mu      sync.RWMutex
	items   []T
	next    int
	full    bool
	dropped uint64
}

// New returns a buffer holding at most capacity items.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Add appends v, evicting the oldest item when full.
func (b *Buffer[T]) Add(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		b.dropped++
	}
	b.items[b.next] = v
	b.next = (b.next + 1) % len(b.items)
	if b.next == 0 {
		b.full = true
	}
}

// Snapshot returns the retained items, oldest first.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.full {
		out := make([]T, b.next)
		copy(out, b.items[:b.next])
		return out
	}
	out := make([]T, 0, len(b.items))
	out = append(out, b.items[b.next:]...)
	out = append(out, b.items[:b.next]...)
	return out
}

// Len returns the number of retained items.
func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.full {
		return len(b.items)
	}
	return b.next
}

// Cap returns the capacity.
func (b *Buffer[T]) Cap() int {
	return len(b.items)
}

// Dropped returns how many items have been evicted.
func (b *Buffer[T]) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
