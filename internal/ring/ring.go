// Package ring provides a fixed-capacity FIFO buffer used for every bounded history in ctxmon.
package ring

// Buffer keeps the most recent Cap() items. Pushing onto a full buffer evicts the oldest item in O(1).
type Buffer[T any] struct {
	items []T
	head  int // index of the oldest item
	size  int
}

// New creates a Buffer holding at most capacity items. A capacity below 1 is raised to 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends v. When the buffer was already full the evicted item is returned with ok=true.
func (b *Buffer[T]) Push(v T) (evicted T, ok bool) {
	n := len(b.items)
	if b.size < n {
		b.items[(b.head+b.size)%n] = v
		b.size++
		return evicted, false
	}
	evicted = b.items[b.head]
	b.items[b.head] = v
	b.head = (b.head + 1) % n
	return evicted, true
}

// Len returns the number of items held.
func (b *Buffer[T]) Len() int { return b.size }

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int { return len(b.items) }

// At returns the i-th item, oldest first. It panics when i is out of range.
func (b *Buffer[T]) At(i int) T {
	if i < 0 || i >= b.size {
		panic("ring.Buffer.At: index out of range")
	}
	return b.items[(b.head+i)%len(b.items)]
}

// Slice copies the items out, oldest first.
func (b *Buffer[T]) Slice() []T {
	out := make([]T, b.size)
	for i := range out {
		out[i] = b.At(i)
	}
	return out
}

// Last copies out the newest n items, oldest first.
func (b *Buffer[T]) Last(n int) []T {
	if n > b.size {
		n = b.size
	}
	if n <= 0 {
		return []T{}
	}
	out := make([]T, n)
	start := b.size - n
	for i := range out {
		out[i] = b.At(start + i)
	}
	return out
}

// Reset drops all items.
func (b *Buffer[T]) Reset() {
	clear(b.items)
	b.head = 0
	b.size = 0
}
