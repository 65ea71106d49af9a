// Package ring provides a fixed-capacity circular buffer for a single
// producer and a polling consumer.
//
// The producer never blocks: once the buffer is full each Push overwrites the
// oldest entry. Consumers keep the last cursor they observed and use Since to
// pull whatever arrived after it.
package ring

// Buffer is a fixed-capacity circular buffer. It is not safe for concurrent
// use.
type Buffer[T any] struct {
	data   []T
	cursor uint64
}

// New allocates a buffer with room for capacity entries. It panics if
// capacity is less than one.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		panic("ring: capacity must be at least 1")
	}
	return &Buffer[T]{data: make([]T, capacity)}
}

// Push stores v in slot cursor % capacity and advances the cursor.
func (b *Buffer[T]) Push(v T) {
	b.data[b.cursor%uint64(len(b.data))] = v
	b.cursor++
}

// Data returns the backing storage in slot order. Callers must not modify it.
func (b *Buffer[T]) Data() []T { return b.data }

// Cursor returns the number of entries pushed so far.
func (b *Buffer[T]) Cursor() uint64 { return b.cursor }

// Capacity returns the number of slots.
func (b *Buffer[T]) Capacity() int { return len(b.data) }

// Since returns, oldest first, the entries written between the cursor values
// prev and cursor, reading them out of data (a buffer's backing storage).
// Entries already overwritten are counted in lost instead. A cursor that
// went backwards yields nothing.
func Since[T any](data []T, prev, cursor uint64) (entries []T, lost uint64) {
	if cursor <= prev || len(data) == 0 {
		return nil, 0
	}
	capacity := uint64(len(data))
	start := prev
	if cursor-prev > capacity {
		start = cursor - capacity
		lost = start - prev
	}
	entries = make([]T, 0, cursor-start)
	for c := start; c < cursor; c++ {
		entries = append(entries, data[c%capacity])
	}
	return entries, lost
}
