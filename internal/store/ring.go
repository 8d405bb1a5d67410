package store

// Ring is a fixed-capacity circular buffer. Pushing beyond capacity evicts
// the oldest element. Not safe for concurrent use; callers lock around it.
type Ring[T any] struct {
	buf  []T
	head int
	size int
}

// NewRing creates a ring holding at most capacity elements.
func NewRing[T any](capacity int) Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when the ring is full.
func (r *Ring[T]) Push(v T) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
}

// LastN copies out the most recent k elements in append order.
func (r *Ring[T]) LastN(k int) []T {
	if k > r.size {
		k = r.size
	}
	if k < 0 {
		k = 0
	}
	out := make([]T, k)
	start := r.size - k
	for i := 0; i < k; i++ {
		out[i] = r.buf[(r.head+start+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of elements currently held.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }
