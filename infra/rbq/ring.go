// Package rbq implements the bounded single-producer/single-consumer ring
// buffer that sits between order submission and a shard's matching loop.
//
// Exactly one goroutine may call the producer side (TryPush) and exactly one
// goroutine the consumer side (TryPop) of a given Ring. Fan-in from several
// producers has to be serialized upstream.
package rbq

import "sync/atomic"

const cacheLine = 64

// Ring is a lock-free SPSC queue. head is written only by the producer and
// tail only by the consumer; each side keeps a cached copy of the other
// cursor and reloads it only when the cached value says full/empty.
type Ring[T any] struct {
	head       atomic.Uint64 // next slot to write
	cachedTail uint64        // producer's view of tail
	_          [cacheLine - 16]byte

	tail       atomic.Uint64 // next slot to read
	cachedHead uint64        // consumer's view of head
	_          [cacheLine - 16]byte

	buf  []T
	mask uint64
}

// New allocates a ring holding at least capacity elements, rounded up to a
// power of two.
func New[T any](capacity int) *Ring[T] {
	size := roundPow2(uint64(max(capacity, 2)))
	return &Ring[T]{
		buf:  make([]T, size),
		mask: size - 1,
	}
}

// TryPush appends v. It returns false when the ring is full; the caller
// still owns v and decides whether to retry, buffer or reject.
func (r *Ring[T]) TryPush(v T) bool {
	h := r.head.Load()
	if h-r.cachedTail == uint64(len(r.buf)) {
		r.cachedTail = r.tail.Load()
		if h-r.cachedTail == uint64(len(r.buf)) {
			return false
		}
	}
	r.buf[h&r.mask] = v
	r.head.Store(h + 1) // publishes the slot write
	return true
}

// TryPop removes the oldest element. ok is false when the ring is empty.
func (r *Ring[T]) TryPop() (v T, ok bool) {
	t := r.tail.Load()
	if t == r.cachedHead {
		r.cachedHead = r.head.Load()
		if t == r.cachedHead {
			return v, false
		}
	}
	var zero T
	v = r.buf[t&r.mask]
	r.buf[t&r.mask] = zero
	r.tail.Store(t + 1) // hands the slot back to the producer
	return v, true
}

// PopBatch moves up to len(dst) elements into dst and returns how many.
func (r *Ring[T]) PopBatch(dst []T) int {
	n := 0
	for n < len(dst) {
		v, ok := r.TryPop()
		if !ok {
			break
		}
		dst[n] = v
		n++
	}
	return n
}

// Len is a racy estimate of the number of queued elements.
func (r *Ring[T]) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Free reports how many pushes are guaranteed to succeed. Only meaningful
// on the producer side, where it can only be an underestimate.
func (r *Ring[T]) Free() int {
	return len(r.buf) - r.Len()
}

func (r *Ring[T]) IsEmpty() bool {
	return r.head.Load() == r.tail.Load()
}

func roundPow2(v uint64) uint64 {
	n := uint64(1)
	for n < v {
		n <<= 1
	}
	return n
}
