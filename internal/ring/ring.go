// Package ring implements a bounded, power-of-two-capacity,
// single-producer/single-consumer ring buffer with chunked read/write.
//
// Head and tail are plain uint64 counters (never wrapped into the
// buffer index until the final mask), advanced with atomic store/load.
// Go's sync/atomic provides sequentially-consistent operations, a
// strictly stronger guarantee than the acquire/release pairing the
// design calls for, so the producer-enqueues-happen-before-consumer-sees
// invariant holds.
//
// Grounded on the teacher's src/buffer.go (pool sizing discipline) and
// on original_source/dpdk-hello-world/src/workers/circular_buffer.rs's
// read/written position pair, translated from a mutex-guarded circular
// buffer into a lock-free SPSC ring: the spec requires lock-free SPSC
// rings and no Go repo in the pack vendors a direct rtrb port, so this
// keeps the teacher's buffer shape while dropping its lock.
package ring

import (
	"sync/atomic"
)

// Ring is a bounded SPSC queue of T. One goroutine may call the
// producer methods (WriteSlice/Commit/Abandon), one goroutine may call
// the consumer methods (ReadSlice/Advance/IsAbandoned).
type Ring[T any] struct {
	mask uint64
	buf  []T

	head atomic.Uint64 // next slot to write (producer-owned)
	tail atomic.Uint64 // next slot to read (consumer-owned)

	abandoned atomic.Bool
}

// New creates a Ring whose capacity is rounded up to the next power of
// two, per the data model's "bounded, power-of-two capacity" (§3).
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	cap := nextPow2(capacity)
	return &Ring[T]{
		mask: uint64(cap - 1),
		buf:  make([]T, cap),
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (r *Ring[T]) capacity() uint64 { return r.mask + 1 }

// Len returns the number of items currently queued.
func (r *Ring[T]) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Free returns the number of free slots available to a producer.
func (r *Ring[T]) Free() int {
	return int(r.capacity()) - r.Len()
}

// Abandon marks the ring as abandoned by its producer. The consumer
// observes abandonment once it has drained everything written before
// the call (spec's "producer dropped ⇒ consumer eventually sees empty
// + abandoned").
func (r *Ring[T]) Abandon() {
	r.abandoned.Store(true)
}

// IsAbandoned reports whether the producer side has abandoned the ring.
func (r *Ring[T]) IsAbandoned() bool {
	return r.abandoned.Load()
}

// Drained reports whether the ring is both empty and abandoned — the
// consumer's termination condition.
func (r *Ring[T]) Drained() bool {
	return r.IsAbandoned() && r.Len() == 0
}

// TryPush writes a single value if a slot is free. Returns false if the
// ring is full; the caller is expected to spin on this (bounded by its
// own cancellation check), per spec's "if out is full, spin until slots
// free" contract — this type never blocks internally.
func (r *Ring[T]) TryPush(v T) bool {
	head := r.head.Load()
	tail := r.tail.Load()
	if head-tail >= r.capacity() {
		return false
	}
	r.buf[head&r.mask] = v
	r.head.Store(head + 1)
	return true
}

// TryPop reads a single value if one is queued.
func (r *Ring[T]) TryPop() (T, bool) {
	var zero T
	tail := r.tail.Load()
	head := r.head.Load()
	if tail == head {
		return zero, false
	}
	v := r.buf[tail&r.mask]
	r.buf[tail&r.mask] = zero
	r.tail.Store(tail + 1)
	return v, true
}

// WriteSlice returns up to n free slots as (first, second) covering the
// ring's wraparound, per the data model's chunked write contract. The
// caller fills these slices directly, then calls Commit(written) with
// however many of the returned capacity it actually used.
func (r *Ring[T]) WriteSlice(n int) (first, second []T) {
	head := r.head.Load()
	tail := r.tail.Load()
	free := int(r.capacity() - (head - tail))
	if n > free {
		n = free
	}
	if n <= 0 {
		return nil, nil
	}
	start := head & r.mask
	end := start + uint64(n)
	if end <= r.capacity() {
		return r.buf[start:end], nil
	}
	firstLen := r.capacity() - start
	return r.buf[start:], r.buf[:uint64(n)-firstLen]
}

// Commit advances the producer's head by n, publishing the n items
// written into the slices returned by the most recent WriteSlice call.
func (r *Ring[T]) Commit(n int) {
	if n <= 0 {
		return
	}
	r.head.Store(r.head.Load() + uint64(n))
}

// ReadSlice returns up to n queued items as (first, second) covering
// the ring's wraparound. The caller must not retain these slices past
// the following Advance call, since the producer may overwrite them.
func (r *Ring[T]) ReadSlice(n int) (first, second []T) {
	tail := r.tail.Load()
	head := r.head.Load()
	avail := int(head - tail)
	if n > avail {
		n = avail
	}
	if n <= 0 {
		return nil, nil
	}
	start := tail & r.mask
	end := start + uint64(n)
	if end <= r.capacity() {
		return r.buf[start:end], nil
	}
	firstLen := r.capacity() - start
	return r.buf[start:], r.buf[:uint64(n)-firstLen]
}

// Advance consumes n items previously observed via ReadSlice.
func (r *Ring[T]) Advance(n int) {
	if n <= 0 {
		return
	}
	r.tail.Store(r.tail.Load() + uint64(n))
}
