// Package queue implements the bounded lock-free ring that carries commands
// from API goroutines into the single simulation goroutine.
//
// Producers are many (HTTP handlers, the style watcher); the consumer is the
// tick loop, which drains the ring once at the start of every tick so that
// external input only ever enters the simulation at a tick boundary.
//
// Origin: Vyukov bounded MPMC queue, used here with a single consumer.
package queue

import (
	"runtime"
	"sync/atomic"
)

// CacheLineSize is the typical CPU cache line size (64 bytes on x86-64)
const CacheLineSize = 64

// Padding ensures variables don't share cache lines (prevents false sharing)
type Padding [CacheLineSize]byte

type slot[T any] struct {
	seq  atomic.Uint64
	item T
}

// MPSC is a bounded multi-producer single-consumer ring buffer.
//
// Each slot carries a sequence number so the consumer never observes a slot
// that a producer has claimed but not finished writing.
//
// Memory Layout (prevents false sharing):
// [Padding][head][Padding][tail][Padding][slots...]
type MPSC[T any] struct {
	_pad0 Padding
	head  atomic.Uint64 // next write position (producers)
	_pad1 Padding
	tail  atomic.Uint64 // next read position (consumer)
	_pad2 Padding
	mask  uint64
	slots []slot[T]
}

// New creates a queue; capacity is rounded up to a power of two.
func New[T any](capacity int) *MPSC[T] {
	size := 1
	for size < capacity {
		size <<= 1
	}
	q := &MPSC[T]{
		mask:  uint64(size - 1),
		slots: make([]slot[T], size),
	}
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
	return q
}

// TryPush adds item, returning false when the ring is full.
// Safe for concurrent producers.
func (q *MPSC[T]) TryPush(item T) bool {
	for {
		pos := q.head.Load()
		s := &q.slots[pos&q.mask]
		seq := s.seq.Load()
		switch {
		case seq == pos:
			if q.head.CompareAndSwap(pos, pos+1) {
				s.item = item
				s.seq.Store(pos + 1)
				return true
			}
		case seq < pos:
			return false // full
		}
		// Another producer won the slot, retry
		runtime.Gosched()
	}
}

// TryPop removes the oldest item. Consumer only.
func (q *MPSC[T]) TryPop() (T, bool) {
	var zero T
	pos := q.tail.Load()
	s := &q.slots[pos&q.mask]
	if s.seq.Load() != pos+1 {
		return zero, false
	}
	item := s.item
	s.item = zero
	s.seq.Store(pos + q.mask + 1)
	q.tail.Store(pos + 1)
	return item, true
}

// DrainTo appends every available item to buf and returns it.
// Consumer only; reuse buf across ticks for zero allocation.
func (q *MPSC[T]) DrainTo(buf []T) []T {
	for {
		item, ok := q.TryPop()
		if !ok {
			return buf
		}
		buf = append(buf, item)
	}
}

// Len returns the approximate number of queued items.
func (q *MPSC[T]) Len() int {
	head := q.head.Load()
	tail := q.tail.Load()
	if head < tail {
		return 0
	}
	return int(head - tail)
}

// Cap returns the queue capacity.
func (q *MPSC[T]) Cap() int {
	return int(q.mask + 1)
}
