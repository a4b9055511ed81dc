package collections

import (
	"math"
	"sort"
)

// Compact runs the single left-to-right pass that removes soft-deleted
// elements while preserving the relative order of survivors.
//
// move(dst, src) is called for every survivor that changes position and
// drop(src) for every deleted element, both in ascending src order. The new
// length is returned. O(n), no allocation.
func Compact(n int, deleted func(i int) bool, move func(dst, src int), drop func(src int)) int {
	dst := 0
	for src := 0; src < n; src++ {
		if deleted(src) {
			if drop != nil {
				drop(src)
			}
			continue
		}
		if dst != src {
			move(dst, src)
		}
		dst++
	}
	return dst
}

type entry[T any] struct {
	value    T
	handle   Handle
	priority int32
	deleted  bool
}

// CompactingArray is an ordered collection with O(1) append, O(1) soft
// deletion and once-per-tick batched compaction.
//
// Iteration must check the deletion flag: a marked element stays physically
// present until Compact but is logically absent. Compact must not run while
// an iteration over the same array is still pending, since indices shift.
type CompactingArray[T any] struct {
	items   []entry[T]
	arena   MarkerArena
	live    int
	pending int
}

// NewCompactingArray creates an array with preallocated capacity.
func NewCompactingArray[T any](capacity int) *CompactingArray[T] {
	return &CompactingArray[T]{items: make([]entry[T], 0, capacity)}
}

// Add appends v and returns its handle. The element inherits the priority of
// the current tail so arrays mixing Add and AddWithPriority stay sorted.
func (c *CompactingArray[T]) Add(v T) Handle {
	var p int32
	if n := len(c.items); n > 0 {
		p = c.items[n-1].priority
	}
	h := c.arena.Alloc(len(c.items))
	c.items = append(c.items, entry[T]{value: v, handle: h, priority: p})
	c.live++
	return h
}

// AddWithPriority inserts v so the dense array stays sorted by ascending
// priority. Equal priorities keep insertion order. O(n) worst case.
func (c *CompactingArray[T]) AddWithPriority(v T, priority int32) Handle {
	at := sort.Search(len(c.items), func(i int) bool {
		return c.items[i].priority > priority
	})
	h := c.arena.Alloc(at)
	c.items = append(c.items, entry[T]{})
	copy(c.items[at+1:], c.items[at:])
	c.items[at] = entry[T]{value: v, handle: h, priority: priority}
	for i := at + 1; i < len(c.items); i++ {
		c.arena.Move(c.items[i].handle, i)
	}
	c.live++
	return h
}

// MarkForDeletion soft-deletes the element behind h. Deleting an element
// twice, or through a stale handle, is a no-op and returns false.
func (c *CompactingArray[T]) MarkForDeletion(h Handle) bool {
	i, ok := c.arena.Index(h)
	if !ok {
		return false
	}
	return c.MarkIndex(i)
}

// MarkIndex soft-deletes the element at index i. Panics if i is out of range.
func (c *CompactingArray[T]) MarkIndex(i int) bool {
	e := &c.items[i]
	if e.deleted {
		return false
	}
	e.deleted = true
	c.live--
	c.pending++
	return true
}

// Compact physically removes deleted elements, preserving survivor order.
// Handles of removed elements become stale.
func (c *CompactingArray[T]) Compact() {
	if c.pending == 0 {
		return
	}
	n := Compact(len(c.items),
		func(i int) bool { return c.items[i].deleted },
		func(dst, src int) {
			c.items[dst] = c.items[src]
			c.arena.Move(c.items[dst].handle, dst)
		},
		func(src int) { c.arena.Release(c.items[src].handle) },
	)
	clear(c.items[n:])
	c.items = c.items[:n]
	c.pending = 0
}

// Empty removes everything without shrinking the backing storage.
func (c *CompactingArray[T]) Empty() {
	c.arena.Reset()
	clear(c.items)
	c.items = c.items[:0]
	c.live = 0
	c.pending = 0
}

// Len is the physical length, including elements marked for deletion.
func (c *CompactingArray[T]) Len() int { return len(c.items) }

// Count is the number of live elements.
func (c *CompactingArray[T]) Count() int { return c.live }

// Pending is the number of elements waiting for Compact.
func (c *CompactingArray[T]) Pending() int { return c.pending }

// Deleted reports whether index i is marked. Panics if i is out of range.
func (c *CompactingArray[T]) Deleted(i int) bool { return c.items[i].deleted }

// At returns a pointer to the element at index i, valid until the next
// Add, AddWithPriority or Compact. Panics if i is out of range.
func (c *CompactingArray[T]) At(i int) *T { return &c.items[i].value }

// HandleAt returns the handle of the element at index i.
func (c *CompactingArray[T]) HandleAt(i int) Handle { return c.items[i].handle }

// Priority returns the priority of the element at index i.
func (c *CompactingArray[T]) Priority(i int) int32 { return c.items[i].priority }

// Get resolves h. Stale handles and deleted elements report false.
func (c *CompactingArray[T]) Get(h Handle) (T, bool) {
	p, ok := c.Ptr(h)
	if !ok {
		var zero T
		return zero, false
	}
	return *p, true
}

// Ptr resolves h to a pointer with the same lifetime rules as At.
func (c *CompactingArray[T]) Ptr(h Handle) (*T, bool) {
	i, ok := c.arena.Index(h)
	if !ok || c.items[i].deleted {
		return nil, false
	}
	return &c.items[i].value, true
}

// Each calls fn for every live element in order until fn returns false.
func (c *CompactingArray[T]) Each(fn func(i int, v *T) bool) {
	for i := range c.items {
		if c.items[i].deleted {
			continue
		}
		if !fn(i, &c.items[i].value) {
			return
		}
	}
}

// MaxPriority is the sentinel used for "run last" entries.
const MaxPriority = math.MaxInt32
