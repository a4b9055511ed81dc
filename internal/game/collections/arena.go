// Package collections provides the deletion-tolerant dense storage used by
// every pool of live simulation entities.
//
// Elements live in contiguous slices indexed by int. Indices are only stable
// between compaction points; persistent identity is carried by a Handle, a
// generation-checked slot in a MarkerArena. Released slots are recycled
// through a free list and their generation is bumped, so a stale handle can
// never resolve to a newer element.
package collections

// Handle is an opaque, generation-checked reference to one element.
// The zero Handle never resolves.
type Handle struct {
	slot uint32
	gen  uint32
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool { return h.gen == 0 }

// MarkerArena maps handles to dense indices.
type MarkerArena struct {
	gens  []uint32
	index []int32 // dense position; -1 when the slot is free
	free  []uint32
	live  int
}

// Alloc reserves a slot pointing at the given dense index.
func (a *MarkerArena) Alloc(index int) Handle {
	var slot uint32
	if n := len(a.free); n > 0 {
		slot = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		slot = uint32(len(a.gens))
		a.gens = append(a.gens, 1)
		a.index = append(a.index, -1)
	}
	a.index[slot] = int32(index)
	a.live++
	return Handle{slot: slot, gen: a.gens[slot]}
}

// Index resolves h to its current dense index.
func (a *MarkerArena) Index(h Handle) (int, bool) {
	if !a.Valid(h) {
		return -1, false
	}
	return int(a.index[h.slot]), true
}

// Valid reports whether h still refers to a live slot.
func (a *MarkerArena) Valid(h Handle) bool {
	return h.gen != 0 &&
		int(h.slot) < len(a.gens) &&
		a.gens[h.slot] == h.gen &&
		a.index[h.slot] >= 0
}

// Move records that the element behind h now lives at index.
// Stale handles are ignored.
func (a *MarkerArena) Move(h Handle, index int) {
	if a.Valid(h) {
		a.index[h.slot] = int32(index)
	}
}

// Release frees the slot behind h. Releasing a stale handle is a no-op.
func (a *MarkerArena) Release(h Handle) bool {
	if !a.Valid(h) {
		return false
	}
	a.retire(h.slot)
	return true
}

// Reset releases every live slot while keeping the backing storage.
func (a *MarkerArena) Reset() {
	for slot := range a.index {
		if a.index[slot] >= 0 {
			a.retire(uint32(slot))
		}
	}
}

// Live returns the number of allocated slots.
func (a *MarkerArena) Live() int { return a.live }

func (a *MarkerArena) retire(slot uint32) {
	a.gens[slot]++
	if a.gens[slot] == 0 {
		a.gens[slot] = 1
	}
	a.index[slot] = -1
	a.free = append(a.free, slot)
	a.live--
}
