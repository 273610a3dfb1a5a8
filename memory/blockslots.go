package memory

// blockIndex is a stable reference to a slot in a blockSlots vector. It
// stays valid across insertions and removals of other blocks, so an
// outstanding Allocation can carry one safely.
type blockIndex int

const invalidBlockIndex blockIndex = -1

// blockSlots is a dense, slot-stable vector of *MemoryBlock: a present slot
// holds a block, an absent slot holds nil and is eligible for reuse. This
// gives every live MemoryBlock a stable integer handle even as unrelated
// blocks are created and destroyed around it, the same way a dense tracker
// index survives unrelated frees in the wider HAL's indexing scheme.
type blockSlots struct {
	slots []*MemoryBlock
	free  []blockIndex // indices of nil slots, LIFO reuse
}

// insert places b in a reused absent slot if one exists, otherwise appends
// a new slot, and returns the slot's index.
func (s *blockSlots) insert(b *MemoryBlock) blockIndex {
	if n := len(s.free); n > 0 {
		idx := s.free[n-1]
		s.free = s.free[:n-1]
		s.slots[idx] = b
		return idx
	}
	s.slots = append(s.slots, b)
	return blockIndex(len(s.slots) - 1)
}

// insertAt places b in the specific absent slot idx, removing idx from the
// free list so a later insert cannot also hand it out. idx must currently
// be absent (as found by a caller's own scan of the slots, e.g. to honor a
// lowest-index-wins reuse policy insert's LIFO order can't guarantee).
func (s *blockSlots) insertAt(idx blockIndex, b *MemoryBlock) {
	s.slots[idx] = b
	for i, f := range s.free {
		if f == idx {
			s.free = append(s.free[:i], s.free[i+1:]...)
			return
		}
	}
}

// remove clears the slot at idx and marks it free for reuse.
func (s *blockSlots) remove(idx blockIndex) {
	s.slots[idx] = nil
	s.free = append(s.free, idx)
}

// get returns the block at idx, or nil if the slot is currently absent.
func (s *blockSlots) get(idx blockIndex) *MemoryBlock {
	if int(idx) < 0 || int(idx) >= len(s.slots) {
		return nil
	}
	return s.slots[idx]
}

// len returns the slot count, including absent slots.
func (s *blockSlots) len() int { return len(s.slots) }

// newest iterates present slots from the highest index down to 0, calling
// fn for each. fn returns false to stop early. A newest-first order favors
// reusing the most recently grown block, so older, more likely oversize or
// stable blocks are disturbed last.
func (s *blockSlots) newest(fn func(idx blockIndex, b *MemoryBlock) bool) {
	for i := len(s.slots) - 1; i >= 0; i-- {
		if s.slots[i] == nil {
			continue
		}
		if !fn(blockIndex(i), s.slots[i]) {
			return
		}
	}
}

// count returns the number of present (non-nil) slots.
func (s *blockSlots) count() int {
	n := 0
	for _, b := range s.slots {
		if b != nil {
			n++
		}
	}
	return n
}
