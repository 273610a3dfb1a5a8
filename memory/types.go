// Package memory implements a GPU device-memory sub-allocation engine: a
// free-list chunk allocator for suballocating many small resources out of
// one device-memory block, a dedicated single-occupant allocator for
// oversize or caller-requested whole-block bindings, a per-memory-type
// block pool that grows and shrinks the backing set of blocks, and a
// top-level Allocator that selects a memory type and dispatches to it.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────┐
//	│                        Allocator                           │
//	│   (memory-type selection from location + type-bit mask)    │
//	├───────────────────────────────────────────────────────────┤
//	│                        MemoryType                           │
//	│   (block growth/shrink, dedicated-or-managed routing)       │
//	├───────────────────────────────────────────────────────────┤
//	│         SubAllocator: FreeListAllocator | Dedicated         │
//	│   (chunk placement, alignment, granularity, coalescing)     │
//	├───────────────────────────────────────────────────────────┤
//	│                     driver.Backend                          │
//	│   (vkAllocateMemory, vkFreeMemory, vkMapMemory, ...)         │
//	└───────────────────────────────────────────────────────────┘
//
// # Concurrency
//
// Like the wider HAL, an individual Allocator is single-owner: all public
// entry points assume the caller provides mutual exclusion. No operation
// blocks and every call is synchronous.
package memory

// AllocationKind distinguishes the two resource layouts the driver's
// buffer-image granularity rule cares about. Free is an internal
// bookkeeping state and is never passed into Allocate.
type AllocationKind int

const (
	// Free marks an unoccupied chunk. Never requested by a caller.
	Free AllocationKind = iota
	// Linear covers buffers and linear images.
	Linear
	// NonLinear covers tiled (optimal-layout) images.
	NonLinear
)

func (k AllocationKind) String() string {
	switch k {
	case Free:
		return "Free"
	case Linear:
		return "Linear"
	case NonLinear:
		return "NonLinear"
	default:
		return "Unknown"
	}
}

// conflicts reports whether two occupant kinds may not share a
// granularity-sized page: both must be non-Free and differ in tiling.
func conflicts(a, b AllocationKind) bool {
	return a != Free && b != Free && a != b
}

// ChunkID identifies one chunk within a FreeListAllocator. 0 is reserved
// and never issued; identifiers are never reused within one allocator's
// lifetime.
type ChunkID uint64

// AllocationReport describes one live occupant, for diagnostics.
type AllocationReport struct {
	Name   string
	Offset uint64
	Size   uint64
}

// alignUp rounds v up to the next multiple of alignment, which must be a
// power of two.
func alignUp(v, alignment uint64) uint64 {
	return (v + alignment - 1) &^ (alignment - 1)
}

func isPowerOfTwo(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}

// samePage reports whether lastByteOfPrev (the last byte of the lower
// range) and firstByteOfNext (the first byte of the upper range) fall
// within the same granularity-sized page. A granularity of 0 or 1 never
// reports a shared page.
func samePage(lastByteOfPrev, firstByteOfNext, granularity uint64) bool {
	if granularity <= 1 {
		return false
	}
	return lastByteOfPrev/granularity == firstByteOfNext/granularity
}
