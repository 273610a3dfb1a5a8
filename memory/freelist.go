package memory

import (
	"context"
	"log/slog"
)

// chunk is one contiguous interval of a block: either Free, or occupied by
// one resource. Chunks form a doubly linked list sorted by offset, indexed
// by id through FreeListAllocator.chunks so that coalescing is a pointer
// fix rather than a slice rewrite.
type chunk struct {
	id     ChunkID
	offset uint64
	size   uint64
	kind   AllocationKind
	name   string
	prev   ChunkID // 0 when absent
	next   ChunkID // 0 when absent
}

// FreeListAllocator manages many chunks inside one device-memory block: a
// best-fit search over the free set, splitting on claim, coalescing with
// both neighbors on free, and the buffer-image granularity rule between
// differently-tiled neighbors.
type FreeListAllocator struct {
	blockSize uint64

	chunks map[ChunkID]*chunk
	free   map[ChunkID]struct{}

	allocated uint64
	nextID    ChunkID
}

// NewFreeListAllocator creates an allocator managing one block of the
// given size as a single free chunk with id 1.
func NewFreeListAllocator(blockSize uint64) *FreeListAllocator {
	a := &FreeListAllocator{
		blockSize: blockSize,
		chunks:    make(map[ChunkID]*chunk),
		free:      make(map[ChunkID]struct{}),
		nextID:    2, // 0 reserved, 1 is the initial chunk
	}
	initial := &chunk{id: 1, offset: 0, size: blockSize, kind: Free}
	a.chunks[1] = initial
	a.free[1] = struct{}{}
	return a
}

func (a *FreeListAllocator) issueID() (ChunkID, error) {
	if a.nextID == 0 {
		return 0, newErr(OutOfMemory, "chunk identifier space exhausted")
	}
	id := a.nextID
	a.nextID++
	return id, nil
}

// Allocate implements SubAllocator.Allocate: a best-fit search over the
// free set, subject to the buffer-image granularity rule against whatever
// neighbors already occupy the adjacent chunks.
func (a *FreeListAllocator) Allocate(size, alignment uint64, kind AllocationKind, granularity uint64, name string) (uint64, ChunkID, error) {
	var (
		bestID        ChunkID
		bestOffset    uint64
		bestAligned   uint64
		bestChunkSize uint64
		found         bool
	)

	for id := range a.free {
		c := a.chunks[id]
		if c.size < size {
			continue
		}

		offset := alignUp(c.offset, alignment)

		if prev := a.chunks[c.prev]; prev != nil && prev.kind != Free {
			if samePage(prev.offset+prev.size-1, offset, granularity) && conflicts(prev.kind, kind) {
				offset = alignUp(offset, granularity)
			}
		}

		padding := offset - c.offset
		alignedSize := padding + size
		if alignedSize > c.size {
			continue
		}

		if next := a.chunks[c.next]; next != nil && next.kind != Free {
			if samePage(offset+size-1, next.offset, granularity) && conflicts(next.kind, kind) {
				continue // too tight to shift for this neighbor; reject
			}
		}

		// Best-fit compares candidates by the free chunk's own size, not by
		// how much of it this request would consume.
		if !found || c.size < bestChunkSize {
			bestID, bestOffset, bestAligned, bestChunkSize, found = id, offset, alignedSize, c.size, true
		}
	}

	if !found {
		return 0, 0, newErr(OutOfMemory, "no free chunk fits the request")
	}

	return a.claim(bestID, bestOffset, bestAligned, kind, name)
}

// claim carves alignedSize bytes (offset already computed) out of the free
// chunk c, splitting off a trailing free remainder when the chunk is
// larger than what was requested.
func (a *FreeListAllocator) claim(id ChunkID, offset, alignedSize uint64, kind AllocationKind, name string) (uint64, ChunkID, error) {
	c := a.chunks[id]

	if c.size == alignedSize {
		delete(a.free, id)
		c.kind = kind
		c.name = name
		a.allocated += alignedSize
		return offset, id, nil
	}

	newID, err := a.issueID()
	if err != nil {
		return 0, 0, err
	}

	newChunk := &chunk{
		id:     newID,
		offset: c.offset,
		size:   alignedSize,
		kind:   kind,
		name:   name,
		prev:   c.prev,
		next:   id,
	}
	if prev := a.chunks[c.prev]; prev != nil {
		prev.next = newID
	}
	a.chunks[newID] = newChunk

	c.offset += alignedSize
	c.size -= alignedSize
	c.prev = newID
	// c stays in a.free: it is the trailing remainder.

	a.allocated += alignedSize
	return offset, newID, nil
}

// Free implements SubAllocator.Free.
func (a *FreeListAllocator) Free(id ChunkID) error {
	c, ok := a.chunks[id]
	if !ok {
		return newErr(Internal, "free of unknown chunk id")
	}
	if c.kind == Free {
		return newErr(Internal, "double free of chunk")
	}

	a.allocated -= c.size
	c.kind = Free
	c.name = ""
	a.free[id] = struct{}{}

	if next := a.chunks[c.next]; next != nil {
		if _, isFree := a.free[next.id]; isFree {
			a.coalesce(id, next.id)
		}
	}
	if prev := a.chunks[c.prev]; prev != nil {
		if _, isFree := a.free[prev.id]; isFree {
			a.coalesce(prev.id, id)
		}
	}

	return nil
}

// coalesce merges the right chunk into the left, which must both be Free.
// The surviving chunk keeps the left identifier.
func (a *FreeListAllocator) coalesce(leftID, rightID ChunkID) {
	left := a.chunks[leftID]
	right := a.chunks[rightID]

	left.size += right.size
	left.next = right.next
	if succ := a.chunks[right.next]; succ != nil {
		succ.prev = leftID
	}

	delete(a.chunks, rightID)
	delete(a.free, rightID)
}

// Rename implements SubAllocator.Rename.
func (a *FreeListAllocator) Rename(id ChunkID, name string) error {
	c, ok := a.chunks[id]
	if !ok {
		return newErr(Internal, "rename of unknown chunk id")
	}
	if c.kind == Free {
		return newErr(Internal, "rename of freed chunk")
	}
	c.name = name
	return nil
}

// ReportAllocations implements SubAllocator.ReportAllocations.
func (a *FreeListAllocator) ReportAllocations() []AllocationReport {
	var reports []AllocationReport
	for _, c := range a.chunks {
		if c.kind == Free {
			continue
		}
		reports = append(reports, AllocationReport{Name: c.name, Offset: c.offset, Size: c.size})
	}
	return reports
}

// ReportLeaks implements SubAllocator.ReportLeaks.
func (a *FreeListAllocator) ReportLeaks(logger *slog.Logger, level slog.Level, memoryTypeIndex, blockIndex int) {
	for _, c := range a.chunks {
		if c.kind == Free {
			continue
		}
		logger.Log(context.Background(), level, "leaked allocation",
			"name", c.name,
			"offset", c.offset,
			"size", c.size,
			"memory_type", memoryTypeIndex,
			"block", blockIndex,
		)
	}
}

// SupportsGeneral implements SubAllocator.SupportsGeneral.
func (a *FreeListAllocator) SupportsGeneral() bool { return true }

// AllocatedBytes implements SubAllocator.AllocatedBytes.
func (a *FreeListAllocator) AllocatedBytes() uint64 { return a.allocated }

// IsEmpty implements SubAllocator.IsEmpty.
func (a *FreeListAllocator) IsEmpty() bool { return a.allocated == 0 }

// Validate checks the partition and coalescing invariants from the
// allocator's testable-properties list: the sorted chunk chain must
// exactly partition [0, blockSize) with no gaps or overlaps, and no two
// adjacent chunks may both be Free.
func (a *FreeListAllocator) Validate() error {
	// Find the head: the chunk with no prev.
	var head *chunk
	for _, c := range a.chunks {
		if c.prev == 0 {
			if head != nil {
				return newErr(Internal, "multiple chunks with no prev")
			}
			head = c
		}
	}
	if head == nil && len(a.chunks) > 0 {
		return newErr(Internal, "no chunk with no prev")
	}

	offset := uint64(0)
	count := 0
	var prevKind AllocationKind = Free
	havePrev := false
	for c := head; c != nil; {
		if c.offset != offset {
			return newErr(Internal, "chunk chain has a gap or overlap")
		}
		if havePrev && prevKind == Free && c.kind == Free {
			return newErr(Internal, "two adjacent chunks are both Free")
		}
		offset += c.size
		prevKind = c.kind
		havePrev = true
		count++

		if c.next == 0 {
			break
		}
		next, ok := a.chunks[c.next]
		if !ok {
			return newErr(Internal, "next pointer references missing chunk")
		}
		c = next
	}

	if offset != a.blockSize {
		return newErr(Internal, "chunk chain does not cover the whole block")
	}
	if count != len(a.chunks) {
		return newErr(Internal, "chunk chain length does not match chunk count")
	}
	return nil
}
