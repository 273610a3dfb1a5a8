package memory

import (
	"context"
	"log/slog"
)

// dedicatedChunkID is the only identifier a DedicatedAllocator ever hands
// out: the block has exactly one occupant at offset 0.
const dedicatedChunkID ChunkID = 1

// DedicatedAllocator is a SubAllocator over a block that holds exactly one
// resource filling the whole block. It backs oversize allocations and
// allocations that requested a dedicated block explicitly.
type DedicatedAllocator struct {
	size uint64
	kind AllocationKind
	name string
}

// NewDedicatedAllocator creates an allocator for a block of the given size,
// with no occupant yet.
func NewDedicatedAllocator(size uint64) *DedicatedAllocator {
	return &DedicatedAllocator{size: size, kind: Free}
}

// Allocate implements SubAllocator.Allocate. The request must exactly fill
// the block and the block must currently be empty; alignment and
// granularity never matter because there is never a neighbor to conflict
// with.
func (a *DedicatedAllocator) Allocate(size, alignment uint64, kind AllocationKind, granularity uint64, name string) (uint64, ChunkID, error) {
	if a.kind != Free {
		return 0, 0, newErr(OutOfMemory, "dedicated block already occupied")
	}
	if size != a.size {
		return 0, 0, newErr(OutOfMemory, "request size does not match dedicated block size")
	}
	a.kind = kind
	a.name = name
	return 0, dedicatedChunkID, nil
}

// Free implements SubAllocator.Free.
func (a *DedicatedAllocator) Free(id ChunkID) error {
	if id != dedicatedChunkID || a.kind == Free {
		return newErr(Internal, "free of unknown chunk id on dedicated block")
	}
	a.kind = Free
	a.name = ""
	return nil
}

// Rename implements SubAllocator.Rename.
func (a *DedicatedAllocator) Rename(id ChunkID, name string) error {
	if id != dedicatedChunkID || a.kind == Free {
		return newErr(Internal, "rename of unknown chunk id on dedicated block")
	}
	a.name = name
	return nil
}

// ReportAllocations implements SubAllocator.ReportAllocations.
func (a *DedicatedAllocator) ReportAllocations() []AllocationReport {
	if a.kind == Free {
		return nil
	}
	return []AllocationReport{{Name: a.name, Offset: 0, Size: a.size}}
}

// ReportLeaks implements SubAllocator.ReportLeaks.
func (a *DedicatedAllocator) ReportLeaks(logger *slog.Logger, level slog.Level, memoryTypeIndex, blockIndex int) {
	if a.kind == Free {
		return
	}
	logger.Log(context.Background(), level, "leaked allocation",
		"name", a.name,
		"offset", uint64(0),
		"size", a.size,
		"memory_type", memoryTypeIndex,
		"block", blockIndex,
	)
}

// SupportsGeneral implements SubAllocator.SupportsGeneral: a dedicated
// block never hosts more than one resource.
func (a *DedicatedAllocator) SupportsGeneral() bool { return false }

// AllocatedBytes implements SubAllocator.AllocatedBytes.
func (a *DedicatedAllocator) AllocatedBytes() uint64 {
	if a.kind == Free {
		return 0
	}
	return a.size
}

// IsEmpty implements SubAllocator.IsEmpty.
func (a *DedicatedAllocator) IsEmpty() bool { return a.kind == Free }
