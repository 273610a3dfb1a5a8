package memory

import (
	"log/slog"

	"github.com/gogpu/vma/driver"
)

// MemoryType owns the blocks backing one driver memory type: a slot-stable
// sequence of blocks, each either a general-purpose FreeListAllocator block
// or a single-occupant dedicated block.
type MemoryType struct {
	backend driver.Backend
	device  driver.Device

	index         uint32
	propertyFlags driver.MemoryPropertyFlags
	heapIndex     uint32
	heapSize      uint64
	mappable      bool
	deviceAddress bool
	blockSize     uint64
	granularity   uint64

	blocks              blockSlots
	activeGeneralBlocks int
}

func newMemoryType(backend driver.Backend, device driver.Device, index uint32, props driver.MemoryType, heapSize, blockSize, granularity uint64, deviceAddress bool) *MemoryType {
	return &MemoryType{
		backend:       backend,
		device:        device,
		index:         index,
		propertyFlags: props.PropertyFlags,
		heapIndex:     props.HeapIndex,
		heapSize:      heapSize,
		mappable:      props.PropertyFlags&driver.MemoryPropertyHostVisibleBit != 0,
		deviceAddress: deviceAddress,
		blockSize:     blockSize,
		granularity:   granularity,
	}
}

// allocate places one chunk, opening or creating blocks as needed per the
// dedicated/oversize and managed paths.
func (t *MemoryType) allocate(desc *AllocationCreateDesc) (Allocation, error) {
	size := desc.Requirements.Size
	alignment := desc.Requirements.Alignment
	kind := kindFromLinear(desc.Linear)

	requiresPersonalBlock := size > t.blockSize
	dedicated := desc.Scheme != driver.SchemeManaged

	if requiresPersonalBlock || dedicated {
		return t.allocateDedicated(desc, size, alignment, kind)
	}
	return t.allocateManaged(desc, size, alignment, kind)
}

func (t *MemoryType) allocateDedicated(desc *AllocationCreateDesc, size, alignment uint64, kind AllocationKind) (Allocation, error) {
	mem, mappedBase, err := t.openDeviceMemory(size, desc.Scheme, desc.DedicatedBuffer, desc.DedicatedImage)
	if err != nil {
		return Allocation{}, err
	}

	block := newDedicatedBlock(mem, size, mappedBase)
	idx := t.blocks.insert(block)

	offset, chunkID, err := block.sub.Allocate(size, alignment, kind, 0, desc.Name)
	if err != nil {
		// The block was sized to exactly this request; a failure here is a
		// bug, not a recoverable condition.
		return Allocation{}, wrapErr(Internal, "dedicated block rejected its own sole allocation", err)
	}

	return Allocation{
		chunkID:         chunkID,
		Offset:          offset,
		Size:            size,
		BlockIndex:      idx,
		MemoryTypeIndex: int(t.index),
		Memory:          mem,
		MappedPtr:       block.mappedPtr(offset),
		PropertyFlags:   t.propertyFlags,
		Dedicated:       desc.Scheme != driver.SchemeManaged,
		Name:            desc.Name,
	}, nil
}

// allocateManaged walks existing general blocks newest-first, opening a new
// one only if none accepts the request.
func (t *MemoryType) allocateManaged(desc *AllocationCreateDesc, size, alignment uint64, kind AllocationKind) (Allocation, error) {
	granularity := t.granularity

	var reuseSlot blockIndex = invalidBlockIndex
	var chosen *MemoryBlock
	var chosenIdx blockIndex
	var offset uint64
	var chunkID ChunkID

	t.blocks.newest(func(idx blockIndex, b *MemoryBlock) bool {
		off, id, err := b.sub.Allocate(size, alignment, kind, granularity, desc.Name)
		if err == nil {
			chosen, chosenIdx, offset, chunkID = b, idx, off, id
			return false
		}
		return true
	})

	if chosen == nil {
		// No present block accepted the request; also note the lowest
		// absent slot while we're here so a new block can reuse it.
		for i := 0; i < t.blocks.len(); i++ {
			if t.blocks.get(blockIndex(i)) == nil {
				reuseSlot = blockIndex(i)
				break
			}
		}

		mem, mappedBase, err := t.openDeviceMemory(t.blockSize, driver.SchemeManaged, 0, 0)
		if err != nil {
			return Allocation{}, err
		}

		newBlock := newManagedBlock(mem, t.blockSize, mappedBase)
		var idx blockIndex
		if reuseSlot != invalidBlockIndex {
			t.blocks.insertAt(reuseSlot, newBlock)
			idx = reuseSlot
		} else {
			idx = t.blocks.insert(newBlock)
		}
		t.activeGeneralBlocks++

		off, id, err := newBlock.sub.Allocate(size, alignment, kind, granularity, desc.Name)
		if err != nil {
			return Allocation{}, wrapErr(Internal, "newly opened general block rejected the request", err)
		}
		chosen, chosenIdx, offset, chunkID = newBlock, idx, off, id
	}

	return Allocation{
		chunkID:         chunkID,
		Offset:          offset,
		Size:            size,
		BlockIndex:      chosenIdx,
		MemoryTypeIndex: int(t.index),
		Memory:          chosen.memory,
		MappedPtr:       chosen.mappedPtr(offset),
		PropertyFlags:   t.propertyFlags,
		Dedicated:       false,
		Name:            desc.Name,
	}, nil
}

// free delegates to the owning block and destroys the block if it becomes
// empty and the block's kind permits shrinking.
func (t *MemoryType) free(alloc Allocation) error {
	block := t.blocks.get(alloc.BlockIndex)
	if block == nil {
		return newErr(Internal, "free references an absent block slot")
	}
	if err := block.sub.Free(alloc.chunkID); err != nil {
		return err
	}
	if !block.IsEmpty() {
		return nil
	}

	if block.dedicated {
		t.destroyBlock(alloc.BlockIndex, block)
		return nil
	}
	if t.activeGeneralBlocks > 1 {
		t.destroyBlock(alloc.BlockIndex, block)
		t.activeGeneralBlocks--
	}
	return nil
}

func (t *MemoryType) destroyBlock(idx blockIndex, block *MemoryBlock) {
	if block.mappedBase != 0 {
		t.backend.UnmapMemory(t.device, block.memory)
	}
	t.backend.FreeMemory(t.device, block.memory)
	t.blocks.remove(idx)
}

// openDeviceMemory asks the backend for size bytes of this memory type,
// mapping it immediately if the type is host-visible. On a failed map the
// freshly allocated memory is released before the error surfaces.
func (t *MemoryType) openDeviceMemory(size uint64, scheme driver.DedicatedScheme, dedicatedBuffer, dedicatedImage uint64) (driver.DeviceMemory, uintptr, error) {
	mem, err := t.backend.AllocateMemory(t.device, driver.AllocateInfo{
		Size:            size,
		MemoryType:      t.index,
		Scheme:          scheme,
		DedicatedBuffer: dedicatedBuffer,
		DedicatedImage:  dedicatedImage,
		DeviceAddress:   t.deviceAddress,
	})
	if err != nil {
		return 0, 0, wrapErr(OutOfMemory, "AllocateMemory failed", err)
	}

	if !t.mappable {
		return mem, 0, nil
	}

	ptr, err := t.backend.MapMemory(t.device, mem, size)
	if err != nil {
		t.backend.FreeMemory(t.device, mem)
		return 0, 0, wrapErr(FailedToMap, "MapMemory failed on newly allocated block", err)
	}
	return mem, ptr, nil
}

// teardown destroys every present block unconditionally, optionally
// logging leaks first.
func (t *MemoryType) teardown(logger *slog.Logger, logLeaks bool, level slog.Level) {
	t.blocks.newest(func(idx blockIndex, b *MemoryBlock) bool {
		if logLeaks {
			b.sub.ReportLeaks(logger, level, int(t.index), int(idx))
		}
		t.destroyBlock(idx, b)
		if !b.dedicated {
			t.activeGeneralBlocks--
		}
		return true
	})
}

func (t *MemoryType) report(memoryTypeIndex int, allocations *[]AllocationReport, blocks *[]BlockReport) {
	t.blocks.newest(func(idx blockIndex, b *MemoryBlock) bool {
		start := len(*allocations)
		*allocations = append(*allocations, b.sub.ReportAllocations()...)
		*blocks = append(*blocks, BlockReport{
			Size:            b.size,
			FirstIndex:      start,
			EndIndex:        len(*allocations),
			MemoryTypeIndex: memoryTypeIndex,
			BlockIndex:      int(idx),
			Dedicated:       b.dedicated,
		})
		return true
	})
}
