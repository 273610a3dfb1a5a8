package memory

import "github.com/gogpu/vma/driver"

// MemoryBlock is one device-memory allocation together with the
// sub-allocator that carves resources out of it.
type MemoryBlock struct {
	memory     driver.DeviceMemory
	size       uint64
	mappedBase uintptr // 0 when not persistently mapped
	sub        SubAllocator
	dedicated  bool
}

// newManagedBlock wraps a driver allocation with a FreeListAllocator able
// to host many resources.
func newManagedBlock(mem driver.DeviceMemory, size uint64, mappedBase uintptr) *MemoryBlock {
	return &MemoryBlock{
		memory:     mem,
		size:       size,
		mappedBase: mappedBase,
		sub:        NewFreeListAllocator(size),
		dedicated:  false,
	}
}

// newDedicatedBlock wraps a driver allocation sized for exactly one
// resource.
func newDedicatedBlock(mem driver.DeviceMemory, size uint64, mappedBase uintptr) *MemoryBlock {
	return &MemoryBlock{
		memory:     mem,
		size:       size,
		mappedBase: mappedBase,
		sub:        NewDedicatedAllocator(size),
		dedicated:  true,
	}
}

// IsEmpty reports whether the block currently hosts no live allocation.
func (b *MemoryBlock) IsEmpty() bool { return b.sub.IsEmpty() }

// mappedPtr returns the address of byte offset within the block's
// persistent mapping, or 0 if the block was not mapped.
func (b *MemoryBlock) mappedPtr(offset uint64) uintptr {
	if b.mappedBase == 0 {
		return 0
	}
	return b.mappedBase + uintptr(offset)
}
