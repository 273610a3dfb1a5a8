package memory

import "github.com/gogpu/vma/driver"

// Location is the caller's placement preference for an allocation.
type Location int

const (
	// Unknown applies no property-flag preference at all.
	Unknown Location = iota
	// GpuOnly wants device-local memory, for resources the CPU never touches.
	GpuOnly
	// CpuToGpu wants memory the CPU can write and the GPU can read, biased
	// towards also being device-local.
	CpuToGpu
	// GpuToCpu wants memory the CPU can read back, biased towards cached.
	GpuToCpu
)

// Requirements carries the size/alignment/type-bit constraints a driver
// query (e.g. vkGetBufferMemoryRequirements) would normally produce.
type Requirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
}

// AllocationCreateDesc describes one request to Allocator.Allocate.
type AllocationCreateDesc struct {
	Name            string
	Requirements    Requirements
	Location        Location
	Linear          bool
	Scheme          driver.DedicatedScheme
	DedicatedBuffer uint64
	DedicatedImage  uint64
}

// Allocation is the handle returned to the caller. A null allocation (Size
// zero, Memory zero) never corresponds to any live chunk and Free is a
// no-op on it.
type Allocation struct {
	chunkID ChunkID

	Offset          uint64
	Size            uint64
	BlockIndex      blockIndex
	MemoryTypeIndex int
	Memory          driver.DeviceMemory
	MappedPtr       uintptr
	PropertyFlags   driver.MemoryPropertyFlags
	Dedicated       bool
	Name            string
}

// IsNull reports whether this allocation references no chunk.
func (a Allocation) IsNull() bool { return a.chunkID == 0 }

// kindFromLinear maps the caller's boolean linear/non-linear flag onto the
// internal AllocationKind used by the sub-allocators.
func kindFromLinear(linear bool) AllocationKind {
	if linear {
		return Linear
	}
	return NonLinear
}
