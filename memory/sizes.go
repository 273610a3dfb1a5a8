package memory

const (
	minBlockSize = 4 << 20   // 4 MiB
	maxBlockSize = 256 << 20 // 256 MiB

	defaultDeviceBlockSize = 256 << 20 // 256 MiB
	defaultHostBlockSize   = 64 << 20  // 64 MiB
)

// AllocationSizes configures the block size a MemoryType grows by, split
// between device-local and host-visible heaps since the two usually want
// different granularities.
type AllocationSizes struct {
	DeviceMemblockSize uint64
	HostMemblockSize   uint64
}

// DefaultAllocationSizes returns the reference defaults: 256 MiB device
// blocks, 64 MiB host blocks.
func DefaultAllocationSizes() AllocationSizes {
	return AllocationSizes{
		DeviceMemblockSize: defaultDeviceBlockSize,
		HostMemblockSize:   defaultHostBlockSize,
	}
}

// roundBlockSize clamps v to [4 MiB, 256 MiB] and rounds up to the next
// 4-MiB multiple; a value already on a 4-MiB boundary is left unchanged.
func roundBlockSize(v uint64) uint64 {
	if v < minBlockSize {
		v = minBlockSize
	}
	if v > maxBlockSize {
		v = maxBlockSize
	}
	return alignUp(v, minBlockSize)
}

// normalize applies roundBlockSize to both fields, e.g. right after
// decoding a caller-supplied AllocationSizes.
func (s AllocationSizes) normalize() AllocationSizes {
	return AllocationSizes{
		DeviceMemblockSize: roundBlockSize(s.DeviceMemblockSize),
		HostMemblockSize:   roundBlockSize(s.HostMemblockSize),
	}
}
