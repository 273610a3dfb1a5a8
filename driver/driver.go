// Package driver defines the boundary between the memory allocator and the
// graphics API that actually owns device memory.
//
// Nothing in package memory talks to a real driver directly: it only calls
// through the Backend interface declared here. A concrete implementation
// (see driver/vulkan) supplies the real vkAllocateMemory/vkFreeMemory/
// vkMapMemory calls; tests supply a fake. This mirrors how the wider HAL
// keeps backend-specific code out of the device-agnostic layers above it.
package driver

import "fmt"

// PhysicalDevice identifies the GPU memory properties are queried from.
type PhysicalDevice uint64

// Device is the logical device memory is allocated against.
type Device uint64

// DeviceMemory is an opaque handle to one driver-owned memory object.
type DeviceMemory uint64

// MemoryPropertyFlags mirrors VkMemoryPropertyFlags: a bitmask describing
// what a memory type offers (device-local, host-visible, ...).
type MemoryPropertyFlags uint32

const (
	MemoryPropertyDeviceLocalBit MemoryPropertyFlags = 1 << iota
	MemoryPropertyHostVisibleBit
	MemoryPropertyHostCoherentBit
	MemoryPropertyHostCachedBit
	MemoryPropertyLazilyAllocatedBit
)

// String renders a flag set as a list of short names, e.g. "DEVICE_LOCAL|HOST_VISIBLE".
func (f MemoryPropertyFlags) String() string {
	if f == 0 {
		return "NONE"
	}
	names := []struct {
		bit  MemoryPropertyFlags
		name string
	}{
		{MemoryPropertyDeviceLocalBit, "DEVICE_LOCAL"},
		{MemoryPropertyHostVisibleBit, "HOST_VISIBLE"},
		{MemoryPropertyHostCoherentBit, "HOST_COHERENT"},
		{MemoryPropertyHostCachedBit, "HOST_CACHED"},
		{MemoryPropertyLazilyAllocatedBit, "LAZILY_ALLOCATED"},
	}
	s := ""
	for _, n := range names {
		if f&n.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	return s
}

// MemoryType describes one driver-exposed memory type.
type MemoryType struct {
	PropertyFlags MemoryPropertyFlags
	HeapIndex     uint32
}

// MemoryHeap describes one physical memory pool.
type MemoryHeap struct {
	Size uint64
}

// MemoryProperties is the result of querying a physical device's memory layout.
type MemoryProperties struct {
	Types []MemoryType
	Heaps []MemoryHeap
}

// Limits carries the subset of driver limits the allocator needs.
type Limits struct {
	// BufferImageGranularity is the minimum byte gap the driver requires
	// between a linear and a non-linear resource sharing one memory object.
	BufferImageGranularity uint64
}

// DedicatedScheme identifies what kind of resource a dedicated allocation
// is being created for, so Backend can attach the matching dedicated-
// allocate hint structure.
type DedicatedScheme int

const (
	// SchemeManaged allocations may share a block with others.
	SchemeManaged DedicatedScheme = iota
	// SchemeDedicatedBuffer requests a block sized and bound to one buffer.
	SchemeDedicatedBuffer
	// SchemeDedicatedImage requests a block sized and bound to one image.
	SchemeDedicatedImage
)

// AllocateInfo describes one device-memory allocation request to Backend.
type AllocateInfo struct {
	Size            uint64
	MemoryType      uint32
	Scheme          DedicatedScheme
	DedicatedImage  uint64 // opaque VkImage handle, when Scheme == SchemeDedicatedImage
	DedicatedBuffer uint64 // opaque VkBuffer handle, when Scheme == SchemeDedicatedBuffer
	DeviceAddress   bool
}

// Backend is the graphics API binding the allocator is built against.
// Implementations are not required to be safe for concurrent use; the
// allocator itself is single-owner (see package memory's doc comment).
type Backend interface {
	QueryMemoryProperties(pd PhysicalDevice) (MemoryProperties, error)
	QueryLimits(pd PhysicalDevice) (Limits, error)

	AllocateMemory(dev Device, info AllocateInfo) (DeviceMemory, error)
	FreeMemory(dev Device, mem DeviceMemory)

	MapMemory(dev Device, mem DeviceMemory, size uint64) (uintptr, error)
	UnmapMemory(dev Device, mem DeviceMemory)
}

// ErrOutOfDeviceMemory is returned by Backend.AllocateMemory when the
// driver rejects the request for want of device memory, as distinct from
// any other allocation failure.
var ErrOutOfDeviceMemory = fmt.Errorf("driver: out of device memory")
