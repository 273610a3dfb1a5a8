package memory

import (
	"log/slog"

	"github.com/gogpu/vma/driver"
)

// DebugSettings independently gates classes of log emission. All default
// to false (silent) on the zero value. LogAllocations, LogFrees and
// LogLeaksOnShutdown each gate one call site; LogMemoryInformation is
// accepted but no code in this package reads it, so it produces no output.
type DebugSettings struct {
	LogMemoryInformation bool
	LogLeaksOnShutdown   bool
	LogAllocations       bool
	LogFrees             bool
}

// AllocatorCreateDesc configures a new Allocator.
type AllocatorCreateDesc struct {
	PhysicalDevice driver.PhysicalDevice
	Device         driver.Device
	Backend        driver.Backend

	DebugSettings   DebugSettings
	DeviceAddress   bool
	AllocationSizes AllocationSizes
}

type propertyCandidate struct {
	preferred driver.MemoryPropertyFlags
	required  driver.MemoryPropertyFlags
}

var locationFlags = map[Location]propertyCandidate{
	GpuOnly: {
		preferred: driver.MemoryPropertyDeviceLocalBit,
		required:  driver.MemoryPropertyDeviceLocalBit,
	},
	CpuToGpu: {
		preferred: driver.MemoryPropertyHostVisibleBit | driver.MemoryPropertyHostCoherentBit | driver.MemoryPropertyDeviceLocalBit,
		required:  driver.MemoryPropertyHostVisibleBit | driver.MemoryPropertyHostCoherentBit,
	},
	GpuToCpu: {
		preferred: driver.MemoryPropertyHostVisibleBit | driver.MemoryPropertyHostCoherentBit | driver.MemoryPropertyHostCachedBit,
		required:  driver.MemoryPropertyHostVisibleBit | driver.MemoryPropertyHostCoherentBit,
	},
	Unknown: {},
}

// cpuToGpuFallback is the secondary flag set tried once if the primary
// CpuToGpu type's allocation comes back null.
var cpuToGpuFallback = driver.MemoryPropertyHostVisibleBit | driver.MemoryPropertyHostCoherentBit

// Allocator is the top-level façade: it owns every MemoryType for the
// physical device it was created against, selects one per request, and
// dispatches allocate/free/rename/report/dispose to it.
type Allocator struct {
	backend driver.Backend
	device  driver.Device

	debug    DebugSettings
	sizes    AllocationSizes
	heaps    []driver.MemoryHeap
	types    []*MemoryType
	disposed bool
}

// New initializes memory types from the backend's queried properties and
// limits.
func New(desc *AllocatorCreateDesc) (*Allocator, error) {
	if desc.PhysicalDevice == 0 {
		return nil, newErr(InvalidAllocatorCreateDesc, "physical device is null")
	}
	if desc.Backend == nil {
		return nil, newErr(InvalidAllocatorCreateDesc, "backend is nil")
	}

	props, err := desc.Backend.QueryMemoryProperties(desc.PhysicalDevice)
	if err != nil {
		return nil, wrapErr(InvalidAllocatorCreateDesc, "QueryMemoryProperties failed", err)
	}
	limits, err := desc.Backend.QueryLimits(desc.PhysicalDevice)
	if err != nil {
		return nil, wrapErr(InvalidAllocatorCreateDesc, "QueryLimits failed", err)
	}

	sizes := desc.AllocationSizes
	if sizes.DeviceMemblockSize == 0 && sizes.HostMemblockSize == 0 {
		sizes = DefaultAllocationSizes()
	}
	sizes = sizes.normalize()

	a := &Allocator{
		backend: desc.Backend,
		device:  desc.Device,
		debug:   desc.DebugSettings,
		sizes:   sizes,
		heaps:   props.Heaps,
	}

	for i, mt := range props.Types {
		blockSize := sizes.DeviceMemblockSize
		if mt.PropertyFlags&driver.MemoryPropertyHostVisibleBit != 0 {
			blockSize = sizes.HostMemblockSize
		}
		var heapSize uint64
		if int(mt.HeapIndex) < len(props.Heaps) {
			heapSize = props.Heaps[mt.HeapIndex].Size
		}
		a.types = append(a.types, newMemoryType(desc.Backend, desc.Device, uint32(i), mt, heapSize, blockSize, limits.BufferImageGranularity, desc.DeviceAddress))
	}

	return a, nil
}

// Allocate validates the request, selects a memory type, and dispatches to
// it, applying the CpuToGpu secondary fallback on a null result.
func (a *Allocator) Allocate(desc *AllocationCreateDesc) (Allocation, error) {
	if desc.Requirements.Size == 0 {
		return Allocation{}, newErr(InvalidAllocationCreateDesc, "size must be non-zero")
	}
	if !isPowerOfTwo(desc.Requirements.Alignment) {
		return Allocation{}, newErr(InvalidAllocationCreateDesc, "alignment must be a power of two")
	}

	typeIndex, err := a.findMemoryType(desc.Requirements.MemoryTypeBits, desc.Location, false)
	if err != nil {
		return Allocation{}, err
	}

	alloc, err := a.dispatch(typeIndex, desc)
	if err == nil || desc.Location != CpuToGpu {
		return alloc, err
	}

	// Secondary fallback: retry once against the plain host-visible+coherent
	// requirement set only.
	fallbackIndex, ferr := a.findMemoryType(desc.Requirements.MemoryTypeBits, CpuToGpu, true)
	if ferr != nil {
		return Allocation{}, err
	}
	return a.dispatch(fallbackIndex, desc)
}

func (a *Allocator) dispatch(typeIndex int, desc *AllocationCreateDesc) (Allocation, error) {
	t := a.types[typeIndex]
	if desc.Requirements.Size > t.heapSize {
		return Allocation{}, newErr(OutOfMemory, "request exceeds the memory type's heap size")
	}
	if a.debug.LogAllocations {
		driver.Logger().Debug("allocate", "name", desc.Name, "size", desc.Requirements.Size, "memory_type", typeIndex)
	}
	return t.allocate(desc)
}

// findMemoryType scans types in driver order, preferring the first whose
// bit is set and whose flags are a superset of the preferred set, falling
// back to the required set. forceRequiredOnly skips straight to the
// required-only pass, used by the CpuToGpu secondary fallback.
func (a *Allocator) findMemoryType(typeBits uint32, location Location, forceRequiredOnly bool) (int, error) {
	cand := locationFlags[location]
	required := cand.required
	if forceRequiredOnly {
		required = cpuToGpuFallback
	}

	if !forceRequiredOnly {
		if idx, ok := a.scanTypes(typeBits, cand.preferred); ok {
			return idx, nil
		}
	}
	if idx, ok := a.scanTypes(typeBits, required); ok {
		return idx, nil
	}
	return 0, newErr(NoCompatibleMemoryTypeFound, "")
}

func (a *Allocator) scanTypes(typeBits uint32, want driver.MemoryPropertyFlags) (int, bool) {
	for i, t := range a.types {
		if typeBits&(1<<uint(i)) == 0 {
			continue
		}
		if t.propertyFlags&want == want {
			return i, true
		}
	}
	return 0, false
}

// Free releases the allocation. Freeing a null allocation is a no-op.
func (a *Allocator) Free(alloc Allocation) error {
	if alloc.IsNull() {
		return nil
	}
	if a.debug.LogFrees {
		driver.Logger().Debug("free", "name", alloc.Name, "memory_type", alloc.MemoryTypeIndex)
	}
	return a.types[alloc.MemoryTypeIndex].free(alloc)
}

// Rename updates the allocation's recorded name and forwards the rename to
// the owning block's sub-allocator.
func (a *Allocator) Rename(alloc *Allocation, name string) error {
	alloc.Name = name
	if alloc.IsNull() {
		return nil
	}
	t := a.types[alloc.MemoryTypeIndex]
	block := t.blocks.get(alloc.BlockIndex)
	if block == nil {
		return newErr(Internal, "rename references an absent block slot")
	}
	return block.sub.Rename(alloc.chunkID, name)
}

// ReportLeaks logs every currently-live allocation at the given level.
func (a *Allocator) ReportLeaks(level slog.Level) {
	for _, t := range a.types {
		t.blocks.newest(func(idx blockIndex, b *MemoryBlock) bool {
			b.sub.ReportLeaks(driver.Logger(), level, int(t.index), int(idx))
			return true
		})
	}
}

// Dispose releases every present block across every memory type. Optionally
// logs leaks first. The allocator must not be used afterward.
func (a *Allocator) Dispose() {
	if a.disposed {
		return
	}
	for _, t := range a.types {
		t.teardown(driver.Logger(), a.debug.LogLeaksOnShutdown, slog.LevelWarn)
	}
	a.disposed = true
}
