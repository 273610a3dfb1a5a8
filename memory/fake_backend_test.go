package memory

import "github.com/gogpu/vma/driver"

// fakeBackend is an in-process stand-in for driver.Backend: memory
// "allocations" are just incrementing handles backed by nothing. MapMemory
// records a byte slice of the mapped size per handle but returns a
// synthetic base address unrelated to it, which is never dereferenced.
type fakeBackend struct {
	properties driver.MemoryProperties
	limits     driver.Limits

	nextHandle driver.DeviceMemory
	live       map[driver.DeviceMemory][]byte

	failAllocate bool
	failMap      bool
}

func newFakeBackend(types []driver.MemoryType, heaps []driver.MemoryHeap, granularity uint64) *fakeBackend {
	return &fakeBackend{
		properties: driver.MemoryProperties{Types: types, Heaps: heaps},
		limits:     driver.Limits{BufferImageGranularity: granularity},
		live:       make(map[driver.DeviceMemory][]byte),
	}
}

func (f *fakeBackend) QueryMemoryProperties(driver.PhysicalDevice) (driver.MemoryProperties, error) {
	return f.properties, nil
}

func (f *fakeBackend) QueryLimits(driver.PhysicalDevice) (driver.Limits, error) {
	return f.limits, nil
}

func (f *fakeBackend) AllocateMemory(driver.Device, driver.AllocateInfo) (driver.DeviceMemory, error) {
	if f.failAllocate {
		return 0, driver.ErrOutOfDeviceMemory
	}
	f.nextHandle++
	f.live[f.nextHandle] = nil
	return f.nextHandle, nil
}

func (f *fakeBackend) FreeMemory(_ driver.Device, mem driver.DeviceMemory) {
	delete(f.live, mem)
}

func (f *fakeBackend) MapMemory(_ driver.Device, mem driver.DeviceMemory, size uint64) (uintptr, error) {
	if f.failMap {
		return 0, driver.ErrOutOfDeviceMemory
	}
	f.live[mem] = make([]byte, size)
	// A synthetic, never-dereferenced base address: no test reads through
	// it.
	return uintptr(mem)<<20 + 1, nil
}

func (f *fakeBackend) UnmapMemory(_ driver.Device, mem driver.DeviceMemory) {
	if buf, ok := f.live[mem]; ok {
		f.live[mem] = buf[:0]
	}
}

// gpuOnlyTypes is a minimal two-heap layout: one device-local type, one
// host-visible+coherent type, each on its own heap.
func gpuOnlyTypes() ([]driver.MemoryType, []driver.MemoryHeap) {
	types := []driver.MemoryType{
		{PropertyFlags: driver.MemoryPropertyDeviceLocalBit, HeapIndex: 0},
		{PropertyFlags: driver.MemoryPropertyHostVisibleBit | driver.MemoryPropertyHostCoherentBit, HeapIndex: 1},
	}
	heaps := []driver.MemoryHeap{
		{Size: 1 << 30},
		{Size: 1 << 30},
	}
	return types, heaps
}

func allTypeBits(n int) uint32 {
	var bits uint32
	for i := 0; i < n; i++ {
		bits |= 1 << uint(i)
	}
	return bits
}
