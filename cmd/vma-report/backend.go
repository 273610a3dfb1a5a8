package main

import "github.com/gogpu/vma/driver"

// scriptedBackend is a deterministic, in-process driver.Backend: no real
// GPU or FFI call ever happens. It exists only so this command can drive
// the allocator without a live Vulkan instance.
type scriptedBackend struct {
	next driver.DeviceMemory
	live map[driver.DeviceMemory][]byte
}

func newScriptedBackend() *scriptedBackend {
	return &scriptedBackend{live: make(map[driver.DeviceMemory][]byte)}
}

func (b *scriptedBackend) QueryMemoryProperties(driver.PhysicalDevice) (driver.MemoryProperties, error) {
	return driver.MemoryProperties{
		Types: []driver.MemoryType{
			{PropertyFlags: driver.MemoryPropertyDeviceLocalBit, HeapIndex: 0},
			{PropertyFlags: driver.MemoryPropertyHostVisibleBit | driver.MemoryPropertyHostCoherentBit, HeapIndex: 1},
		},
		Heaps: []driver.MemoryHeap{
			{Size: 256 << 20},
			{Size: 256 << 20},
		},
	}, nil
}

func (b *scriptedBackend) QueryLimits(driver.PhysicalDevice) (driver.Limits, error) {
	return driver.Limits{BufferImageGranularity: 4096}, nil
}

func (b *scriptedBackend) AllocateMemory(driver.Device, driver.AllocateInfo) (driver.DeviceMemory, error) {
	b.next++
	b.live[b.next] = nil
	return b.next, nil
}

func (b *scriptedBackend) FreeMemory(_ driver.Device, mem driver.DeviceMemory) {
	delete(b.live, mem)
}

func (b *scriptedBackend) MapMemory(_ driver.Device, mem driver.DeviceMemory, size uint64) (uintptr, error) {
	b.live[mem] = make([]byte, size)
	return uintptr(mem) << 20, nil
}

func (b *scriptedBackend) UnmapMemory(_ driver.Device, mem driver.DeviceMemory) {
	if buf, ok := b.live[mem]; ok {
		b.live[mem] = buf[:0]
	}
}
