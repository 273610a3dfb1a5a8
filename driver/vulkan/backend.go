package vulkan

import (
	"fmt"
	"unsafe"

	"github.com/go-webgpu/goffi/ffi"
	"github.com/go-webgpu/goffi/types"

	"github.com/gogpu/vma/driver"
)

const (
	structureTypeMemoryAllocateInfo = 5 // VK_STRUCTURE_TYPE_MEMORY_ALLOCATE_INFO
	vkSuccess                       = 0

	maxMemoryTypes = 32
	maxMemoryHeaps = 16

	// bufferImageGranularityOffset is the byte offset of
	// VkPhysicalDeviceProperties.limits.bufferImageGranularity on an LP64
	// (amd64/arm64) platform: 20 bytes of version/vendor fields, a 256-byte
	// deviceName, a 16-byte pipelineCacheUUID (rounded to the 8-byte
	// alignment of VkPhysicalDeviceLimits), then eleven uint32 limit fields
	// (44 bytes, padded to 48) ahead of the VkDeviceSize field itself.
	bufferImageGranularityOffset = 296 + 48

	physicalDevicePropertiesSize = 1024 // generous upper bound; real struct is ~824 bytes
)

// vkMemoryType mirrors VkMemoryType.
type vkMemoryType struct {
	PropertyFlags uint32
	HeapIndex     uint32
}

// vkMemoryHeap mirrors VkMemoryHeap.
type vkMemoryHeap struct {
	Size  uint64
	Flags uint32
	_pad  uint32
}

// vkPhysicalDeviceMemoryProperties mirrors VkPhysicalDeviceMemoryProperties.
type vkPhysicalDeviceMemoryProperties struct {
	MemoryTypeCount uint32
	MemoryTypes     [maxMemoryTypes]vkMemoryType
	MemoryHeapCount uint32
	MemoryHeaps     [maxMemoryHeaps]vkMemoryHeap
}

// vkMemoryAllocateInfo mirrors VkMemoryAllocateInfo.
type vkMemoryAllocateInfo struct {
	SType           uint32
	_pad0           uint32
	PNext           uintptr
	AllocationSize  uint64
	MemoryTypeIndex uint32
	_pad1           uint32
}

// Backend implements driver.Backend against a real Vulkan loader.
type Backend struct {
	instance uint64

	getPhysicalDeviceMemoryProperties unsafe.Pointer
	getPhysicalDeviceProperties       unsafe.Pointer
	allocateMemory                    unsafe.Pointer
	freeMemory                        unsafe.Pointer
	mapMemory                         unsafe.Pointer
	unmapMemory                       unsafe.Pointer

	cifVoidHandlePtr               types.CallInterface // void(handle, ptr)
	cifResultHandlePtrPtrPtr       types.CallInterface // VkResult(handle, ptr, ptr, ptr)
	cifVoidHandleU64Ptr            types.CallInterface // void(handle, handle, ptr)
	cifResultHandleU64U64U64U32Ptr types.CallInterface // VkResult(handle, handle, u64, u64, u32, ptr)
	cifVoidHandleU64               types.CallInterface // void(handle, handle)
}

// New resolves every Vulkan entry point this package needs against the
// given instance handle.
func New(instance uint64) (*Backend, error) {
	if err := initLoader(); err != nil {
		return nil, err
	}

	b := &Backend{instance: instance}
	b.getPhysicalDeviceMemoryProperties = getInstanceProcAddr(instance, "vkGetPhysicalDeviceMemoryProperties")
	b.getPhysicalDeviceProperties = getInstanceProcAddr(instance, "vkGetPhysicalDeviceProperties")
	b.allocateMemory = getInstanceProcAddr(instance, "vkAllocateMemory")
	b.freeMemory = getInstanceProcAddr(instance, "vkFreeMemory")
	b.mapMemory = getInstanceProcAddr(instance, "vkMapMemory")
	b.unmapMemory = getInstanceProcAddr(instance, "vkUnmapMemory")

	for name, fn := range map[string]unsafe.Pointer{
		"vkGetPhysicalDeviceMemoryProperties": b.getPhysicalDeviceMemoryProperties,
		"vkGetPhysicalDeviceProperties":       b.getPhysicalDeviceProperties,
		"vkAllocateMemory":                    b.allocateMemory,
		"vkFreeMemory":                        b.freeMemory,
		"vkMapMemory":                         b.mapMemory,
		"vkUnmapMemory":                       b.unmapMemory,
	} {
		if fn == nil {
			return nil, fmt.Errorf("vulkan: %s not available", name)
		}
	}

	if err := b.prepareSignatures(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backend) prepareSignatures() error {
	u32 := types.UInt32TypeDescriptor
	u64 := types.UInt64TypeDescriptor
	ptr := types.PointerTypeDescriptor
	voidRet := types.VoidTypeDescriptor
	resultRet := types.SInt32TypeDescriptor

	if err := ffi.PrepareCallInterface(&b.cifVoidHandlePtr, types.DefaultCall, voidRet,
		[]*types.TypeDescriptor{u64, ptr}); err != nil {
		return fmt.Errorf("vulkan: prepare void(handle,ptr): %w", err)
	}
	if err := ffi.PrepareCallInterface(&b.cifResultHandlePtrPtrPtr, types.DefaultCall, resultRet,
		[]*types.TypeDescriptor{u64, ptr, ptr, ptr}); err != nil {
		return fmt.Errorf("vulkan: prepare VkResult(handle,ptr,ptr,ptr): %w", err)
	}
	if err := ffi.PrepareCallInterface(&b.cifVoidHandleU64Ptr, types.DefaultCall, voidRet,
		[]*types.TypeDescriptor{u64, u64, ptr}); err != nil {
		return fmt.Errorf("vulkan: prepare void(handle,handle,ptr): %w", err)
	}
	if err := ffi.PrepareCallInterface(&b.cifResultHandleU64U64U64U32Ptr, types.DefaultCall, resultRet,
		[]*types.TypeDescriptor{u64, u64, u64, u64, u32, ptr}); err != nil {
		return fmt.Errorf("vulkan: prepare VkResult(handle,handle,u64,u64,u32,ptr): %w", err)
	}
	if err := ffi.PrepareCallInterface(&b.cifVoidHandleU64, types.DefaultCall, voidRet,
		[]*types.TypeDescriptor{u64, u64}); err != nil {
		return fmt.Errorf("vulkan: prepare void(handle,handle): %w", err)
	}
	return nil
}

func argPtr(v unsafe.Pointer) unsafe.Pointer { return unsafe.Pointer(&v) }

// QueryMemoryProperties implements driver.Backend.
func (b *Backend) QueryMemoryProperties(pd driver.PhysicalDevice) (driver.MemoryProperties, error) {
	var raw vkPhysicalDeviceMemoryProperties
	dev := uint64(pd)
	args := [2]unsafe.Pointer{
		unsafe.Pointer(&dev),
		argPtr(unsafe.Pointer(&raw)),
	}
	_ = ffi.CallFunction(&b.cifVoidHandlePtr, b.getPhysicalDeviceMemoryProperties, nil, args[:])

	out := driver.MemoryProperties{
		Types: make([]driver.MemoryType, raw.MemoryTypeCount),
		Heaps: make([]driver.MemoryHeap, raw.MemoryHeapCount),
	}
	for i := uint32(0); i < raw.MemoryTypeCount; i++ {
		out.Types[i] = driver.MemoryType{
			PropertyFlags: driver.MemoryPropertyFlags(raw.MemoryTypes[i].PropertyFlags),
			HeapIndex:     raw.MemoryTypes[i].HeapIndex,
		}
	}
	for i := uint32(0); i < raw.MemoryHeapCount; i++ {
		out.Heaps[i] = driver.MemoryHeap{Size: raw.MemoryHeaps[i].Size}
	}
	return out, nil
}

// QueryLimits implements driver.Backend. It reads only
// limits.bufferImageGranularity out of the (large) VkPhysicalDeviceProperties
// structure.
func (b *Backend) QueryLimits(pd driver.PhysicalDevice) (driver.Limits, error) {
	buf := make([]byte, physicalDevicePropertiesSize)
	dev := uint64(pd)
	args := [2]unsafe.Pointer{
		unsafe.Pointer(&dev),
		argPtr(unsafe.Pointer(&buf[0])),
	}
	_ = ffi.CallFunction(&b.cifVoidHandlePtr, b.getPhysicalDeviceProperties, nil, args[:])

	granularity := *(*uint64)(unsafe.Pointer(&buf[bufferImageGranularityOffset]))
	return driver.Limits{BufferImageGranularity: granularity}, nil
}

// AllocateMemory implements driver.Backend.
func (b *Backend) AllocateMemory(dev driver.Device, info driver.AllocateInfo) (driver.DeviceMemory, error) {
	allocInfo := vkMemoryAllocateInfo{
		SType:           structureTypeMemoryAllocateInfo,
		AllocationSize:  info.Size,
		MemoryTypeIndex: info.MemoryType,
	}

	var memory uint64
	device := uint64(dev)
	infoPtr := unsafe.Pointer(&allocInfo)
	var nilPtr unsafe.Pointer
	args := [4]unsafe.Pointer{
		unsafe.Pointer(&device),
		argPtr(infoPtr),
		argPtr(nilPtr), // pAllocator: always null
		argPtr(unsafe.Pointer(&memory)),
	}

	var result int32
	_ = ffi.CallFunction(&b.cifResultHandlePtrPtrPtr, b.allocateMemory, unsafe.Pointer(&result), args[:])
	if result == -2 { // VK_ERROR_OUT_OF_DEVICE_MEMORY
		return 0, fmt.Errorf("%w: vkAllocateMemory returned %d", driver.ErrOutOfDeviceMemory, result)
	}
	if result != vkSuccess {
		return 0, fmt.Errorf("vulkan: vkAllocateMemory returned %d", result)
	}
	return driver.DeviceMemory(memory), nil
}

// FreeMemory implements driver.Backend.
func (b *Backend) FreeMemory(dev driver.Device, mem driver.DeviceMemory) {
	device := uint64(dev)
	memory := uint64(mem)
	var nilPtr unsafe.Pointer
	args := [3]unsafe.Pointer{
		unsafe.Pointer(&device),
		unsafe.Pointer(&memory),
		argPtr(nilPtr),
	}
	_ = ffi.CallFunction(&b.cifVoidHandleU64Ptr, b.freeMemory, nil, args[:])
}

// MapMemory implements driver.Backend.
func (b *Backend) MapMemory(dev driver.Device, mem driver.DeviceMemory, size uint64) (uintptr, error) {
	device := uint64(dev)
	memory := uint64(mem)
	var ptr uintptr
	flags := uint32(0)
	args := [6]unsafe.Pointer{
		unsafe.Pointer(&device),
		unsafe.Pointer(&memory),
		unsafe.Pointer(new(uint64)), // offset: always 0
		unsafe.Pointer(&size),
		unsafe.Pointer(&flags),
		argPtr(unsafe.Pointer(&ptr)),
	}

	var result int32
	_ = ffi.CallFunction(&b.cifResultHandleU64U64U64U32Ptr, b.mapMemory, unsafe.Pointer(&result), args[:])
	if result != vkSuccess {
		return 0, fmt.Errorf("vulkan: vkMapMemory returned %d", result)
	}
	return ptr, nil
}

// UnmapMemory implements driver.Backend.
func (b *Backend) UnmapMemory(dev driver.Device, mem driver.DeviceMemory) {
	device := uint64(dev)
	memory := uint64(mem)
	args := [2]unsafe.Pointer{
		unsafe.Pointer(&device),
		unsafe.Pointer(&memory),
	}
	_ = ffi.CallFunction(&b.cifVoidHandleU64, b.unmapMemory, nil, args[:])
}
