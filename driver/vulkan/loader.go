// Package vulkan implements driver.Backend against a real Vulkan loader via
// goffi, the same pure-Go FFI path the wider HAL uses for all its Vulkan
// bindings.
//
// goffi calling convention: args[] must contain pointers to WHERE argument
// values are stored, never the values themselves, including for pointer
// arguments, which need a pointer to the pointer. See the wider HAL's
// Vulkan loader for the rationale; this package follows the same pattern.
package vulkan

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/go-webgpu/goffi/ffi"
	"github.com/go-webgpu/goffi/types"
)

var (
	vulkanLib              unsafe.Pointer
	vkGetInstanceProcAddr  unsafe.Pointer
	cifGetInstanceProcAddr types.CallInterface

	initOnce sync.Once
	errInit  error
)

func libraryName() string {
	switch runtime.GOOS {
	case "windows":
		return "vulkan-1.dll"
	case "darwin":
		return "libvulkan.dylib"
	default:
		return "libvulkan.so.1"
	}
}

// initLoader loads the Vulkan library and resolves vkGetInstanceProcAddr.
// Safe to call multiple times; only the first call does any work.
func initLoader() error {
	initOnce.Do(func() {
		errInit = doInitLoader()
	})
	return errInit
}

func doInitLoader() error {
	lib, err := ffi.LoadLibrary(libraryName())
	if err != nil {
		return fmt.Errorf("vulkan: failed to load %s: %w", libraryName(), err)
	}
	vulkanLib = lib

	vkGetInstanceProcAddr, err = ffi.GetSymbol(vulkanLib, "vkGetInstanceProcAddr")
	if err != nil {
		return fmt.Errorf("vulkan: vkGetInstanceProcAddr not found: %w", err)
	}

	err = ffi.PrepareCallInterface(&cifGetInstanceProcAddr, types.DefaultCall,
		types.PointerTypeDescriptor,
		[]*types.TypeDescriptor{
			types.UInt64TypeDescriptor,  // VkInstance
			types.PointerTypeDescriptor, // const char* pName
		})
	if err != nil {
		return fmt.Errorf("vulkan: failed to prepare GetInstanceProcAddr interface: %w", err)
	}

	return nil
}

// getInstanceProcAddr resolves a global or instance-level function pointer.
// Pass instance=0 for global functions.
func getInstanceProcAddr(instance uint64, name string) unsafe.Pointer {
	cname := make([]byte, len(name)+1)
	copy(cname, name)

	var result unsafe.Pointer
	namePtr := unsafe.Pointer(&cname[0])
	args := [2]unsafe.Pointer{
		unsafe.Pointer(&instance),
		unsafe.Pointer(&namePtr),
	}
	_ = ffi.CallFunction(&cifGetInstanceProcAddr, vkGetInstanceProcAddr, unsafe.Pointer(&result), args[:])
	return result
}

// closeLoader releases the Vulkan library. Tests never call this since the
// fake backend never loads a real library.
func closeLoader() error {
	if vulkanLib == nil {
		return nil
	}
	err := ffi.FreeLibrary(vulkanLib)
	vulkanLib = nil
	vkGetInstanceProcAddr = nil
	return err
}
