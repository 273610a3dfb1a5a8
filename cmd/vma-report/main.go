// Command vma-report is a smoke test for package memory. It builds an
// allocator against an in-process fake backend, drives a scripted
// allocate/free sequence, and prints the resulting report.
package main

import (
	"fmt"
	"os"

	"github.com/gogpu/vma/driver"
	"github.com/gogpu/vma/memory"
)

func main() {
	fmt.Println("=== vma allocator smoke test ===")
	fmt.Println()

	fmt.Print("1. Building allocator against the fake backend... ")
	backend := newScriptedBackend()
	allocator, err := memory.New(&memory.AllocatorCreateDesc{
		PhysicalDevice: 1,
		Device:         1,
		Backend:        backend,
		DebugSettings: memory.DebugSettings{
			LogAllocations: true,
			LogFrees:       true,
		},
	})
	if err != nil {
		fmt.Printf("FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
	defer allocator.Dispose()

	fmt.Print("2. Allocating a device-local vertex buffer (managed)... ")
	vertexBuf, err := allocator.Allocate(&memory.AllocationCreateDesc{
		Name:         "vertex-buffer",
		Requirements: memory.Requirements{Size: 64 << 10, Alignment: 256, MemoryTypeBits: 0b11},
		Location:     memory.GpuOnly,
		Linear:       true,
		Scheme:       driver.SchemeManaged,
	})
	if err != nil {
		fmt.Printf("FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("OK (offset %d, block %d)\n", vertexBuf.Offset, vertexBuf.BlockIndex)

	fmt.Print("3. Allocating a dedicated render target... ")
	renderTarget, err := allocator.Allocate(&memory.AllocationCreateDesc{
		Name:           "render-target",
		Requirements:   memory.Requirements{Size: 16 << 20, Alignment: 4096, MemoryTypeBits: 0b11},
		Location:       memory.GpuOnly,
		Linear:         false,
		Scheme:         driver.SchemeDedicatedImage,
		DedicatedImage: 0xCAFE,
	})
	if err != nil {
		fmt.Printf("FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("OK (block %d, dedicated=%v)\n", renderTarget.BlockIndex, renderTarget.Dedicated)

	fmt.Print("4. Allocating a host-visible staging buffer (CpuToGpu)... ")
	staging, err := allocator.Allocate(&memory.AllocationCreateDesc{
		Name:         "staging-buffer",
		Requirements: memory.Requirements{Size: 4 << 10, Alignment: 16, MemoryTypeBits: 0b11},
		Location:     memory.CpuToGpu,
		Linear:       true,
		Scheme:       driver.SchemeManaged,
	})
	if err != nil {
		fmt.Printf("FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("OK (mapped at 0x%x)\n", staging.MappedPtr)

	fmt.Print("5. Freeing the vertex buffer... ")
	if err := allocator.Free(vertexBuf); err != nil {
		fmt.Printf("FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")

	fmt.Print("6. Freeing the dedicated render target... ")
	if err := allocator.Free(renderTarget); err != nil {
		fmt.Printf("FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")

	fmt.Println()
	fmt.Println("=== Report ===")
	report := allocator.Report()
	fmt.Printf("live allocations: %d\n", len(report.Allocations))
	fmt.Printf("live blocks:      %d\n", len(report.Blocks))
	fmt.Printf("bytes allocated:  %d\n", report.TotalAllocated)
	fmt.Printf("bytes reserved:   %d\n", report.TotalReserved)
	for _, b := range report.Blocks {
		fmt.Printf("  block %d (type %d, dedicated=%v): %d bytes, %d allocations\n",
			b.BlockIndex, b.MemoryTypeIndex, b.Dedicated, b.Size, b.EndIndex-b.FirstIndex)
	}

	fmt.Println()
	fmt.Println("=== Stats ===")
	for _, s := range allocator.Stats() {
		fmt.Printf("  type %d: %d blocks (%d general), %d bytes allocated, %d bytes reserved\n",
			s.MemoryTypeIndex, s.BlockCount, s.ActiveGeneralBlocks, s.AllocatedBytes, s.ReservedBytes)
	}

	_ = staging
	fmt.Println()
	fmt.Println("=== Smoke test complete ===")
}
