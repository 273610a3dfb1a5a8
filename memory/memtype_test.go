package memory

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/gogpu/vma/driver"
)

func newTestMemoryType(t *testing.T, blockSize uint64) (*MemoryType, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend(
		[]driver.MemoryType{{PropertyFlags: driver.MemoryPropertyDeviceLocalBit, HeapIndex: 0}},
		[]driver.MemoryHeap{{Size: 16 << 20}},
		0,
	)
	mt := newMemoryType(backend, 1, 0, driver.MemoryType{PropertyFlags: driver.MemoryPropertyDeviceLocalBit}, 16<<20, blockSize, 0, false)
	return mt, backend
}

func TestMemoryType_ManagedGrowsOnlyWhenFull(t *testing.T) {
	mt, _ := newTestMemoryType(t, 1024)

	descA := &AllocationCreateDesc{Name: "a", Requirements: Requirements{Size: 600, Alignment: 1}, Scheme: driver.SchemeManaged, Linear: true}
	a1, err := mt.allocateManaged(descA, 600, 1, Linear)
	if err != nil {
		t.Fatalf("allocate 1: %v", err)
	}
	if mt.blocks.count() != 1 {
		t.Fatalf("block count = %d, want 1", mt.blocks.count())
	}

	// 600 + 600 > 1024, so this must open a second block rather than
	// fail, since allocateManaged itself never returns OutOfMemory for a
	// request that fits in a fresh block.
	descB := &AllocationCreateDesc{Name: "b", Requirements: Requirements{Size: 600, Alignment: 1}, Scheme: driver.SchemeManaged, Linear: true}
	a2, err := mt.allocateManaged(descB, 600, 1, Linear)
	if err != nil {
		t.Fatalf("allocate 2: %v", err)
	}
	if a1.BlockIndex == a2.BlockIndex {
		t.Fatal("second allocation should have required a new block")
	}
	if mt.blocks.count() != 2 {
		t.Fatalf("block count = %d, want 2", mt.blocks.count())
	}
	if mt.activeGeneralBlocks != 2 {
		t.Fatalf("activeGeneralBlocks = %d, want 2", mt.activeGeneralBlocks)
	}
}

func TestMemoryType_ManagedReusesFreedSlotOnGrowth(t *testing.T) {
	mt, _ := newTestMemoryType(t, 512)

	desc := func(name string) *AllocationCreateDesc {
		return &AllocationCreateDesc{Name: name, Requirements: Requirements{Size: 400, Alignment: 1}, Scheme: driver.SchemeManaged, Linear: true}
	}

	a1, err := mt.allocateManaged(desc("one"), 400, 1, Linear)
	if err != nil {
		t.Fatalf("allocate one: %v", err)
	}
	a2, err := mt.allocateManaged(desc("two"), 400, 1, Linear)
	if err != nil {
		t.Fatalf("allocate two: %v", err)
	}
	if a1.BlockIndex == a2.BlockIndex {
		t.Fatal("expected two separate blocks for two 400-byte allocations in a 512-byte block size")
	}

	// Free and destroy the first block (general blocks only shrink while
	// more than one remains present).
	if err := mt.free(a1); err != nil {
		t.Fatalf("free a1: %v", err)
	}
	if mt.blocks.get(a1.BlockIndex) != nil {
		t.Fatal("first block should have been destroyed once its allocation was freed (2 blocks were present)")
	}

	a3, err := mt.allocateManaged(desc("three"), 400, 1, Linear)
	if err != nil {
		t.Fatalf("allocate three: %v", err)
	}
	if a3.BlockIndex != a1.BlockIndex {
		t.Errorf("new block reused slot %d, expected the freed slot %d", a3.BlockIndex, a1.BlockIndex)
	}
	blockAfterReuse := mt.blocks.get(a3.BlockIndex)

	// The reused slot must have been removed from the free list: a
	// subsequent insert (here, a dedicated block) must not also be handed
	// the same index and clobber a3's still-live block.
	dedicated, err := mt.allocateDedicated(&AllocationCreateDesc{Name: "dedicated", Requirements: Requirements{Size: 4096, Alignment: 1}, Scheme: driver.SchemeDedicatedBuffer, Linear: true}, 4096, 1, Linear)
	if err != nil {
		t.Fatalf("allocateDedicated: %v", err)
	}
	if dedicated.BlockIndex == a3.BlockIndex {
		t.Fatalf("dedicated block reused slot %d, which is still occupied by a3's block", a3.BlockIndex)
	}
	if mt.blocks.get(a3.BlockIndex) != blockAfterReuse {
		t.Fatal("a3's block was clobbered by a later insert; the reused slot was never removed from the free list")
	}
}

func TestMemoryType_NewestFirstSearch(t *testing.T) {
	mt, _ := newTestMemoryType(t, 2048)

	desc := func(name string, size uint64) *AllocationCreateDesc {
		return &AllocationCreateDesc{Name: name, Requirements: Requirements{Size: size, Alignment: 1}, Scheme: driver.SchemeManaged, Linear: true}
	}

	// Fill the first block entirely, forcing a second block to open.
	first, err := mt.allocateManaged(desc("fill", 2048), 2048, 1, Linear)
	if err != nil {
		t.Fatalf("allocate fill: %v", err)
	}
	second, err := mt.allocateManaged(desc("next", 100), 100, 1, Linear)
	if err != nil {
		t.Fatalf("allocate next: %v", err)
	}
	if second.BlockIndex == first.BlockIndex {
		t.Fatal("second allocation should not fit in the already-full first block")
	}
	if second.BlockIndex <= first.BlockIndex {
		t.Fatalf("second block index %d should be newer (greater) than first %d", second.BlockIndex, first.BlockIndex)
	}

	// A third small allocation should land in the newest (second) block,
	// not require scanning back to the full first one.
	third, err := mt.allocateManaged(desc("more", 100), 100, 1, Linear)
	if err != nil {
		t.Fatalf("allocate more: %v", err)
	}
	if third.BlockIndex != second.BlockIndex {
		t.Errorf("third allocation landed in block %d, want the newest block %d", third.BlockIndex, second.BlockIndex)
	}
}

func TestMemoryType_DedicatedAlwaysDestroyedOnFree(t *testing.T) {
	mt, backend := newTestMemoryType(t, 4096)

	desc := &AllocationCreateDesc{
		Name:            "solo",
		Requirements:    Requirements{Size: 4096, Alignment: 1},
		Scheme:          driver.SchemeDedicatedBuffer,
		DedicatedBuffer: 7,
		Linear:          true,
	}
	alloc, err := mt.allocateDedicated(desc, 4096, 1, Linear)
	if err != nil {
		t.Fatalf("allocateDedicated: %v", err)
	}
	if mt.blocks.count() != 1 {
		t.Fatalf("block count = %d, want 1", mt.blocks.count())
	}

	if err := mt.free(alloc); err != nil {
		t.Fatalf("free: %v", err)
	}
	if mt.blocks.count() != 0 {
		t.Error("dedicated block must be destroyed on free regardless of other blocks present")
	}
	if len(backend.live) != 0 {
		t.Error("dedicated block's device memory handle was not released")
	}
}

func TestMemoryType_TeardownLogsNothingWhenDisabled(t *testing.T) {
	mt, backend := newTestMemoryType(t, 4096)

	_, err := mt.allocateManaged(&AllocationCreateDesc{Name: "x", Requirements: Requirements{Size: 100, Alignment: 1}, Scheme: driver.SchemeManaged, Linear: true}, 100, 1, Linear)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	mt.teardown(logger, false, slog.LevelWarn)
	if buf.Len() != 0 {
		t.Errorf("teardown with leak logging disabled logged: %s", buf.String())
	}
	if mt.blocks.count() != 0 {
		t.Error("teardown must destroy every present block")
	}
	if len(backend.live) != 0 {
		t.Error("teardown must release every backend memory handle")
	}
}

func TestMemoryType_ReportCoversAllBlocks(t *testing.T) {
	mt, _ := newTestMemoryType(t, 2048)

	if _, err := mt.allocateManaged(&AllocationCreateDesc{Name: "big", Requirements: Requirements{Size: 2048, Alignment: 1}, Scheme: driver.SchemeManaged, Linear: true}, 2048, 1, Linear); err != nil {
		t.Fatalf("allocate big: %v", err)
	}
	if _, err := mt.allocateManaged(&AllocationCreateDesc{Name: "small", Requirements: Requirements{Size: 100, Alignment: 1}, Scheme: driver.SchemeManaged, Linear: true}, 100, 1, Linear); err != nil {
		t.Fatalf("allocate small: %v", err)
	}

	var allocations []AllocationReport
	var blocks []BlockReport
	mt.report(0, &allocations, &blocks)

	if len(blocks) != 2 {
		t.Fatalf("len(blocks) = %d, want 2", len(blocks))
	}
	if len(allocations) != 2 {
		t.Fatalf("len(allocations) = %d, want 2", len(allocations))
	}
}
