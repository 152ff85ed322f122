package pmm

import (
	"testing"
	"unsafe"

	"ridge/kernel/mem"
)

func withAllocator(t *testing.T, backingSize int) []byte {
	t.Helper()

	buf := make([]byte, backingSize)
	base := uintptr(unsafe.Pointer(&buf[0]))

	origTranslate := physToVirt
	physToVirt = func(p mem.Pa_t) uintptr { return base + uintptr(p) }

	reset()
	if err := Init(0); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	t.Cleanup(func() {
		physToVirt = origTranslate
		reset()
	})

	return buf
}

func TestAllocatorInitOnlyOnce(t *testing.T) {
	withAllocator(t, int(mem.PageSize))

	if err := Init(0); err == nil {
		t.Fatal("expected a second Init call to fail")
	}
}

func TestAllocatorAddRegionAndAlloc(t *testing.T) {
	withAllocator(t, 16*int(mem.PageSize))

	if err := AddRegion(0, 16*mem.PageSize, 0); err != nil {
		t.Fatalf("AddRegion failed: %v", err)
	}

	total, allocated, err := PoolStats(0)
	if err != nil {
		t.Fatalf("PoolStats failed: %v", err)
	}
	if allocated != 0 {
		t.Fatalf("expected 0 allocated pages initially; got %d", allocated)
	}

	out := make([]mem.Pa_t, total)
	got, err := AllocPages(out, 0)
	if err != nil {
		t.Fatalf("AllocPages failed: %v", err)
	}
	if got != total {
		t.Fatalf("expected to allocate all %d pages; got %d", total, got)
	}

	freed, err := FreePages(out, 0)
	if err != nil {
		t.Fatalf("FreePages failed: %v", err)
	}
	if freed != total {
		t.Fatalf("expected to free all %d pages; got %d", total, freed)
	}
}

func TestAllocatorInvalidPool(t *testing.T) {
	withAllocator(t, int(mem.PageSize))

	if err := AddRegion(0, mem.PageSize, 7); err == nil {
		t.Fatal("expected AddRegion against an unused pool index to fail")
	}
	if _, err := AllocPages(make([]mem.Pa_t, 1), 7); err == nil {
		t.Fatal("expected AllocPages against an unused pool index to fail")
	}
	if _, _, err := PoolStats(7); err == nil {
		t.Fatal("expected PoolStats against an unused pool index to fail")
	}
}

func TestAllocatorExhaustsRegionSlots(t *testing.T) {
	buf := make([]byte, (MaxGlobalRegions+1)*int(4*mem.PageSize))
	base := uintptr(unsafe.Pointer(&buf[0]))

	origTranslate := physToVirt
	physToVirt = func(p mem.Pa_t) uintptr { return base + uintptr(p) }

	reset()
	// Spread MaxGlobalRegions regions across MaxPools pools so no single
	// pool's MaxRegionsPerPool cap is hit before the global region
	// storage is exhausted.
	if err := Init(MaxPools - 1); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	t.Cleanup(func() {
		physToVirt = origTranslate
		reset()
	})

	for i := 0; i < MaxGlobalRegions; i++ {
		pool := i % MaxPools
		if err := AddRegion(mem.Pa_t(uint64(i)*uint64(4*mem.PageSize)), 4*mem.PageSize, pool); err != nil {
			t.Fatalf("AddRegion(%d) failed: %v", i, err)
		}
	}

	if err := AddRegion(mem.Pa_t(uint64(MaxGlobalRegions)*uint64(4*mem.PageSize)), 4*mem.PageSize, 0); err == nil {
		t.Fatal("expected AddRegion to fail once global region storage is exhausted")
	}
}
