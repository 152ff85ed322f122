package pmm

import (
	"testing"
	"unsafe"

	"ridge/kernel/mem"
)

func newTestRegion(t *testing.T, backing []byte, base mem.Pa_t, length mem.Size) *Region {
	t.Helper()

	r := new(Region)
	if err := InitRegion(r, base, length); err != nil {
		t.Fatalf("InitRegion(%#x, %d) failed: %v", base, length, err)
	}
	return r
}

func TestPoolAllocAcrossRegions(t *testing.T) {
	const regionSize = 8 * mem.PageSize
	buf := make([]byte, 2*int(regionSize))
	base := uintptr(unsafe.Pointer(&buf[0]))

	orig := physToVirt
	physToVirt = func(p mem.Pa_t) uintptr { return base + uintptr(p) }
	t.Cleanup(func() { physToVirt = orig })

	var pool Pool
	r1 := newTestRegion(t, buf, 0, regionSize)
	r2 := newTestRegion(t, buf, mem.Pa_t(regionSize), regionSize)

	if err := pool.AddRegion(r1); err != nil {
		t.Fatalf("AddRegion(r1) failed: %v", err)
	}
	if err := pool.AddRegion(r2); err != nil {
		t.Fatalf("AddRegion(r2) failed: %v", err)
	}

	total, allocated := pool.Stats()
	if allocated != 0 {
		t.Fatalf("expected a fresh pool to report 0 allocated pages; got %d", allocated)
	}

	// Request more pages than the first region alone can satisfy, forcing
	// the pool to draw from both regions.
	want := r1.allocatable + 3
	out := make([]mem.Pa_t, want)
	got := pool.Alloc(out)
	if got != want {
		t.Fatalf("expected to allocate %d pages across regions; got %d", want, got)
	}

	_, allocated = pool.Stats()
	if allocated != want {
		t.Errorf("expected Stats() to report %d allocated pages; got %d", want, allocated)
	}

	if freed := pool.Free(out); freed != want {
		t.Errorf("expected to free %d pages; got %d", want, freed)
	}

	_, allocated = pool.Stats()
	if allocated != 0 {
		t.Errorf("expected all pages freed; got %d still allocated", allocated)
	}

	if total != r1.allocatable+r2.allocatable {
		t.Errorf("expected total pages %d; got %d", r1.allocatable+r2.allocatable, total)
	}
}

func TestPoolAllocReturnsPartialCountOnExhaustion(t *testing.T) {
	const regionSize = 4 * mem.PageSize
	buf := make([]byte, int(regionSize))
	base := uintptr(unsafe.Pointer(&buf[0]))

	orig := physToVirt
	physToVirt = func(p mem.Pa_t) uintptr { return base + uintptr(p) }
	t.Cleanup(func() { physToVirt = orig })

	var pool Pool
	r := newTestRegion(t, buf, 0, regionSize)
	if err := pool.AddRegion(r); err != nil {
		t.Fatalf("AddRegion failed: %v", err)
	}

	out := make([]mem.Pa_t, r.allocatable+1)
	got := pool.Alloc(out)
	if got != r.allocatable {
		t.Fatalf("expected exhaustion to return the partial count %d; got %d", r.allocatable, got)
	}

	_, allocated := pool.Stats()
	if allocated != r.allocatable {
		t.Errorf("expected Stats() to count the partial allocation; got %d", allocated)
	}

	if freed := pool.Free(out[:got]); freed != got {
		t.Errorf("expected every page placed by the partial allocation to be freeable; freed %d of %d", freed, got)
	}
}

func TestPoolFull(t *testing.T) {
	buf := make([]byte, MaxRegionsPerPool*int(4*mem.PageSize))
	base := uintptr(unsafe.Pointer(&buf[0]))

	orig := physToVirt
	physToVirt = func(p mem.Pa_t) uintptr { return base + uintptr(p) }
	t.Cleanup(func() { physToVirt = orig })

	var pool Pool
	for i := 0; i < MaxRegionsPerPool; i++ {
		r := newTestRegion(t, buf, mem.Pa_t(uint64(i)*uint64(4*mem.PageSize)), 4*mem.PageSize)
		if err := pool.AddRegion(r); err != nil {
			t.Fatalf("AddRegion(%d) failed: %v", i, err)
		}
	}

	extra := newTestRegion(t, buf, mem.Pa_t(uint64(MaxRegionsPerPool)*uint64(4*mem.PageSize)), 4*mem.PageSize)
	if err := pool.AddRegion(extra); err == nil {
		t.Fatal("expected AddRegion to fail once the pool is full")
	}
}
