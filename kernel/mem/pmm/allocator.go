package pmm

import (
	"ridge/kernel"
	"ridge/kernel/mem"
)

// MaxPools bounds the number of allocation policy domains the allocator
// can host; MaxGlobalRegions bounds how many Regions can exist across all
// of them combined, since every Region is preallocated out of a fixed
// array rather than the heap.
const (
	MaxPools         = 8
	MaxGlobalRegions = 48
)

var (
	errAllocatorAlreadyInit = &kernel.Error{Module: "pmm", Message: "allocator already initialized"}
	errInvalidPool          = &kernel.Error{Module: "pmm", Message: "invalid pool index"}
	errNoRegionSlots        = &kernel.Error{Module: "pmm", Message: "region buffer exhausted"}
	errTooManyPools         = &kernel.Error{Module: "pmm", Message: "requested more pools than the allocator supports"}
	errPoolExhausted        = &kernel.Error{Module: "pmm", Message: "pool has no free pages left"}
)

// Allocator is the process-wide physical page allocator. It owns a fixed
// set of Pools, each backed by Regions drawn from a single global array of
// preallocated Region storage, and lives as a single static instance
// because nothing exists yet to dynamically allocate one this early in
// boot.
type Allocator struct {
	pools    [MaxPools]Pool
	numPools int

	regionStorage  [MaxGlobalRegions]Region
	regionNextFree int

	initialized bool
}

// shared is the singleton allocator instance; it lives in the package's
// .bss, not on the heap.
var shared Allocator

// Init prepares the shared allocator with a default pool (index 0) plus
// extraPools additional, empty pools that callers can direct AddRegion at
// to separate memory by policy (e.g. a DMA-capable pool kept apart from
// general-purpose memory). It must be called exactly once, before any
// region is added.
func Init(extraPools int) *kernel.Error {
	if shared.initialized {
		return errAllocatorAlreadyInit
	}
	if 1+extraPools > MaxPools {
		return errTooManyPools
	}

	shared.numPools = 1 + extraPools
	shared.initialized = true
	return nil
}

// AddRegion registers a new region of physical memory, [base, base+length),
// with the pool at the given index.
func AddRegion(base mem.Pa_t, length mem.Size, pool int) *kernel.Error {
	if pool < 0 || pool >= shared.numPools {
		return errInvalidPool
	}
	if shared.regionNextFree >= MaxGlobalRegions {
		return errNoRegionSlots
	}

	r := &shared.regionStorage[shared.regionNextFree]
	if err := InitRegion(r, base, length); err != nil {
		return err
	}
	shared.regionNextFree++

	return shared.pools[pool].AddRegion(r)
}

// AllocPages fills outAddrs with up to len(outAddrs) newly allocated
// physical page addresses from the given pool, returning how many were
// actually allocated. The caller owns outAddrs; nothing here allocates.
func AllocPages(outAddrs []mem.Pa_t, pool int) (uint64, *kernel.Error) {
	if pool < 0 || pool >= shared.numPools {
		return 0, errInvalidPool
	}

	return shared.pools[pool].Alloc(outAddrs), nil
}

// AllocPage allocates a single physical page from the given pool.
func AllocPage(pool int) (mem.Pa_t, *kernel.Error) {
	var addr [1]mem.Pa_t
	n, err := AllocPages(addr[:], pool)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errPoolExhausted
	}
	return addr[0], nil
}

// PoolAllocator adapts a single pool index to vm.FrameAllocator, so a
// Space can source on-demand frames without the pmm package needing to
// import kernel/vm to satisfy its interface.
type PoolAllocator int

// AllocPage allocates a single physical page from the pool p identifies.
func (p PoolAllocator) AllocPage() (mem.Pa_t, *kernel.Error) {
	return AllocPage(int(p))
}

// FreePages releases every address in inAddrs back to the given pool,
// returning how many were recognized and released.
func FreePages(inAddrs []mem.Pa_t, pool int) (uint64, *kernel.Error) {
	if pool < 0 || pool >= shared.numPools {
		return 0, errInvalidPool
	}

	return shared.pools[pool].Free(inAddrs), nil
}

// PoolStats reports the total and currently-allocated page counts for the
// given pool.
func PoolStats(pool int) (total, allocated uint64, err *kernel.Error) {
	if pool < 0 || pool >= shared.numPools {
		return 0, 0, errInvalidPool
	}
	total, allocated = shared.pools[pool].Stats()
	return total, allocated, nil
}

// reset restores the shared allocator to its zero state. It exists only
// so package tests can run independently of one another; production code
// never calls it.
func reset() {
	shared = Allocator{}
}
