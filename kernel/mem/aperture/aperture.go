// Package aperture implements the kernel's physical aperture: a
// permanent, 2 TiB direct map of all physical memory into the
// kernel-virtual window starting at mem.ApertureBase, built out of 1 GiB
// pages so that any physical address can be read or written with a
// single addition, with no page fault and no dedicated mapping call. It
// is installed once, into the first page table the kernel constructs,
// and every later address space inherits it unmodified because the
// page-table engine copies the upper half of the PML4 into every child
// table it builds.
package aperture

import (
	"sync/atomic"

	"ridge/kernel"
	"ridge/kernel/mem"
)

var (
	// ErrAlreadyInstalled is returned by every Install call after the
	// first. Callers that build a fresh PageTable for every new address
	// space are expected to call Install unconditionally and ignore this
	// particular error — the aperture only needs to exist once.
	ErrAlreadyInstalled = &kernel.Error{Module: "aperture", Message: "physical aperture already installed"}

	errAllocFailed    = &kernel.Error{Module: "aperture", Message: "failed to allocate a page table for the aperture"}
	errEarlyBootRange = &kernel.Error{Module: "aperture", Message: "address out of range for the early-boot identity map"}
	errOutOfRange     = &kernel.Error{Module: "aperture", Message: "address out of range of the physical aperture"}
)

// earlyBootLimit bounds the identity map relied upon before the aperture
// exists: the bootloader's first 4 GiB are always identity-mapped.
const earlyBootLimit = mem.Pa_t(4 * uint64(mem.Gb))

// pdptCount is the number of page-directory-pointer tables needed to
// cover mem.ApertureSize using 1 GiB pages, 512 per table.
const pdptCount = uint64(mem.ApertureSize) / (512 * uint64(mem.LargePageSize))

// entryFlags are the PDPT entry bits common to every aperture mapping:
// present, writable, global (shared across every address space) and
// huge-page.
const (
	entryPresent  = 1 << 0
	entryWritable = 1 << 1
	entryHuge     = 1 << 7
	entryGlobal   = 1 << 8
	entryNX       = 1 << 63
)

// earlyBoot is true until EndEarlyBoot is called, gating Translate between
// the bootloader's identity map and the real aperture.
var earlyBoot int32 = 1

// installed guards Install so the aperture is only ever built once, no
// matter how many page tables race to be the first.
var installed int32

// EndEarlyBoot switches Translate over from the bootloader's identity map
// to the aperture. It must only be called after Install has completed.
func EndEarlyBoot() {
	atomic.StoreInt32(&earlyBoot, 0)
}

// Translate returns the kernel-virtual address at which phys can be
// accessed. Before the aperture is installed this is the identity
// function restricted to the bootloader's identity-mapped low memory;
// afterwards it is phys plus mem.ApertureBase.
func Translate(phys mem.Pa_t) (uintptr, *kernel.Error) {
	if atomic.LoadInt32(&earlyBoot) != 0 {
		if phys >= earlyBootLimit {
			return 0, errEarlyBootRange
		}
		return uintptr(phys), nil
	}

	if mem.Size(phys) >= mem.ApertureSize-mem.PageSize {
		return 0, errOutOfRange
	}
	return mem.ApertureBase + uintptr(phys), nil
}

// TableWriter is the set of low-level primitives the page-table engine
// exposes so Install can allocate and populate page-directory-pointer
// tables without this package importing the engine (which in turn depends
// on the aperture to address the tables it walks).
type TableWriter interface {
	// AllocTablePage allocates one physical frame to hold a page table
	// and returns its physical address.
	AllocTablePage() (mem.Pa_t, *kernel.Error)
	// WriteEntry stores val at slot index of the table located at
	// tablePhys.
	WriteEntry(tablePhys mem.Pa_t, index int, val uint64)
	// NoExecuteSupported reports whether the NX bit may be set; some
	// early CPUs or hypervisors lack it.
	NoExecuteSupported() bool
}

// Install builds the aperture's page-directory-pointer tables and wires
// them into pml4Phys at slots 256..256+pdptCount-1, covering the
// kernel-high half of address space. It is a no-op, returning
// ErrAlreadyInstalled, on every call after the first: exactly one page
// table in the system ends up owning the only copy of these mappings,
// and every later page table inherits them by copying the upper half of
// this PML4. Callers should compare the returned error against
// ErrAlreadyInstalled and treat it as success.
func Install(pml4Phys mem.Pa_t, w TableWriter) *kernel.Error {
	if !atomic.CompareAndSwapInt32(&installed, 0, 1) {
		return ErrAlreadyInstalled
	}

	nx := uint64(0)
	if w.NoExecuteSupported() {
		nx = entryNX
	}

	for i := uint64(0); i < pdptCount; i++ {
		pdpt, err := w.AllocTablePage()
		if err != nil {
			return errAllocFailed
		}

		physBase := i * 512 * uint64(mem.LargePageSize)
		for j := 0; j < 512; j++ {
			val := physBase + uint64(j)*uint64(mem.LargePageSize)
			val |= entryPresent | entryWritable | entryHuge | entryGlobal | nx
			w.WriteEntry(pdpt, j, val)
		}

		pml4e := uint64(pdpt) | entryPresent | entryWritable | nx
		w.WriteEntry(pml4Phys, 256+int(i), pml4e)
	}

	return nil
}

// Reset clears the installed and early-boot latches. It exists only for
// tests, which otherwise could not exercise Install more than once per
// process.
func Reset() {
	atomic.StoreInt32(&installed, 0)
	atomic.StoreInt32(&earlyBoot, 1)
}
