// Package vmm is the page-table engine: it builds and walks 4-level
// amd64 page tables, installs the physical aperture into the first
// table it ever constructs, and propagates kernel mappings to every
// later address space by copying the upper half of the PML4.
package vmm

import (
	"unsafe"

	"ridge/kernel"
	"ridge/kernel/cpu"
	"ridge/kernel/kfmt"
	"ridge/kernel/mem"
	"ridge/kernel/mem/aperture"
	"ridge/kernel/mem/pmm"
	"ridge/kernel/vm"
)

var (
	// ErrNonCanonicalAddress is returned when MapPage is asked to map a
	// virtual address that fails the canonical-address check.
	ErrNonCanonicalAddress = &kernel.Error{Module: "vmm", Message: "virtual address is not canonical"}
	// ErrInvalidMapping is returned when a virtual address has no
	// mapping to resolve.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}
	errHugePageInWay  = &kernel.Error{Module: "vmm", Message: "intermediate table slot is occupied by a huge page"}
	errAllocFailed    = &kernel.Error{Module: "vmm", Message: "failed to allocate a page table frame"}

	// pmmPool is the pmm pool page tables draw their frames from. It is
	// a package variable, not a constant, so tests can point it at a
	// pool they control.
	pmmPool = 0

	// tablePtrFn resolves the kernel-virtual address of a paging
	// structure to a pointer to its 512 entries. It is a function
	// variable, not an inline unsafe.Pointer conversion, so tests can
	// back page tables with ordinary Go-allocated memory instead of a
	// real physical aperture.
	tablePtrFn = func(addr uintptr) unsafe.Pointer {
		return unsafe.Pointer(addr)
	}

	// writeCR3Fn loads a new PML4 physical address into CR3. Tests
	// override it to observe Activate without touching real control
	// registers.
	writeCR3Fn = cpu.WriteCR3

	// allocFrameFn allocates one physical frame for use as a paging
	// structure. Tests override it to hand out addresses backed by
	// ordinary Go memory instead of the real physical allocator.
	allocFrameFn = func() (mem.Pa_t, *kernel.Error) {
		return pmm.AllocPage(pmmPool)
	}

	// translateFn resolves a physical address to the kernel-virtual
	// address it can be read and written through. Tests override it
	// alongside allocFrameFn so the two agree on what a "physical"
	// address means.
	translateFn = aperture.Translate

	// freeFrameFn returns a single physical frame used as a paging
	// structure to the pool it came from. Tests override it alongside
	// allocFrameFn so the two agree on what a "physical" frame means.
	freeFrameFn = func(phys mem.Pa_t) *kernel.Error {
		addrs := [1]mem.Pa_t{phys}
		freed, err := pmm.FreePages(addrs[:], pmmPool)
		if err != nil {
			return err
		}
		if freed != 1 {
			return errFreeFailed
		}
		return nil
	}
)

// entry index shifts and masks for the four amd64 page table levels.
const (
	pml4Shift = 39
	pdptShift = 30
	pdtShift  = 21
	ptShift   = 12
	idxMask   = 0x1ff
)

// PageTable is one 4-level amd64 address space, identified by the
// physical address of its PML4.
type PageTable struct {
	pml4Phys mem.Pa_t
	noExec   bool
}

// New allocates a fresh PML4 and, when parent is non-nil, copies every
// entry of its upper half (kernel addresses, table indices 256-511) so
// the new address space inherits every kernel mapping including the
// physical aperture. It then attempts to install the aperture itself;
// on every call after the very first in the process this is a no-op —
// the aperture lives in exactly one PML4's upper half and every other
// table inherits it via the copy above.
func New(parent *PageTable, noExec bool) (*PageTable, *kernel.Error) {
	pml4, err := allocFrameFn()
	if err != nil {
		return nil, errAllocFailed
	}

	pt := &PageTable{pml4Phys: pml4, noExec: noExec}
	pt.zeroTable(pml4)

	if parent != nil {
		pt.copyPml4Upper(parent)
	}

	if err := aperture.Install(pt.pml4Phys, pt); err != nil && err != aperture.ErrAlreadyInstalled {
		return nil, err
	}

	return pt, nil
}

// copyPml4Upper copies PML4 entries [256, 512) — the kernel half of the
// address space — from parent into pt.
func (pt *PageTable) copyPml4Upper(parent *PageTable) {
	for i := 256; i < 512; i++ {
		val := pt.ReadTable(parent.pml4Phys, i)
		pt.WriteTable(pt.pml4Phys, i, val)
	}
}

// MapPage installs a single mapping of phys at virt under mode,
// allocating any intermediate PDPT, PDT or PT frames needed along the
// way. It implements vm.Mapper.
func (pt *PageTable) MapPage(phys mem.Pa_t, virt uintptr, mode vm.Mode) *kernel.Error {
	if !mem.IsCanonical(virt) {
		return ErrNonCanonicalAddress
	}

	v := uint64(virt) & 0x0000ffffffffffff

	pdptPhys, err := pt.stepOrAlloc(pt.pml4Phys, int((v>>pml4Shift)&idxMask), virt)
	if err != nil {
		return err
	}

	pdtPhys, err := pt.stepOrAlloc(pdptPhys, int((v>>pdptShift)&idxMask), virt)
	if err != nil {
		return err
	}

	ptPhys, err := pt.stepOrAlloc(pdtPhys, int((v>>pdtShift)&idxMask), virt)
	if err != nil {
		return err
	}

	var pte pageTableEntry
	pte.SetFlags(FlagPresent)
	if mode.IsWritable() {
		pte.SetFlags(FlagRW)
	}
	if mode.IsUser() {
		pte.SetFlags(FlagUserAccessible)
	}
	if pt.noExec && !mode.IsExecutable() {
		pte.SetFlags(FlagNoExecute)
	}
	pte.SetFrame(mem.FrameFromAddress(phys))

	pt.WriteTable(ptPhys, int((v>>ptShift)&idxMask), uint64(pte))
	return nil
}

// stepOrAlloc reads entry index of the table at tablePhys, allocating and
// wiring a fresh child table if the slot is empty. virt is only consulted
// to decide whether the new intermediate table should be marked user
// accessible: any table below the kernel split is left open to user-mode
// lookups, the same way the leaf entry's own flags — not the
// intermediate tables' — are what actually gate access.
func (pt *PageTable) stepOrAlloc(tablePhys mem.Pa_t, index int, virt uintptr) (mem.Pa_t, *kernel.Error) {
	e := pageTableEntry(pt.ReadTable(tablePhys, index))

	if e.HasFlags(FlagPresent) {
		if e.HasFlags(FlagHugePage) {
			return 0, errHugePageInWay
		}
		return e.Frame().Address(), nil
	}

	child, err := allocFrameFn()
	if err != nil {
		return 0, errAllocFailed
	}
	pt.zeroTable(child)

	var entry pageTableEntry
	entry.SetFlags(FlagPresent | FlagRW)
	if virt < mem.KernelSpaceBase {
		entry.SetFlags(FlagUserAccessible)
	}
	entry.SetFrame(mem.FrameFromAddress(child))

	pt.WriteTable(tablePhys, index, uint64(entry))
	return child, nil
}

// AllocTablePage implements aperture.TableWriter: it hands out a fresh,
// zeroed physical frame for use as a paging structure.
func (pt *PageTable) AllocTablePage() (mem.Pa_t, *kernel.Error) {
	frame, err := allocFrameFn()
	if err != nil {
		return 0, errAllocFailed
	}
	pt.zeroTable(frame)
	return frame, nil
}

// WriteEntry implements aperture.TableWriter.
func (pt *PageTable) WriteEntry(tablePhys mem.Pa_t, index int, val uint64) {
	pt.WriteTable(tablePhys, index, val)
}

// NoExecuteSupported implements aperture.TableWriter.
func (pt *PageTable) NoExecuteSupported() bool {
	return pt.noExec
}

// ReadTable reads the entry at index of the table located at tablePhys.
func (pt *PageTable) ReadTable(tablePhys mem.Pa_t, index int) uint64 {
	slot := (*[512]uint64)(tablePtrFn(pt.vmAddr(tablePhys)))
	return slot[index]
}

// WriteTable writes val to the entry at index of the table located at
// tablePhys.
func (pt *PageTable) WriteTable(tablePhys mem.Pa_t, index int, val uint64) {
	slot := (*[512]uint64)(tablePtrFn(pt.vmAddr(tablePhys)))
	slot[index] = val
}

// zeroTable clears every entry of the table located at phys. Freshly
// allocated frames must never be interpreted as page tables with garbage
// present bits.
func (pt *PageTable) zeroTable(phys mem.Pa_t) {
	slot := (*[512]uint64)(tablePtrFn(pt.vmAddr(phys)))
	for i := range slot {
		slot[i] = 0
	}
}

// vmAddr resolves the physical address of a paging structure to the
// kernel-virtual address it can be read and written through, via the
// physical aperture.
func (pt *PageTable) vmAddr(phys mem.Pa_t) uintptr {
	v, err := translateFn(phys)
	if err != nil {
		kfmt.Panic(err)
	}
	return v
}

// Activate loads this table's PML4 into CR3, making it the active address
// space on the current CPU.
func (pt *PageTable) Activate() {
	writeCR3Fn(uintptr(pt.pml4Phys))
}

// Lookup walks the table to find the physical frame virt currently maps
// to, without modifying anything.
func (pt *PageTable) Lookup(virt uintptr) (mem.Pa_t, *kernel.Error) {
	if !mem.IsCanonical(virt) {
		return 0, ErrNonCanonicalAddress
	}
	v := uint64(virt) & 0x0000ffffffffffff

	table := pt.pml4Phys
	for _, shift := range [...]uint{pml4Shift, pdptShift, pdtShift} {
		idx := int((v >> shift) & idxMask)
		e := pageTableEntry(pt.ReadTable(table, idx))
		if !e.HasFlags(FlagPresent) {
			return 0, ErrInvalidMapping
		}
		table = e.Frame().Address()
	}

	e := pageTableEntry(pt.ReadTable(table, int((v>>ptShift)&idxMask)))
	if !e.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}
	return e.Frame().Address(), nil
}

// errFreeFailed is returned when freeing a table frame back to the pmm
// pool does not recognize the address as one it owns, which would mean
// the page-table engine's own bookkeeping disagrees with the allocator's.
var errFreeFailed = &kernel.Error{Module: "vmm", Message: "failed to free a page table frame"}

// Destroy walks every non-leaf table below the kernel split (PML4
// indices 0-255) and frees it, then frees the PML4 itself. It never
// descends into the upper half: PML4 indices 256-511 are copied, not
// owned, by every table but the one that first installed them, and
// freeing a shared kernel table out from under a sibling address space
// would corrupt every other table still using it. Frames mapped as
// leaves (ordinary 4 KiB pages, or 2/1 GiB huge pages) are data, not
// page-table structure, and are left untouched — whatever allocated them
// owns freeing them.
func (pt *PageTable) Destroy() *kernel.Error {
	for i := 0; i < 256; i++ {
		e := pageTableEntry(pt.ReadTable(pt.pml4Phys, i))
		if !e.HasFlags(FlagPresent) {
			continue
		}
		if err := pt.destroyPDPT(e.Frame().Address()); err != nil {
			return err
		}
	}
	return pt.freeTable(pt.pml4Phys)
}

// destroyPDPT frees every PDT a PDPT's entries reference, then frees the
// PDPT itself. A PDPT entry marked FlagHugePage is a 1 GiB leaf mapping,
// not a pointer to a PDT, and is skipped.
func (pt *PageTable) destroyPDPT(phys mem.Pa_t) *kernel.Error {
	for i := 0; i < 512; i++ {
		e := pageTableEntry(pt.ReadTable(phys, i))
		if !e.HasFlags(FlagPresent) || e.HasFlags(FlagHugePage) {
			continue
		}
		if err := pt.destroyPDT(e.Frame().Address()); err != nil {
			return err
		}
	}
	return pt.freeTable(phys)
}

// destroyPDT frees every PT a PDT's entries reference, then frees the PDT
// itself. A PDT entry marked FlagHugePage is a 2 MiB leaf mapping and is
// skipped; a PT's own entries are always leaves (4 KiB data pages), so
// the PT is freed directly with no further recursion.
func (pt *PageTable) destroyPDT(phys mem.Pa_t) *kernel.Error {
	for i := 0; i < 512; i++ {
		e := pageTableEntry(pt.ReadTable(phys, i))
		if !e.HasFlags(FlagPresent) || e.HasFlags(FlagHugePage) {
			continue
		}
		if err := pt.freeTable(e.Frame().Address()); err != nil {
			return err
		}
	}
	return pt.freeTable(phys)
}

// freeTable returns a single page-table-structure frame to the pool it
// was allocated from.
func (pt *PageTable) freeTable(phys mem.Pa_t) *kernel.Error {
	return freeFrameFn(phys)
}
