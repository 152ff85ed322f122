// Package vm defines the map entry types that describe a region of an
// address space: what backs it (a fixed physical range, anonymous
// allocator-supplied memory, or a file), where it sits, and under what Mode it may
// be accessed. It is kept separate from kernel/mem/vmm (the page-table
// engine that actually installs these mappings) so the two can depend on
// each other through a single narrow interface instead of the C++ source
// this is grounded on, where every entry subclassed a common MapEntry
// and called back into the page table directly.
package vm

import (
	"ridge/kernel"
	"ridge/kernel/mem"
)

// Kind discriminates the closed set of backings a map entry can have.
type Kind uint8

const (
	// KindContiguousPhys backs the entry with a fixed, already-allocated
	// physical range — the only kind spec'd for this kernel's own use
	// (device MMIO, identity-style kernel mappings).
	KindContiguousPhys Kind = iota
	// KindAnonymous backs the entry with frames from a FrameAllocator,
	// for heap/stack memory: AddTo allocates and maps every page up
	// front, and Space.HandleFault maps a fresh frame for a faulting
	// page. The frames are mapped as the allocator returns them; nothing
	// in this package zeroes them.
	KindAnonymous
	// KindFileBacked backs the entry with the contents of a file.
	// Mapping one is rejected: this kernel has no filesystem layer.
	KindFileBacked
)

var (
	errFileBackedUnsupported = &kernel.Error{Module: "vm", Message: "file-backed mappings require a filesystem layer, which is out of scope"}
	errZeroLength             = &kernel.Error{Module: "vm", Message: "map entry has zero length"}
	errMisalignedBase         = &kernel.Error{Module: "vm", Message: "map entry base is not page-aligned"}
)

// Mapper is the page-table engine operation an Entry needs in order to
// install itself: mapping one physical frame at one virtual address under
// one Mode. kernel/mem/vmm.PageTable implements this.
type Mapper interface {
	MapPage(phys mem.Pa_t, virt uintptr, mode Mode) *kernel.Error
}

// FrameAllocator is the allocation operation KindAnonymous entries need in
// order to back themselves with real memory on installation.
type FrameAllocator interface {
	AllocPage() (mem.Pa_t, *kernel.Error)
}

// Entry describes one mapping to be installed into an address space. It
// is a closed tagged union: Kind selects which of PhysBase (for
// KindContiguousPhys) or nothing further (for KindAnonymous, which
// takes its frames from a FrameAllocator) is meaningful. Go has no sum type, so the
// discriminant is explicit instead of being encoded in the type system
// via inheritance.
type Entry struct {
	Kind   Kind
	Base   uintptr
	Length mem.Size
	Mode   Mode

	// PhysBase is the physical address this entry maps to. Only
	// meaningful when Kind == KindContiguousPhys.
	PhysBase mem.Pa_t
}

// NewContiguousPhysRegion describes a fixed mapping of [physBase,
// physBase+length) at virtual address base.
func NewContiguousPhysRegion(base uintptr, physBase mem.Pa_t, length mem.Size, mode Mode) Entry {
	return Entry{Kind: KindContiguousPhys, Base: base, Length: length, Mode: mode, PhysBase: physBase}
}

// NewAnonymous describes length bytes of allocator-backed memory starting
// at virtual address base. The frames are not zeroed.
func NewAnonymous(base uintptr, length mem.Size, mode Mode) Entry {
	return Entry{Kind: KindAnonymous, Base: base, Length: length, Mode: mode}
}

// validate checks the invariants common to every kind of entry.
func (e *Entry) validate() *kernel.Error {
	if e.Length == 0 {
		return errZeroLength
	}
	if e.Base&uintptr(mem.PageSize-1) != 0 {
		return errMisalignedBase
	}
	return nil
}

// AddTo installs every page of the entry into m, using alloc to source
// fresh frames for kinds that need them. It returns the first error
// encountered, having already mapped any pages before the failure — the
// caller is expected to tear down the whole address space on error rather
// than unwind a partially built entry page by page.
func (e *Entry) AddTo(m Mapper, alloc FrameAllocator) *kernel.Error {
	if err := e.validate(); err != nil {
		return err
	}

	switch e.Kind {
	case KindContiguousPhys:
		return e.addContiguousPhys(m)
	case KindAnonymous:
		return e.addAnonymous(m, alloc)
	case KindFileBacked:
		return errFileBackedUnsupported
	default:
		return errFileBackedUnsupported
	}
}

func (e *Entry) addContiguousPhys(m Mapper) *kernel.Error {
	pages := e.Length.Pages()
	for i := uint64(0); i < pages; i++ {
		off := mem.Pa_t(i * uint64(mem.PageSize))
		virt := e.Base + uintptr(i*uint64(mem.PageSize))
		if err := m.MapPage(e.PhysBase+off, virt, e.Mode); err != nil {
			return err
		}
	}
	return nil
}

func (e *Entry) addAnonymous(m Mapper, alloc FrameAllocator) *kernel.Error {
	pages := e.Length.Pages()
	for i := uint64(0); i < pages; i++ {
		frame, err := alloc.AllocPage()
		if err != nil {
			return err
		}
		virt := e.Base + uintptr(i*uint64(mem.PageSize))
		if err := m.MapPage(frame, virt, e.Mode); err != nil {
			return err
		}
	}
	return nil
}
