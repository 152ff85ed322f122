package vm

import (
	"ridge/kernel"
	"ridge/kernel/mem"
)

var errNoCoveringEntry = &kernel.Error{Module: "vm", Message: "faulting address is not covered by any map entry"}

// Space is one address space's set of installed map entries: the record
// HandleFault consults to decide what, if anything, belongs at a
// faulting virtual address.
type Space struct {
	mapper  Mapper
	alloc   FrameAllocator
	entries []Entry
}

// NewSpace creates an empty address space that installs mappings through
// m and sources frames for on-demand entries from alloc.
func NewSpace(m Mapper, alloc FrameAllocator) *Space {
	return &Space{mapper: m, alloc: alloc}
}

// Add installs e into the space immediately and records its range so a
// later fault within it can be resolved.
func (s *Space) Add(e Entry) *kernel.Error {
	if err := e.AddTo(s.mapper, s.alloc); err != nil {
		return err
	}
	s.entries = append(s.entries, e)
	return nil
}

// find returns the entry covering addr, or nil if none does.
func (s *Space) find(addr uintptr) *Entry {
	for i := range s.entries {
		e := &s.entries[i]
		if addr >= e.Base && addr < e.Base+uintptr(e.Length) {
			return e
		}
	}
	return nil
}

// HandleFault is the VM manager's half of the page-fault dataflow: given
// the faulting address read out of the CPU's fault-address register, it
// finds the entry that claims to cover it and (re)installs the single
// page at that address. An address not covered by any entry is not this
// space's problem to fix; the caller is expected to escalate to a panic.
func (s *Space) HandleFault(addr uintptr) *kernel.Error {
	e := s.find(addr)
	if e == nil {
		return errNoCoveringEntry
	}

	pageBase := addr &^ uintptr(mem.PageSize-1)

	switch e.Kind {
	case KindContiguousPhys:
		off := mem.Pa_t(pageBase - e.Base)
		return s.mapper.MapPage(e.PhysBase+off, pageBase, e.Mode)
	case KindAnonymous:
		frame, err := s.alloc.AllocPage()
		if err != nil {
			return err
		}
		return s.mapper.MapPage(frame, pageBase, e.Mode)
	default:
		return errFileBackedUnsupported
	}
}
