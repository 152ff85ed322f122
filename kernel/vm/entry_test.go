package vm

import (
	"testing"

	"ridge/kernel"
	"ridge/kernel/mem"
)

type recordedMapping struct {
	phys mem.Pa_t
	virt uintptr
	mode Mode
}

type fakeMapper struct {
	mappings []recordedMapping
	failAt   int
}

func (m *fakeMapper) MapPage(phys mem.Pa_t, virt uintptr, mode Mode) *kernel.Error {
	if m.failAt > 0 && len(m.mappings) == m.failAt {
		return &kernel.Error{Module: "vm", Message: "injected failure"}
	}
	m.mappings = append(m.mappings, recordedMapping{phys, virt, mode})
	return nil
}

type fakeAllocator struct {
	next mem.Pa_t
}

func (a *fakeAllocator) AllocPage() (mem.Pa_t, *kernel.Error) {
	f := a.next
	a.next += mem.Pa_t(mem.PageSize)
	return f, nil
}

func TestEntryValidation(t *testing.T) {
	e := NewContiguousPhysRegion(1, 0, mem.PageSize, KernelR)
	if err := e.validate(); err == nil {
		t.Fatal("expected misaligned base to be rejected")
	}

	e = NewContiguousPhysRegion(0, 0, 0, KernelR)
	if err := e.validate(); err == nil {
		t.Fatal("expected zero length to be rejected")
	}
}

func TestAddContiguousPhysRegion(t *testing.T) {
	e := NewContiguousPhysRegion(0x1000, 0x2000, 3*mem.PageSize, KernelRW)
	m := &fakeMapper{}

	if err := e.AddTo(m, nil); err != nil {
		t.Fatalf("AddTo failed: %v", err)
	}

	if len(m.mappings) != 3 {
		t.Fatalf("expected 3 pages mapped; got %d", len(m.mappings))
	}
	for i, mapping := range m.mappings {
		wantVirt := uintptr(0x1000) + uintptr(i)*uintptr(mem.PageSize)
		wantPhys := mem.Pa_t(0x2000) + mem.Pa_t(i)*mem.Pa_t(mem.PageSize)
		if mapping.virt != wantVirt || mapping.phys != wantPhys || mapping.mode != KernelRW {
			t.Errorf("[page %d] unexpected mapping %+v", i, mapping)
		}
	}
}

func TestAddAnonymousAllocatesEachPage(t *testing.T) {
	e := NewAnonymous(0x4000, 2*mem.PageSize, UserRW)
	m := &fakeMapper{}
	a := &fakeAllocator{next: 0x8000}

	if err := e.AddTo(m, a); err != nil {
		t.Fatalf("AddTo failed: %v", err)
	}

	if len(m.mappings) != 2 {
		t.Fatalf("expected 2 pages mapped; got %d", len(m.mappings))
	}
	if m.mappings[0].phys == m.mappings[1].phys {
		t.Error("expected each anonymous page to get a distinct frame")
	}
}

func TestAddContiguousPhysRegionStopsOnFirstFailure(t *testing.T) {
	e := NewContiguousPhysRegion(0x1000, 0x2000, 4*mem.PageSize, KernelR)
	m := &fakeMapper{failAt: 2}

	if err := e.AddTo(m, nil); err == nil {
		t.Fatal("expected AddTo to surface the mapper's failure")
	}
	if len(m.mappings) != 2 {
		t.Fatalf("expected exactly 2 pages mapped before the failure; got %d", len(m.mappings))
	}
}

func TestFileBackedRejected(t *testing.T) {
	e := Entry{Kind: KindFileBacked, Base: 0x1000, Length: mem.PageSize, Mode: KernelR}
	if err := e.AddTo(&fakeMapper{}, nil); err == nil {
		t.Fatal("expected file-backed entries to be rejected")
	}
}

func TestModeHelpers(t *testing.T) {
	if KernelR.IsUser() || KernelRW.IsUser() || KernelRX.IsUser() {
		t.Error("expected kernel modes to report IsUser() == false")
	}
	if !UserR.IsUser() || !UserRW.IsUser() || !UserRX.IsUser() {
		t.Error("expected user modes to report IsUser() == true")
	}
	if !KernelRW.IsWritable() || !UserRW.IsWritable() {
		t.Error("expected RW modes to report IsWritable() == true")
	}
	if KernelR.IsWritable() || KernelRX.IsWritable() {
		t.Error("expected R/RX modes to report IsWritable() == false")
	}
	if !KernelRX.IsExecutable() || !UserRX.IsExecutable() {
		t.Error("expected RX modes to report IsExecutable() == true")
	}
}
