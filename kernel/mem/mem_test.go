package mem

import "testing"

func TestSizeToPages(t *testing.T) {
	specs := []struct {
		size     Size
		expPages uint64
	}{
		{1023 * Kb, 256},
		{1024 * Kb, 256},
		{1 * Byte, 1},
		{PageSize, 1},
		{PageSize + 1, 2},
	}

	for specIndex, spec := range specs {
		if got := spec.size.Pages(); got != spec.expPages {
			t.Errorf("[spec %d] expected Pages(%d bytes) to equal %d; got %d", specIndex, spec.size, spec.expPages, got)
		}
	}
}

func TestFrameAddress(t *testing.T) {
	f := Frame(2)
	if got, want := f.Address(), Pa_t(2*uint64(PageSize)); got != want {
		t.Errorf("expected frame address %d; got %d", want, got)
	}

	if Frame(3).IsValid() != true {
		t.Error("expected frame 3 to be valid")
	}
	if InvalidFrame.IsValid() {
		t.Error("expected InvalidFrame to be invalid")
	}
}

func TestPaRounding(t *testing.T) {
	addr := Pa_t(0x1001)
	if got, want := addr.RoundDown(), Pa_t(0x1000); got != want {
		t.Errorf("expected RoundDown() to equal %x; got %x", want, got)
	}
	if got, want := addr.RoundUp(), Pa_t(0x2000); got != want {
		t.Errorf("expected RoundUp() to equal %x; got %x", want, got)
	}
	if got, want := Pa_t(0x1000).RoundUp(), Pa_t(0x1000); got != want {
		t.Errorf("expected an already-aligned address to RoundUp() to itself; got %x want %x", got, want)
	}
	if got, want := addr.Offset(), uintptr(1); got != want {
		t.Errorf("expected offset %d; got %d", want, got)
	}
}

func TestCanonicalAddressChecks(t *testing.T) {
	specs := []struct {
		addr   uintptr
		wantOK bool
	}{
		{0x0000000000000000, true},
		{0x00007fffffffffff, true},
		{0x0000800000000000, false},
		{0xffff7fffffffffff, false},
		{0xffff800000000000, true},
		{0xffffffffffffffff, true},
	}

	for specIndex, spec := range specs {
		if got := IsCanonical(spec.addr); got != spec.wantOK {
			t.Errorf("[spec %d] IsCanonical(%#x) = %t; want %t", specIndex, spec.addr, got, spec.wantOK)
		}
	}

	if !IsKernelAddress(KernelSpaceBase) {
		t.Error("expected KernelSpaceBase to be a kernel address")
	}
	if IsKernelAddress(UserSpaceTop - 1) {
		t.Error("expected an address just below UserSpaceTop not to be a kernel address")
	}
	if !IsUserAddress(0) {
		t.Error("expected address 0 to be a user address")
	}
	if IsUserAddress(KernelSpaceBase) {
		t.Error("expected KernelSpaceBase not to be a user address")
	}
}
