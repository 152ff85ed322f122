package except

import (
	"testing"

	"ridge/kernel/irq"
	"ridge/kernel/kfmt"
)

type recordingHandler struct {
	kind Kind
	f    *irq.Frame
	r    *irq.Regs
	n    int
}

func (h *recordingHandler) Dispatch(kind Kind, f *irq.Frame, r *irq.Regs) {
	h.kind = kind
	h.f = f
	h.r = r
	h.n++
}

func withHandler(t *testing.T, h Handler) {
	orig := taskHandler
	taskHandler = h
	t.Cleanup(func() { taskHandler = orig })
}

func TestDispatchForwardsClassifiedKind(t *testing.T) {
	h := &recordingHandler{}
	withHandler(t, h)

	f := &irq.Frame{RIP: 0x1234}
	r := &irq.Regs{RAX: 1}
	dispatch(irq.DivideByZero, f, r)

	if h.n != 1 {
		t.Fatalf("expected one dispatch; got %d", h.n)
	}
	if h.kind != DivideByZero {
		t.Fatalf("expected DivideByZero; got %v", h.kind)
	}
	if h.f != f || h.r != r {
		t.Fatal("expected the handler to receive the same frame and regs pointers")
	}
}

func TestDispatchMapsBoundRangeAndOverflowToSameKind(t *testing.T) {
	h := &recordingHandler{}
	withHandler(t, h)

	dispatch(irq.BoundRangeExceeded, &irq.Frame{}, &irq.Regs{})
	if h.kind != Overflow {
		t.Fatalf("expected bound-range-exceeded to classify as Overflow; got %v", h.kind)
	}
}

func TestDispatchPanicsWithoutAHandlerInstalled(t *testing.T) {
	withHandler(t, nil)

	haltCount := 0
	kfmt.SetHaltFn(func() { haltCount++ })
	t.Cleanup(func() {
		kfmt.SetHaltFn(func() {
			for {
			}
		})
	})

	dispatch(irq.GPFException, &irq.Frame{}, &irq.Regs{})

	if haltCount != 1 {
		t.Fatalf("expected an unhandled exception to reach kfmt.Panic once; got %d halts", haltCount)
	}
}

func TestKindStringCoversEveryDefinedKind(t *testing.T) {
	kinds := []Kind{DivideByZero, Overflow, FloatingPoint, SIMD, InvalidOpcode, ProtectionFault, AlignmentFault, DebugBreakpoint}
	seen := map[string]bool{}
	for _, k := range kinds {
		s := k.String()
		if s == "unknown" {
			t.Fatalf("expected a named string for %d", k)
		}
		if seen[s] {
			t.Fatalf("duplicate Kind string %q", s)
		}
		seen[s] = true
	}
}

func TestVectorKindExcludesSpeciallyRoutedVectors(t *testing.T) {
	for _, v := range []irq.ExceptionNum{irq.PageFaultException, irq.NMI, irq.MachineCheck, irq.DoubleFault} {
		if _, ok := vectorKind[v]; ok {
			t.Fatalf("vector %d should not be classified through the task-exception facility", v)
		}
	}
}
