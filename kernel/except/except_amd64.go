// Package except is the seam between the trap dispatcher and the task
// scheduler: it classifies each architectural exception into a small
// closed set of kinds and forwards the faulting task's registers to a
// single registered Handler, which decides whether to resume the task
// or escalate. It owns no scheduling state of its own — the scheduler
// lives entirely outside this module's scope.
package except

import (
	"ridge/kernel/irq"
	"ridge/kernel/kfmt"
)

// Kind collapses the 32 architectural exception vectors into the
// classes a task-exception handler actually needs to distinguish.
type Kind uint8

const (
	DivideByZero Kind = iota
	Overflow
	FloatingPoint
	SIMD
	InvalidOpcode
	ProtectionFault
	AlignmentFault
	DebugBreakpoint
)

func (k Kind) String() string {
	switch k {
	case DivideByZero:
		return "DivideByZero"
	case Overflow:
		return "Overflow"
	case FloatingPoint:
		return "FloatingPoint"
	case SIMD:
		return "SIMD"
	case InvalidOpcode:
		return "InvalidOpcode"
	case ProtectionFault:
		return "ProtectionFault"
	case AlignmentFault:
		return "AlignmentFault"
	case DebugBreakpoint:
		return "DebugBreakpoint"
	default:
		return "unknown"
	}
}

// vectorKind maps each vector this package forwards to its Kind. Page
// faults are deliberately absent: they are routed directly to the VM
// manager by vm.InstallFaultHandler, never through this facility. NMI, machine
// check and double fault are also absent — they always panic and never
// reach a task handler.
var vectorKind = map[irq.ExceptionNum]Kind{
	irq.DivideByZero:              DivideByZero,
	irq.Overflow:                  Overflow,
	irq.BoundRangeExceeded:        Overflow,
	irq.FloatingPointException:    FloatingPoint,
	irq.SIMDFloatingPointException: SIMD,
	irq.InvalidOpcode:             InvalidOpcode,
	irq.GPFException:              ProtectionFault,
	irq.AlignmentCheck:            AlignmentFault,
	irq.Debug:                     DebugBreakpoint,
	irq.Breakpoint:                DebugBreakpoint,
}

// Handler is implemented by the task scheduler. Dispatch should either
// forward the exception to the faulting task's registered handler and
// return, or escalate by panicking itself; this package does not retry
// or otherwise second-guess the decision.
type Handler interface {
	Dispatch(kind Kind, f *irq.Frame, r *irq.Regs)
}

var taskHandler Handler

// SetHandler installs the task-exception facility. Until one is
// installed, every forwarded exception panics with a full register
// dump — the same fallback the dispatcher uses for a vector with no
// handler at all.
func SetHandler(h Handler) {
	taskHandler = h
}

// Init registers this package's dispatch function against every vector
// it classifies, plus the small set that always panic regardless of
// whether a task handler is installed. Call after irq.Init has loaded
// the IDT's gate descriptors but before interrupts are first enabled.
func Init() {
	for vector := range vectorKind {
		v := vector
		irq.HandleException(v, func(f *irq.Frame, r *irq.Regs) { dispatch(v, f, r) })
	}

	irq.HandleException(irq.NMI, func(f *irq.Frame, r *irq.Regs) {
		kfmt.Printf("non-maskable interrupt\n")
		f.Print()
		r.Print()
		kfmt.Panic("non-maskable interrupt")
	})
	irq.HandleException(irq.MachineCheck, func(f *irq.Frame, r *irq.Regs) {
		kfmt.Printf("machine check\n")
		f.Print()
		r.Print()
		kfmt.Panic("machine check")
	})
	irq.HandleExceptionWithCode(irq.DoubleFault, func(code uint64, f *irq.Frame, r *irq.Regs) {
		kfmt.Printf("double fault, code=%x\n", code)
		f.Print()
		r.Print()
		kfmt.Panic("double fault")
	})
	// Lazy FPU context-switch on first use by a task is not implemented
	// yet; a fault taken from kernel mode is always a bug and panics.
	// TODO: on a fault from user mode, enable the FPU for the running
	// task and resume it instead of panicking.
	irq.HandleException(irq.DeviceNotAvailable, func(f *irq.Frame, r *irq.Regs) {
		kfmt.Printf("device not available, cs=%x\n", f.CS)
		f.Print()
		r.Print()
		kfmt.Panic("device not available")
	})
}

// dispatch forwards a classified exception to the installed task
// handler, or panics with a full diagnostic dump if none is installed.
func dispatch(vector irq.ExceptionNum, f *irq.Frame, r *irq.Regs) {
	kind := vectorKind[vector]
	if taskHandler != nil {
		taskHandler.Dispatch(kind, f, r)
		return
	}

	kfmt.Printf("unhandled %s (vector %d, cs=%x)\n", kind.String(), int(vector), f.CS)
	f.Print()
	r.Print()
	kfmt.Panic(kind.String())
}
