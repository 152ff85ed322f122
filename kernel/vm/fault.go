package vm

import (
	"ridge/kernel/cpu"
	"ridge/kernel/irq"
	"ridge/kernel/kfmt"
)

// active is the address space page faults are resolved against. The core
// has no per-task space switch yet, so there is exactly one active space
// at a time rather than one per task.
var active *Space

// SetActiveSpace installs s as the address space InstallFaultHandler's
// registered handler consults.
func SetActiveSpace(s *Space) {
	active = s
}

// readCR2Fn reads the faulting address left by the last page fault. It is
// a function variable, not a direct call to the asm intrinsic, so tests
// can drive handleFault with a synthetic address instead of a real one.
var readCR2Fn = cpu.ReadCR2

// InstallFaultHandler registers the page-fault vector with the exception
// dispatcher. Unlike every other architectural exception, a page fault is
// never routed through the task-exception facility: it goes straight from
// the dispatcher to the VM manager, which reads the faulting address off
// CR2 and attempts to service it before anything is told an exception
// happened at all. Call once, after irq.Init.
func InstallFaultHandler() {
	irq.HandleExceptionWithCode(irq.PageFaultException, handleFault)
}

func handleFault(code uint64, f *irq.Frame, r *irq.Regs) {
	addr := readCR2Fn()

	if active != nil {
		if err := active.HandleFault(addr); err == nil {
			return
		}
	}

	kfmt.Printf("unhandled page fault at %16x (error %x)\n", uint64(addr), code)
	f.Print()
	r.Print()
	kfmt.Panic("page fault")
}
