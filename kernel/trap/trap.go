// Package trap brings up the CPU's exception and interrupt machinery:
// it gates on the feature set the kernel requires, builds the GDT and
// its per-CPU TSS, builds the IDT, and connects the backtrace walker to
// kfmt's panic path.
package trap

import (
	"ridge/kernel/backtrace"
	"ridge/kernel/cpu"
	"ridge/kernel/gdt"
	"ridge/kernel/irq"
	"ridge/kernel/kfmt"
)

// Init brings up the trap plane on the bootstrap processor: verifies the
// CPU feature set, builds the GDT/TSS, builds the IDT with the 32
// architectural exception stubs wired in, enables the SYSCALL/SYSRET
// MSR extensions, and connects the backtrace walker to kfmt's panic
// path. It never returns if the processor is missing a feature this
// kernel requires.
func Init() {
	if !checkFeatures(cpu.DetectFeatures()) {
		kfmt.Panic("missing required CPU features")
	}

	gdt.Init()
	irq.Init()
	cpu.EnableSyscallExtensions()

	kfmt.SetBacktraceFn(backtrace.Print)
	irq.SetFatalHandler(fatal)
}

// fatal runs after irq has reported an unhandled exception's registers
// and frame: it adds a backtrace of the faulting context, then halts
// the processor for good. Unlike kfmt.Panic, which is reachable from
// any allocator or subsystem failure, this path only ever runs from
// inside an exception stub. Most vectors arrive through trap gates,
// which leave interrupts enabled, so it masks them itself before
// halting.
func fatal() {
	backtrace.Print()
	cpu.DisableInterrupts()
	for {
		cpu.Halt()
	}
}

// checkFeatures reports each feature the running processor is missing
// and returns whether the gate passed. Split out from Init so the
// reporting logic can run against a synthetic Features value in tests
// without touching any privileged instruction.
func checkFeatures(detected cpu.Features) bool {
	missing := detected.Missing()
	for _, feature := range missing {
		kfmt.Printf("missing required CPU feature: %s\n", feature)
	}
	return len(missing) == 0
}
