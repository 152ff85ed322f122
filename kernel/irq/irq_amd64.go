// Package irq is the exception dispatcher: it owns the 32 architectural
// exception stubs, routes each vector to a registered handler, and
// hands the handler a snapshot of the registers and the CPU-pushed
// interrupt frame so it can inspect or, for a handful of recoverable
// faults, repair and resume the faulting context.
package irq

import (
	"ridge/kernel/gdt"
	"ridge/kernel/idt"
	"ridge/kernel/kfmt"
)

// Regs is a snapshot of the general-purpose registers at the moment an
// exception was taken, in the order the entry stubs push them.
type Regs struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64
}

// Print dumps the register snapshot using the active kfmt sink.
func (r *Regs) Print() {
	kfmt.Printf("RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	kfmt.Printf("RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	kfmt.Printf("RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	kfmt.Printf("RBP = %16x\n", r.RBP)
	kfmt.Printf("R8  = %16x R9  = %16x\n", r.R8, r.R9)
	kfmt.Printf("R10 = %16x R11 = %16x\n", r.R10, r.R11)
	kfmt.Printf("R12 = %16x R13 = %16x\n", r.R12, r.R13)
	kfmt.Printf("R14 = %16x R15 = %16x\n", r.R14, r.R15)
}

// Frame is the interrupt return frame the CPU pushes automatically.
type Frame struct {
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// Print dumps the interrupt frame using the active kfmt sink.
func (f *Frame) Print() {
	kfmt.Printf("RIP = %16x CS  = %16x\n", f.RIP, f.CS)
	kfmt.Printf("RSP = %16x SS  = %16x\n", f.RSP, f.SS)
	kfmt.Printf("RFL = %16x\n", f.RFlags)
}

// ExceptionNum identifies one of the 32 architectural exception vectors.
type ExceptionNum uint8

const (
	DivideByZero               = ExceptionNum(0)
	Debug                      = ExceptionNum(1)
	NMI                        = ExceptionNum(2)
	Breakpoint                 = ExceptionNum(3)
	Overflow                   = ExceptionNum(4)
	BoundRangeExceeded         = ExceptionNum(5)
	InvalidOpcode              = ExceptionNum(6)
	DeviceNotAvailable         = ExceptionNum(7)
	DoubleFault                = ExceptionNum(8)
	InvalidTSS                 = ExceptionNum(10)
	SegmentNotPresent          = ExceptionNum(11)
	StackSegmentFault          = ExceptionNum(12)
	GPFException                = ExceptionNum(13)
	PageFaultException          = ExceptionNum(14)
	FloatingPointException      = ExceptionNum(16)
	AlignmentCheck              = ExceptionNum(17)
	MachineCheck                = ExceptionNum(18)
	SIMDFloatingPointException  = ExceptionNum(19)
)

// names maps each defined vector to its architectural mnemonic, used in
// panic banners and trace output.
var names = map[ExceptionNum]string{
	DivideByZero:               "divide-by-zero",
	Debug:                      "debug",
	NMI:                        "non-maskable interrupt",
	Breakpoint:                 "breakpoint",
	Overflow:                   "overflow",
	BoundRangeExceeded:         "bound range exceeded",
	InvalidOpcode:              "invalid opcode",
	DeviceNotAvailable:         "device not available",
	DoubleFault:                "double fault",
	InvalidTSS:                 "invalid TSS",
	SegmentNotPresent:          "segment not present",
	StackSegmentFault:          "stack segment fault",
	GPFException:               "general protection fault",
	PageFaultException:         "page fault",
	FloatingPointException:     "x87 floating point exception",
	AlignmentCheck:             "alignment check",
	MachineCheck:               "machine check",
	SIMDFloatingPointException: "SIMD floating point exception",
}

// Name returns the mnemonic for num, or "reserved" if amd64 does not
// define that vector.
func (num ExceptionNum) Name() string {
	if n, ok := names[num]; ok {
		return n
	}
	return "reserved"
}

// hasErrorCode is the set of vectors for which the CPU pushes a 64-bit
// error code below the interrupt frame.
var hasErrorCode = map[ExceptionNum]bool{
	DoubleFault:       true,
	InvalidTSS:        true,
	SegmentNotPresent: true,
	StackSegmentFault: true,
	GPFException:      true,
	PageFaultException: true,
	AlignmentCheck:    true,
}

// ExceptionHandler handles an exception that carries no error code.
type ExceptionHandler func(*Frame, *Regs)

// ExceptionHandlerWithCode handles an exception that carries an error
// code (page faults, GPF and the other vectors in hasErrorCode).
type ExceptionHandlerWithCode func(code uint64, f *Frame, r *Regs)

var (
	handlers         [32]ExceptionHandler
	handlersWithCode [32]ExceptionHandlerWithCode
)

// stackFor assigns the interrupt stack a given vector's handler runs on.
// The pairing is fixed by policy, not left to chance: IST1 takes the
// vectors that never recurse into another fault, IST2 takes the ones
// that can be provoked while already handling one of IST1's, IST3 is
// NMI's alone, IST4 covers the debug-class vectors plus machine check,
// and IST7 is reserved for the page fault so it never shares a stack
// with anything that could fault while servicing it.
func stackFor(num ExceptionNum) idt.Stack {
	switch num {
	case DivideByZero, Overflow, BoundRangeExceeded, InvalidTSS, SegmentNotPresent, StackSegmentFault, SIMDFloatingPointException:
		return idt.Stack1
	case InvalidOpcode, DeviceNotAvailable, DoubleFault, GPFException, FloatingPointException, AlignmentCheck:
		return idt.Stack2
	case NMI:
		return idt.Stack3
	case Debug, Breakpoint, MachineCheck:
		return idt.Stack4
	case PageFaultException:
		return idt.Stack7
	default:
		return idt.Stack1
	}
}

// HandleException registers handler for an exception vector that does
// not carry an error code.
func HandleException(num ExceptionNum, handler ExceptionHandler) {
	handlers[num] = handler
}

// HandleExceptionWithCode registers handler for an exception vector that
// carries an error code.
func HandleExceptionWithCode(num ExceptionNum, handler ExceptionHandlerWithCode) {
	handlersWithCode[num] = handler
}

// Init wires all 32 architectural exception stubs into the IDT and loads
// it. Call after gdt.Init so the kernel code segment and the IST stacks
// referenced by each gate already exist.
func Init() {
	for num := ExceptionNum(0); num < 32; num++ {
		stub := stubAddr(num)
		if stub == 0 {
			continue
		}
		flags := uint8(idt.TrapFlags)
		if num == NMI || num == DoubleFault {
			flags = idt.IsrFlags
		}
		idt.Set(int(num), stub, gdt.KernelCodeSeg, flags, stackFor(num))
	}
	idt.Load()
}

// trapContext is the exact memory layout the entry stubs leave on the
// stack before calling into Go: the saved general-purpose registers,
// followed by the vector number and (synthetic, if the CPU didn't push
// one) error code, followed by the CPU's own interrupt frame. Its field
// order must not change without updating stubs_amd64.s to match.
type trapContext struct {
	Regs
	Vector uint64
	Code   uint64
	Frame
}

// trapEntry is called by the common stub trampoline with a pointer to
// the context built on the interrupt stack. It never returns to the
// stub directly when no handler is installed for the vector: an
// unhandled exception is fatal.
func trapEntry(ctx *trapContext) {
	num := ExceptionNum(ctx.Vector)

	if hasErrorCode[num] {
		if h := handlersWithCode[num]; h != nil {
			h(ctx.Code, &ctx.Frame, &ctx.Regs)
			return
		}
	} else if h := handlers[num]; h != nil {
		h(&ctx.Frame, &ctx.Regs)
		return
	}

	kfmt.Printf("unhandled exception %d (%s)\n", ctx.Vector, num.Name())
	ctx.Frame.Print()
	ctx.Regs.Print()
	fatalFn()
}

// fatalFn runs after an unrecoverable exception has been reported. It
// is a function variable, not a direct call to the asm halt loop, so
// tests can observe an unhandled exception without actually hanging the
// test binary, and so trap.Init can layer a backtrace dump in ahead of
// the actual halt.
var fatalFn = haltLoop

// SetFatalHandler installs the function run after an unhandled
// exception has been reported. fn should not return; the default,
// haltLoop, never does.
func SetFatalHandler(fn func()) {
	fatalFn = fn
}

// haltLoop disables interrupts and spins on HLT forever.
func haltLoop()

// stubAddr returns the entry point address of the raw assembly stub for
// the given vector, or 0 if amd64 does not define that vector.
func stubAddr(num ExceptionNum) uintptr
