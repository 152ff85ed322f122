// Package backtrace walks the kernel's own call stack using the
// frame-pointer chain the Go compiler maintains in BP on amd64, and
// prints it through kfmt. It is the panic-time diagnostic kfmt.Panic
// calls after reporting the panic value.
package backtrace

import (
	"unsafe"

	"ridge/kernel/kfmt"
)

// maxFrames bounds how many frames Print walks before giving up, the
// same limit a bare-metal backtrace printer uses to guarantee it
// terminates even if the frame-pointer chain is corrupt.
const maxFrames = 50

// stackFrame mirrors the frame-pointer-linked layout the Go compiler
// builds on amd64 when frame pointers are enabled, which is the
// default: the saved caller frame pointer immediately followed by the
// return address. It is the same layout a C compiler's -fno-omit-frame-pointer
// produces, which is what lets a single walker work regardless of
// which language built a given frame.
type stackFrame struct {
	rbp *stackFrame
	rip uintptr
}

// kernelSpaceBit is bit 63 of a canonical higher-half address. Every
// frame pointer in a live kernel call chain has it set; its absence
// means the chain has run off the end of the stack (or into a
// user-space or garbage value) and the walk must stop.
const kernelSpaceBit = uintptr(1) << 63

// currentFrameFn returns the caller's frame pointer. It is a function
// variable, not a direct call to the asm stub, so tests can walk a
// synthetic frame chain instead of the test binary's own stack.
var currentFrameFn = currentFrame

// currentFrame returns the frame pointer of its caller.
func currentFrame() uintptr

// symbolicateFn resolves pc to a human-readable symbol name, or
// returns "" if no symbol table has been loaded or pc falls outside
// the kernel's own text range. Print falls back to a raw address
// when it is nil or returns "".
//
// TODO: wire this up once the ELF loader exposes the kernel's symbol
// table; until then every frame prints as a raw address.
var symbolicateFn func(pc uintptr) string

// SetSymbolicator installs the function Print uses to resolve
// addresses to names.
func SetSymbolicator(fn func(pc uintptr) string) {
	symbolicateFn = fn
}

// Print walks the call stack starting at its caller's frame and
// writes up to maxFrames lines to the active kfmt sink, stopping
// early if the chain runs off the end of kernel space.
func Print() {
	frame := (*stackFrame)(unsafe.Pointer(currentFrameFn()))

	for n := 0; frame != nil && n < maxFrames; n++ {
		if frame.rip == 0 {
			return
		}

		var name string
		if symbolicateFn != nil {
			name = symbolicateFn(frame.rip)
		}
		if name != "" {
			kfmt.Printf("%2d %16x %s\n", n, frame.rip, name)
		} else {
			kfmt.Printf("%2d %16x\n", n, frame.rip)
		}

		next := frame.rbp
		if next == nil || uintptr(unsafe.Pointer(next))&kernelSpaceBit == 0 {
			return
		}
		frame = next
	}
}
