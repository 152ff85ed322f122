// Package cpu exposes the privileged amd64 instructions the rest of the
// core needs — CPUID, MSR access, control-register reads/writes, interrupt
// masking and TLB invalidation — as single-purpose Go functions implemented
// in Plan 9 assembly. Nothing here allocates or calls into any other
// package, which keeps it safe to use from the earliest boot code onward.
package cpu

var (
	cpuidFn     = ID
	rdmsrFn     = ReadMSR
	writeMSRFn  = WriteMSR
)

// EnableInterrupts executes STI.
func EnableInterrupts()

// DisableInterrupts executes CLI.
func DisableInterrupts()

// Halt executes HLT. It does not return until the next interrupt.
func Halt()

// FlushTLBEntry invalidates the TLB entry mapping virtAddr via INVLPG.
func FlushTLBEntry(virtAddr uintptr)

// ReadCR2 returns the faulting address recorded by the last page fault.
func ReadCR2() uintptr

// ReadCR3 returns the physical address of the currently active top-level
// page table.
func ReadCR3() uintptr

// WriteCR3 installs physAddr as the top-level page table and flushes the
// entire TLB as a side effect.
func WriteCR3(physAddr uintptr)

// ID executes CPUID with EAX=leaf, ECX=0 and returns the EAX/EBX/ECX/EDX
// results.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// ReadMSR returns the 64-bit value of the model-specific register msr.
func ReadMSR(msr uint32) uint64

// WriteMSR sets the model-specific register msr to value.
func WriteMSR(msr uint32, value uint64)

// IsIntel reports whether the running CPU identifies as a GenuineIntel
// part via the CPUID vendor string in leaf 0.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}

// Feature bits returned by CPUID leaf 1 in ECX/EDX, named for the checks
// the trap plane's startup gate performs before it trusts the processor.
const (
	edxFeatureAPIC = 1 << 9

	ecxFeatureSSE41       = 1 << 19
	ecxFeatureSSE42       = 1 << 20
	ecxFeaturePOPCNT      = 1 << 23
	ecxFeatureXSAVE       = 1 << 26
	ecxFeatureCMPXCHG16B  = 1 << 13
)

// Features captures the subset of CPUID leaf 1 flags the kernel requires
// to be present before it continues booting.
type Features struct {
	APIC        bool
	POPCNT      bool
	CMPXCHG16B  bool
	SSE41       bool
	SSE42       bool
	XSAVE       bool
}

// Missing returns the names of every required feature that was not
// reported by the processor, in a fixed order. An empty result means the
// gate passes.
func (f Features) Missing() []string {
	var missing []string
	if !f.APIC {
		missing = append(missing, "APIC")
	}
	if !f.POPCNT {
		missing = append(missing, "POPCNT")
	}
	if !f.CMPXCHG16B {
		missing = append(missing, "CMPXCHG16B")
	}
	if !f.SSE41 {
		missing = append(missing, "SSE4.1")
	}
	if !f.SSE42 {
		missing = append(missing, "SSE4.2")
	}
	if !f.XSAVE {
		missing = append(missing, "XSAVE")
	}
	return missing
}

// DetectFeatures runs CPUID leaf 1 and decodes the flags this kernel
// depends on.
func DetectFeatures() Features {
	_, _, ecx, edx := cpuidFn(1)
	return Features{
		APIC:       edx&edxFeatureAPIC != 0,
		POPCNT:     ecx&ecxFeaturePOPCNT != 0,
		CMPXCHG16B: ecx&ecxFeatureCMPXCHG16B != 0,
		SSE41:      ecx&ecxFeatureSSE41 != 0,
		SSE42:      ecx&ecxFeatureSSE42 != 0,
		XSAVE:      ecx&ecxFeatureXSAVE != 0,
	}
}

// msrEFER is the Extended Feature Enable Register; bit 0 (SCE) turns on
// the SYSCALL/SYSRET instruction pair.
const msrEFER = 0xC0000080
const eferSCE = 1 << 0

// EnableSyscallExtensions sets EFER.SCE so SYSCALL/SYSRET become usable.
func EnableSyscallExtensions() {
	writeMSRFn(msrEFER, rdmsrFn(msrEFER)|eferSCE)
}

// edxFeatureNX is bit 20 of CPUID extended leaf 0x80000001's EDX output,
// set when the processor supports the page-table NX (no-execute) bit.
const edxFeatureNX = 1 << 20

// SupportsNX reports whether the processor honors the NX bit in page
// table entries. The page-table engine only sets NX when this is true;
// on a processor without it, every mapping is implicitly executable.
func SupportsNX() bool {
	_, _, _, edx := cpuidFn(0x80000001)
	return edx&edxFeatureNX != 0
}
