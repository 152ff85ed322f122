// Package gdt builds the global descriptor table: the flat kernel/user
// code and data segments long mode actually uses, plus one Task State
// Segment per CPU carrying the seven interrupt-stack-table pointers the
// IDT's gate descriptors select among.
package gdt

import "unsafe"

// Segment selectors, matching the fixed layout Init lays the table out
// in. Each selector is an index into the GDT shifted left by 3 (the
// low 3 bits carry the requested privilege level and table indicator).
const (
	NullSeg      = 0x00
	KernelCodeSeg = 0x08
	KernelDataSeg = 0x10
	UserCodeSeg   = 0x18
	UserCode64Seg = 0x20
	UserDataSeg   = 0x28
	// firstTSSSeg is the selector of the first TSS descriptor, which
	// occupies two 8-byte slots since it is a 64-bit system descriptor.
	firstTSSSeg = 0x30
)

// gdtSize is the number of 8-byte slots in the table: six 32-bit style
// descriptors (null, kernel code/data, user code/code64/data) plus two
// slots for one TSS descriptor.
const gdtSize = 8

// IRQStackSize is the number of 64-bit words in each of the seven
// interrupt stacks carried in the TSS.
const IRQStackSize = 4096

// descriptor is one 32-bit-style GDT entry: a flat code or data
// segment, unused in 64-bit mode except for its access byte.
type descriptor struct {
	limitLow   uint16
	baseLow    uint16
	baseMiddle uint8
	access     uint8
	granularity uint8
	baseHigh   uint8
}

// descriptor64 is a 16-byte system descriptor (TSS) carrying a full
// 64-bit base address.
type descriptor64 struct {
	limit0           uint16
	base0            uint16
	base1            uint8
	typeFlags        uint8
	granularityLimit uint8
	base2            uint8
	base3            uint32
	reserved         uint32
}

// tss is the amd64 Task State Segment. Only the interrupt-stack-table
// entries and the I/O permission bitmap offset are meaningful; the
// legacy rspN fields are unused since this kernel never ring-transitions
// through a hardware task switch.
type tss struct {
	reserved1 uint32
	rsp       [3]struct{ low, high uint32 }
	reserved2 [2]uint32
	ist       [7]struct{ low, high uint32 }
	reserved3 [2]uint32
	reserved4 uint16
	ioMap     uint16
}

var (
	table    [gdtSize]descriptor
	bspTSS   tss
	irqStack [7][IRQStackSize]uint64
)

// set32 fills in a flat 32-bit-style descriptor at the given slot.
func set32(num int, base, limit uint32, access, granularity uint8) {
	table[num].baseLow = uint16(base & 0xffff)
	table[num].baseMiddle = uint8((base >> 16) & 0xff)
	table[num].baseHigh = uint8((base >> 24) & 0xff)
	table[num].limitLow = uint16(limit & 0xffff)
	table[num].granularity = uint8((limit>>16)&0x0f) | (granularity & 0xf0)
	table[num].access = access
}

// set64 writes a 16-byte system descriptor spanning slots [num, num+1).
func set64(num int, base uintptr, limit uint32, flags, granularity uint8) {
	var desc descriptor64
	desc.limit0 = uint16(limit & 0xffff)
	desc.granularityLimit = uint8((limit>>16)&0x0f) | (granularity & 0xf0)
	desc.base0 = uint16(base & 0xffff)
	desc.base1 = uint8((base >> 16) & 0xff)
	desc.base2 = uint8((base >> 24) & 0xff)
	desc.base3 = uint32(base >> 32)
	desc.typeFlags = flags

	dst := (*descriptor64)(unsafe.Pointer(&table[num]))
	*dst = desc
}

// Init builds the flat kernel/user segments and the bootstrap
// processor's TSS (with its seven interrupt stacks), then loads the GDT
// and activates the TSS with LTR.
func Init() {
	buildBspState()
	load()
	activateTask()
}

// buildBspState populates the in-memory GDT and TSS but never touches a
// control register, so it can run under an ordinary hosted test binary;
// Init adds the privileged LGDT/LTR steps on top of it.
func buildBspState() {
	for i := range table {
		table[i] = descriptor{}
	}

	// L-bit (0xAF granularity) marks these as 64-bit code segments; in
	// long mode the base/limit fields of code and data segments are
	// ignored by the CPU but still need to be present and well-formed.
	set32(KernelCodeSeg>>3, 0, 0xffffffff, 0x9a, 0xaf)
	set32(KernelDataSeg>>3, 0, 0xffffffff, 0x92, 0xcf)
	set32(UserCodeSeg>>3, 0, 0xffffffff, 0xfa, 0xaf)
	set32(UserCode64Seg>>3, 0, 0xffffffff, 0xfa, 0xaf)
	set32(UserDataSeg>>3, 0, 0xffffffff, 0xf2, 0xcf)

	initTSS(&bspTSS)
	for i := 0; i < 7; i++ {
		top := uintptr(unsafe.Pointer(&irqStack[i])) + IRQStackSize*8
		bspTSS.ist[i].low = uint32(top & 0xffffffff)
		bspTSS.ist[i].high = uint32(top >> 32)
	}

	installTSS(&bspTSS)
}

// initTSS zeroes tss and points the I/O permission bitmap offset past
// the end of the structure, disabling it: every I/O port access from
// user mode then faults, which is what this kernel wants since it has
// no port-mapped device drivers running in ring 3.
func initTSS(t *tss) {
	*t = tss{}
	t.ioMap = uint16(unsafe.Sizeof(tss{}) - 1)
}

// installTSS writes the bootstrap processor's TSS system descriptor into
// the table at firstTSSSeg.
func installTSS(t *tss) {
	set64(firstTSSSeg>>3, uintptr(unsafe.Pointer(t)), uint32(unsafe.Sizeof(tss{})-1), 0x89, 0)
}

// load builds a GDTR describing the populated prefix of the table and
// issues LGDT, then reloads every segment register so stale selectors
// left over from the bootloader's own GDT are flushed.
func load() {
	loadGDT(uintptr(unsafe.Pointer(&table[0])), uint16(gdtSize*8-1))
	flushSegments(KernelCodeSeg, KernelDataSeg)
}

// activateTask issues LTR for the bootstrap processor's TSS, making its
// interrupt stacks available to the IDT's IST mechanism.
func activateTask() {
	loadTR(firstTSSSeg)
}

// loadGDT issues LGDT with a descriptor built from base and limit.
func loadGDT(base uintptr, limit uint16)

// loadTR issues LTR with the given selector.
func loadTR(selector uint16)

// flushSegments reloads CS via a far return and DS/ES/SS/FS/GS with the
// given data selector.
func flushSegments(codeSeg, dataSeg uint16)
