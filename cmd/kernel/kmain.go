// Command kernel is the freestanding amd64/UEFI kernel image: its entry
// point, Kmain, is the only Go symbol the bootloader's assembly trampoline
// calls into once it has parked the processor on a small bootstrap stack
// with paging already enabled via the bootloader's own identity map.
package main

import (
	"ridge/kernel"
	"ridge/kernel/boot"
	"ridge/kernel/cpu"
	"ridge/kernel/except"
	"ridge/kernel/kfmt"
	"ridge/kernel/mem"
	"ridge/kernel/mem/pmm"
	"ridge/kernel/mem/vmm"
	"ridge/kernel/trap"
	"ridge/kernel/vm"
)

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// main never runs on real hardware — the bootloader trampoline jumps
// straight to Kmain without going through the Go runtime's normal
// process startup — but package main still needs one to build.
func main() {}

// Kmain brings up the kernel core in the order the rest of it depends
// on: parse the bootloader's memory map, seed the physical page
// allocator from every usable region, build the root page table
// (installing the 2 TiB physical aperture as a side effect of
// constructing it), activate that table, then bring up the trap plane,
// point the page-fault handler at the root address space, and finally
// the task-exception seam for every other vector. It is not expected to
// return; if it does, that is itself a fatal condition.
//
//go:noinline
func Kmain(bootInfoPtr uintptr) {
	boot.SetInfoPtr(bootInfoPtr)

	if err := pmm.Init(0); err != nil {
		kfmt.Panic(err)
	}
	seedAllocator()

	root, err := vmm.New(nil, cpu.SupportsNX())
	if err != nil {
		kfmt.Panic(err)
	}
	root.Activate()

	trap.Init()
	vm.SetActiveSpace(vm.NewSpace(root, pmm.PoolAllocator(defaultPool)))
	vm.InstallFaultHandler()
	except.Init()

	kfmt.Printf("ridge kernel core up\n")

	kfmt.Panic(errKmainReturned)
}

// defaultPool is the single pmm pool the bootstrap processor's usable
// memory regions are added to; nothing in this kernel yet needs a
// second allocation policy domain (e.g. a DMA-restricted pool).
const defaultPool = 0

// seedAllocator hands every usable region the bootloader reported to
// the physical page pool. Regions the bootloader marks reserved, ACPI,
// or as holding the kernel image itself are skipped; they stay out of
// circulation forever.
func seedAllocator() {
	boot.VisitMemRegions(func(entry *boot.MemoryMapEntry) bool {
		if entry.Type == boot.MemUsable {
			if err := pmm.AddRegion(mem.Pa_t(entry.Base), mem.Size(entry.Length), defaultPool); err != nil {
				kfmt.Panic(err)
			}
		}
		return true
	})
}
