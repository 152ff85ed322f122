// +build amd64

package mem

const (
	// PageShift is log2(PageSize); used to convert a physical address to
	// a frame number and back.
	PageShift = 12

	// PageSize is the base (4 KiB) page size.
	PageSize = Size(1 << PageShift)

	// LargePageShift is log2(LargePageSize), the granularity used by the
	// physical aperture's 1 GiB mappings.
	LargePageShift = 30

	// LargePageSize is the size of the huge pages the physical aperture
	// is built from.
	LargePageSize = Size(1 << LargePageShift)

	// ApertureBase is the kernel-virtual address at which the physical
	// aperture window begins.
	ApertureBase = uintptr(0xffff800000000000)

	// ApertureSize is the span of the physical aperture window: 2 TiB,
	// enough to cover any amount of physical RAM a single machine this
	// kernel targets can carry.
	ApertureSize = Size(2) * 1024 * Gb

	// KernelSpaceBase marks the start of the canonical-high half of the
	// 48-bit virtual address space; addresses at or above it belong to
	// the kernel, addresses below 0x0000800000000000 belong to user
	// space, and everything in between is non-canonical.
	KernelSpaceBase = uintptr(0xffff800000000000)

	// UserSpaceTop is the first non-canonical address above user space.
	UserSpaceTop = uintptr(0x0000800000000000)
)
