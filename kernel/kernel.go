// Package kernel contains types and helpers shared by every other package in
// the core: the common error type and the memory primitives that are safe to
// call before the Go runtime's allocator is available.
package kernel

import (
	"reflect"
	"unsafe"
)

// Error describes a kernel-internal error. All kernel errors are defined as
// package-level variables holding a pointer to this struct; this sidesteps
// errors.New, which allocates, at a point in boot where no allocator exists
// yet.
type Error struct {
	// Module names the package that generated the error.
	Module string
	// Message is a short human-readable description.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Memset sets size bytes starting at addr to value. Doubling the copied
// region on each iteration keeps this to log2(size) calls to copy instead of
// a byte-at-a-time loop.
func Memset(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}

	target := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: addr,
	}))

	target[0] = value
	for index := uintptr(1); index < size; index *= 2 {
		copy(target[index:], target[:index])
	}
}

// Memcopy copies size bytes from src to dst. The two regions must not
// overlap.
func Memcopy(src, dst uintptr, size uintptr) {
	if size == 0 {
		return
	}

	srcSlice := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: src,
	}))
	dstSlice := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: dst,
	}))

	copy(dstSlice, srcSlice)
}
