package mem

import "math"

// Frame identifies a physical page by its index (physical address divided
// by PageSize), not its raw address.
type Frame uint64

// InvalidFrame is returned by allocators that fail to satisfy a request.
const InvalidFrame = Frame(math.MaxUint64)

// IsValid reports whether f is a real frame rather than the sentinel
// InvalidFrame.
func (f Frame) IsValid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the start of this frame.
func (f Frame) Address() Pa_t {
	return Pa_t(f) << PageShift
}

// FrameFromAddress returns the frame containing the physical address addr.
func FrameFromAddress(addr Pa_t) Frame {
	return addr.Frame()
}
