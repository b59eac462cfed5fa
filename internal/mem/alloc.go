// Package mem provides memory allocation utilities.
package mem

import (
	"unsafe"
)

// Alignment is the byte alignment of heap-backed segments (64 bytes).
// Column data starts at 8-byte aligned offsets inside a segment, so an
// aligned base lets typed views reinterpret the bytes in place.
const Alignment = 64

// AllocAligned allocates a zeroed byte slice of the given size with 64-byte alignment.
// The returned slice is guaranteed to start at a memory address divisible by 64.
func AllocAligned(size int) []byte {
	if size <= 0 {
		return nil
	}

	buf := make([]byte, size+Alignment)

	ptr := unsafe.Pointer(&buf[0]) //nolint:gosec // unsafe is required for memory alignment
	addr := uintptr(ptr)
	offset := (Alignment - (addr & (Alignment - 1))) & (Alignment - 1)

	return buf[offset : offset+uintptr(size) : offset+uintptr(size)]
}

// Realloc returns a fresh aligned slice of n bytes holding the first
// min(n, len(buf)) bytes of buf. The old buffer is left to the garbage
// collector, so a shrink releases memory.
func Realloc(buf []byte, n int) []byte {
	out := AllocAligned(n)
	copy(out, buf)
	return out
}
