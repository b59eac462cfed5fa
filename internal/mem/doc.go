// Package mem provides memory allocation utilities.
//
// # Aligned Allocation
//
// Heap-backed segments use 64-byte aligned buffers so that their layout
// matches file-backed (page aligned) segments.
package mem
