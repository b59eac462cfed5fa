// Package mmap provides shared, resizable file mappings.
//
// # Overview
//
// Segments that must be visible to worker processes are backed by a regular
// file (typically under /dev/shm) mapped with MAP_SHARED. The owning process
// creates the mapping read-write and may grow or shrink it; readers map the
// same file read-only and refresh their view when the owner announces a new
// memory layout.
//
// # Usage
//
//	m, err := mmap.Create("/dev/shm/batch-1234", 4096)
//	if err != nil { ... }
//	defer m.Close()
//
//	copy(m.Bytes(), header)
//	err = m.Resize(1 << 20) // ftruncate + remap
//
//	r, err := mmap.Open("/dev/shm/batch-1234")
//	err = r.Remap() // pick up a new file size
//
// # Resizing
//
// Resize maps the new length before the old mapping is released. A failed
// resize therefore leaves the previous mapping and its contents untouched.
//
// # Thread Safety
//
// A Mapping must not be resized concurrently with readers of Bytes(); callers
// coordinate access with their own locks. Close is idempotent.
package mmap
