// Package segment implements versioned, resizable shared-memory segments.
//
// A segment is the raw memory behind one batch. Its layout is
//
//	[header (32 bytes)][metadata block (metaCap bytes)][data block]
//
// The header is fixed-size and always at offset 0. It carries the persisted
// version, the metadata length and capacity, and the data length. The
// metadata block may grow between writes; growing it relocates the data
// block and counts as a layout change.
//
// # Versions
//
// The persisted version is a (memory, batch) pair stored as a single 64-bit
// word so readers always observe both halves together. memory increases
// whenever capacity or layout changes, batch increases on every committed
// content write. Writers call PersistVersion as the last step of a mutation.
//
// # Backings
//
// Segments are heap-backed by default. With WithDir they are backed by a
// shared file mapping named after the segment id, which worker processes
// can Attach to read-only.
package segment
