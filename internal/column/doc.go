// Package column defines the schema and byte encoding of batch columns.
//
// Every column is stored as one contiguous byte slice:
//
//   - fixed-width kinds (Bool, Int32, Int64, Uint32, Float32, Float64,
//     FixedBytes) store rows × width little-endian bytes;
//   - Bytes stores (rows+1) little-endian uint32 offsets followed by the
//     concatenated values, with offsets[0] == 0 and offsets[rows] equal to
//     the length of the value area.
//
// Validate checks that a byte slice is a well-formed column of a given type
// and row count. Builder encodes row values, Table holds a set of encoded
// columns and supports the row-level operations used by migration (slice,
// compact, concat).
package column
