// Package conv provides checked integer conversions.
//
// Segment headers and metadata blocks store lengths, offsets and version
// counters as fixed-width unsigned integers while the rest of the code works
// with int. Every narrowing conversion on that boundary goes through this
// package so a corrupt header or an oversized column surfaces as an error
// instead of a silently truncated value.
package conv
