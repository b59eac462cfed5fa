package segment

import "errors"

var (
	// ErrAllocationFailed is returned when the backing region cannot be resized.
	ErrAllocationFailed = errors.New("segment: allocation failed")

	// ErrOutOfMemory is returned when growing would exceed the memory budget.
	ErrOutOfMemory = errors.New("segment: out of memory")

	// ErrInvalidHeader is returned when an attached segment has no valid header.
	ErrInvalidHeader = errors.New("segment: invalid header")

	// ErrOutOfBounds is returned when a write exceeds the current layout.
	ErrOutOfBounds = errors.New("segment: write out of bounds")

	// ErrMetadataTooLarge is returned when metadata exceeds the reserved block.
	ErrMetadataTooLarge = errors.New("segment: metadata exceeds reserved capacity")

	// ErrVersionRegression is returned when a persisted version would go backwards.
	ErrVersionRegression = errors.New("segment: version regression")

	// ErrReadOnly is returned when mutating an attached segment.
	ErrReadOnly = errors.New("segment: read-only")

	// ErrClosed is returned when using a closed segment.
	ErrClosed = errors.New("segment: closed")
)
