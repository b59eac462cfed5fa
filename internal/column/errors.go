package column

import "errors"

var (
	// ErrLengthMismatch is returned when column bytes disagree with the type and row count.
	ErrLengthMismatch = errors.New("column: length mismatch")

	// ErrInvalidOffsets is returned when a variable-length column has broken offsets.
	ErrInvalidOffsets = errors.New("column: invalid offsets")

	// ErrInvalidValue is returned when a row value cannot be encoded as the field type.
	ErrInvalidValue = errors.New("column: invalid value")

	// ErrInvalidSchema is returned for malformed schemas.
	ErrInvalidSchema = errors.New("column: invalid schema")

	// ErrSchemaMismatch is returned when tables with different schemas are combined.
	ErrSchemaMismatch = errors.New("column: schema mismatch")
)
