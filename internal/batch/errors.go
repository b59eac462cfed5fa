package batch

import (
	"errors"
	"fmt"
)

var (
	// ErrColumnOutOfRange is returned when a change targets a column the schema does not have.
	ErrColumnOutOfRange = errors.New("batch: column index out of range")

	// ErrMalformedColumnChange is returned when a change does not encode rows of the column type.
	ErrMalformedColumnChange = errors.New("batch: malformed column change")

	// ErrCorrupt is returned when the metadata block cannot be decoded.
	ErrCorrupt = errors.New("batch: corrupt metadata")

	// ErrTypeMismatch is returned by typed accessors used on a column of another type.
	ErrTypeMismatch = errors.New("batch: column type mismatch")

	// ErrSchemaMismatch is returned when the segment layout does not match the schema.
	ErrSchemaMismatch = errors.New("batch: schema mismatch")

	// ErrConcurrentWrite is returned by Reader.Sync when commits kept landing while it loaded.
	ErrConcurrentWrite = errors.New("batch: batch rewritten during sync")
)

// MalformedColumnChangeError describes a rejected column change.
type MalformedColumnChangeError struct {
	Column int
	Field  string
	cause  error
}

func (e *MalformedColumnChangeError) Error() string {
	return fmt.Sprintf("batch: malformed change for column %d (%s): %v", e.Column, e.Field, e.cause)
}

// Is reports whether target is ErrMalformedColumnChange.
func (e *MalformedColumnChangeError) Is(target error) bool {
	return target == ErrMalformedColumnChange
}

func (e *MalformedColumnChangeError) Unwrap() error { return e.cause }
