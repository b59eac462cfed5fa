package command

import (
	"errors"
	"fmt"
)

var (
	// ErrDrainInProgress is returned when Take is called while another drain runs.
	ErrDrainInProgress = errors.New("command: drain already in progress")

	// ErrUnknownField is returned when a create row names a field the agent schema lacks.
	ErrUnknownField = errors.New("command: unknown field")

	// ErrInvalidPayload is returned for engine messages whose payload cannot be decoded.
	ErrInvalidPayload = errors.New("command: invalid payload")

	// ErrInvalidMessageSchema is returned when message batches lack the required columns.
	ErrInvalidMessageSchema = errors.New("command: invalid message schema")
)

// UnknownFieldError reports the first create row that references a field
// absent from the agent schema.
type UnknownFieldError struct {
	Field string
	Row   int
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("command: create %d references unknown field %q", e.Row, e.Field)
}

// Is reports whether target is ErrUnknownField.
func (e *UnknownFieldError) Is(target error) bool {
	return target == ErrUnknownField
}
