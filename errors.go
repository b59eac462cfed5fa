package stepsync

import (
	"errors"
	"fmt"

	"github.com/hupe1980/stepsync/internal/batch"
	"github.com/hupe1980/stepsync/internal/command"
	"github.com/hupe1980/stepsync/internal/migration"
	"github.com/hupe1980/stepsync/internal/pool"
	"github.com/hupe1980/stepsync/internal/segment"
	"github.com/hupe1980/stepsync/internal/statesync"
)

var (
	// ErrUnknownField is returned when a create references a field the
	// agent schema does not have.
	ErrUnknownField = errors.New("unknown field")

	// ErrOutOfMemory is returned when a segment cannot grow within the
	// configured memory limit.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrAllocationFailed is returned when the host cannot grow a segment.
	ErrAllocationFailed = errors.New("allocation failed")

	// ErrMalformedColumnChange is returned when queued column bytes do not
	// match the column type or row count.
	ErrMalformedColumnChange = errors.New("malformed column change")

	// ErrUnknownSimulation is returned for sim ids the engine has no run for.
	ErrUnknownSimulation = errors.New("unknown simulation")

	// ErrDuplicateSimulation is returned when starting a run twice.
	ErrDuplicateSimulation = errors.New("simulation already running")

	// ErrWorkerPoolGone is returned when the worker pool no longer accepts syncs.
	ErrWorkerPoolGone = errors.New("worker pool gone")

	// ErrSnapshotThrottled is returned when state snapshots exceed the configured rate.
	ErrSnapshotThrottled = errors.New("snapshot throttled")

	// ErrCapacityExceeded is returned when a batch holds more agents than
	// the maximum batch size.
	ErrCapacityExceeded = errors.New("batch capacity exceeded")

	// ErrUnknownGroup is returned for group ids the run does not hold.
	ErrUnknownGroup = errors.New("unknown group")

	// ErrEngineClosed is returned by a closed engine.
	ErrEngineClosed = errors.New("engine closed")
)

// InvalidOptionError indicates an invalid engine option value.
type InvalidOptionError struct {
	Option string
	Value  any
}

func (e *InvalidOptionError) Error() string {
	return fmt.Sprintf("invalid option %s: %v", e.Option, e.Value)
}

// UnknownFieldError identifies the create that referenced an unknown field.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type UnknownFieldError struct {
	Field string
	Row   int
	cause error
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q in create %d", e.Field, e.Row)
}

// Is reports whether target is ErrUnknownField.
func (e *UnknownFieldError) Is(target error) bool { return target == ErrUnknownField }

func (e *UnknownFieldError) Unwrap() error { return e.cause }

// MalformedColumnChangeError identifies the rejected column change.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type MalformedColumnChangeError struct {
	Column int
	Field  string
	cause  error
}

func (e *MalformedColumnChangeError) Error() string {
	return fmt.Sprintf("malformed change for column %d (%s)", e.Column, e.Field)
}

// Is reports whether target is ErrMalformedColumnChange.
func (e *MalformedColumnChangeError) Is(target error) bool {
	return target == ErrMalformedColumnChange
}

func (e *MalformedColumnChangeError) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var uf *command.UnknownFieldError
	if errors.As(err, &uf) {
		return &UnknownFieldError{Field: uf.Field, Row: uf.Row, cause: err}
	}
	var mc *batch.MalformedColumnChangeError
	if errors.As(err, &mc) {
		return &MalformedColumnChangeError{Column: mc.Column, Field: mc.Field, cause: err}
	}
	if errors.Is(err, batch.ErrMalformedColumnChange) {
		return fmt.Errorf("%w: %w", ErrMalformedColumnChange, err)
	}

	// Resource exhaustion.
	if errors.Is(err, segment.ErrOutOfMemory) {
		return fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}
	if errors.Is(err, segment.ErrAllocationFailed) {
		return fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}

	// Worker pool communication.
	if errors.Is(err, statesync.ErrPoolGone) {
		return fmt.Errorf("%w: %w", ErrWorkerPoolGone, err)
	}
	if errors.Is(err, statesync.ErrSnapshotThrottled) {
		return fmt.Errorf("%w: %w", ErrSnapshotThrottled, err)
	}

	if errors.Is(err, migration.ErrCapacityExceeded) {
		return fmt.Errorf("%w: %w", ErrCapacityExceeded, err)
	}
	if errors.Is(err, pool.ErrUnknownGroup) {
		return fmt.Errorf("%w: %w", ErrUnknownGroup, err)
	}
	if errors.Is(err, pool.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrUnknownSimulation, err)
	}

	return err
}
