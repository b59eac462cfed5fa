package migration

import "errors"

var (
	// ErrInvalidConfig is returned for a non-positive worker count or batch size.
	ErrInvalidConfig = errors.New("migration: invalid configuration")

	// ErrInvalidWorker is returned when a batch is assigned to a worker outside [0, workers).
	ErrInvalidWorker = errors.New("migration: invalid worker")

	// ErrCapacityExceeded is returned when an existing batch is already larger than the batch size.
	ErrCapacityExceeded = errors.New("migration: batch exceeds max batch size")

	// ErrPlanMismatch is returned when a plan does not fit the pool or the new agent table.
	ErrPlanMismatch = errors.New("migration: plan does not match input")

	// ErrPartiallyApplied is returned when some updated batches were rewritten
	// before the execution failed.
	ErrPartiallyApplied = errors.New("migration: plan partially applied")
)
