package statesync

import "errors"

var (
	// ErrPoolGone is returned when the worker pool no longer accepts messages.
	ErrPoolGone = errors.New("statesync: worker pool gone")

	// ErrSnapshotThrottled is returned when a snapshot sync exceeds the configured rate.
	ErrSnapshotThrottled = errors.New("statesync: snapshot throttled")
)
