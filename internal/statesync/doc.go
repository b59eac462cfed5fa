// Package statesync hands updated batches to the worker pool of one
// simulation run and tracks when the pool has picked them up.
//
// Three kinds of sync exist. State sends the read proxy of the agent pool
// and returns a Completion that resolves when the worker pool acknowledges
// it. StateSnapshot sends a read proxy without completion tracking.
// ContextBatch sends the shared context batch with the step number and the
// global start index of every group.
//
// A Completion moves from Sent to Completed or Failed exactly once. There
// is no cancellation: a caller that gives up simply stops waiting, and the
// worker pool is not told.
package statesync
