// Package resource implements the Controller shared by all segments of an engine.
//
// The Controller governs three resources:
//
//   - Memory: bytes reserved by segment backings (non-blocking, fail-fast)
//   - Writers: the number of concurrent column and batch writers per flush
//   - Snapshots: a token bucket limiting non-authoritative snapshot syncs
//
// # Memory Management
//
// Segments reserve their capacity before growing the backing region and
// release it when they shrink or close. AcquireMemory never blocks; it returns
// ErrMemoryLimitExceeded when the limit would be exceeded and the caller turns
// that into an out-of-memory failure for the flush in progress:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 1 << 30, // 1GB of shared memory
//	})
//
//	if err := rc.AcquireMemory(grow); err != nil {
//	    return err
//	}
//
// # Snapshot Rate Limiting
//
//	rc := resource.NewController(resource.Config{SnapshotsPerSecond: 2})
//	if rc.AllowSnapshot() {
//	    // send a state snapshot
//	}
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully: memory is unlimited, the
// writer limit is the default and every snapshot is allowed.
package resource
