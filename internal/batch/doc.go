// Package batch implements a columnar table shard bound to one versioned
// segment.
//
// The data block of the segment holds the column bytes back to back (each
// column starting at an 8 byte aligned offset); the metadata block describes
// them:
//
//	Magic (4 bytes) "BTCH"
//	Format (4 bytes)
//	Rows (4 bytes)
//	Columns (4 bytes)
//	Per column:
//	  Kind (1 byte)
//	  Width (4 bytes)
//	  Offset (8 bytes)
//	  Length (8 bytes)
//	  CRC32C (4 bytes) of the column bytes
//
// A Batch is the writer side. Changes are queued per column and committed
// by FlushChanges in a fixed order: data, then metadata, then the version
// word. A reader that observes a new version therefore never sees metadata
// referencing unwritten data. Reader is the read-only side used by workers,
// which reloads only when the persisted version moved.
package batch
