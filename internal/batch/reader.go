package batch

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/hupe1980/stepsync/internal/column"
	"github.com/hupe1980/stepsync/internal/segment"
)

// SyncResult reports what Reader.Sync had to do.
type SyncResult int

const (
	// Unchanged means the cached view is current.
	Unchanged SyncResult = iota
	// Reloaded means the content changed and the view was decoded again.
	Reloaded
	// Remapped means the segment layout changed and was mapped again before decoding.
	Remapped
)

func (r SyncResult) String() string {
	switch r {
	case Unchanged:
		return "unchanged"
	case Reloaded:
		return "reloaded"
	case Remapped:
		return "remapped"
	default:
		return "unknown"
	}
}

// Reader is a read-only view of a batch, used by workers. The segment may
// be shared with the writing Batch or attached from another process.
type Reader struct {
	seg    *segment.Segment
	schema *column.Schema
	lay    *layout
	view   [][]byte
	loaded segment.Version
	synced bool
}

// NewReader creates a reader. The view is decoded on the first Sync.
func NewReader(seg *segment.Segment, schema *column.Schema) *Reader {
	return &Reader{seg: seg, schema: schema}
}

// ID returns the segment id.
func (r *Reader) ID() uuid.UUID { return r.seg.ID() }

// Schema returns the schema.
func (r *Reader) Schema() *column.Schema { return r.schema }

// Rows returns the row count of the cached view.
func (r *Reader) Rows() int {
	if r.lay == nil {
		return 0
	}
	return r.lay.rows
}

// Column returns the cached bytes of column i.
func (r *Reader) Column(i int) []byte { return r.view[i] }

// LoadedVersion returns the version of the cached view.
func (r *Reader) LoadedVersion() segment.Version { return r.loaded }

// syncAttempts bounds how often Sync retries a load that raced a commit.
const syncAttempts = 3

// Sync compares the persisted version with the cached one and reloads only
// what changed: a memory bump remaps the segment, a batch bump re-decodes.
// A load is only kept if the version did not move while it ran; otherwise
// Sync retries and finally returns ErrConcurrentWrite.
func (r *Reader) Sync() (SyncResult, error) {
	v := r.seg.ReadPersistedVersion()
	if r.synced && v == r.loaded {
		return Unchanged, nil
	}
	result := Reloaded
	for range syncAttempts {
		if !r.synced || v.Memory != r.loaded.Memory {
			if err := r.seg.Refresh(); err != nil {
				return Unchanged, err
			}
			result = Remapped
		}
		lay, view, err := load(r.seg, r.schema, true)
		after := r.seg.ReadPersistedVersion()
		if after != v {
			v = after
			continue
		}
		if err != nil {
			return Unchanged, err
		}
		r.lay, r.view, r.loaded, r.synced = lay, view, v, true
		return result, nil
	}
	return Unchanged, fmt.Errorf("%w: version moved past %s", ErrConcurrentWrite, v)
}

// Close detaches the reader. Segments not owned by the reader are closed.
func (r *Reader) Close() error {
	r.view = nil
	if r.seg.Owned() {
		return nil
	}
	return r.seg.Close()
}
