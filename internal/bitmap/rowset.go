package bitmap

import (
	"iter"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// RowSet is a sorted, deduplicated set of uint32 row indices.
// It is not safe for concurrent mutation.
type RowSet struct {
	rb *roaring.Bitmap
}

var rowSetPool = sync.Pool{
	New: func() any {
		return &RowSet{rb: roaring.New()}
	},
}

// New creates an empty set holding rows.
func New(rows ...uint32) *RowSet {
	s := &RowSet{rb: roaring.New()}
	s.rb.AddMany(rows)
	return s
}

// Get returns an empty set from the pool. Call Put when done.
func Get() *RowSet {
	s := rowSetPool.Get().(*RowSet)
	s.rb.Clear()
	return s
}

// Put returns s to the pool.
func Put(s *RowSet) {
	if s == nil {
		return
	}
	s.rb.Clear()
	rowSetPool.Put(s)
}

// Add inserts row. It reports whether row was not already present.
func (s *RowSet) Add(row uint32) bool {
	return s.rb.CheckedAdd(row)
}

// Contains reports whether row is in the set. A nil set is empty.
func (s *RowSet) Contains(row uint32) bool {
	if s == nil {
		return false
	}
	return s.rb.Contains(row)
}

// Cardinality returns the number of rows.
func (s *RowSet) Cardinality() int {
	if s == nil {
		return 0
	}
	return int(s.rb.GetCardinality()) //nolint:gosec // bounded by uint32 universe
}

// IsEmpty reports whether the set has no rows.
func (s *RowSet) IsEmpty() bool {
	return s == nil || s.rb.IsEmpty()
}

// Max returns the largest row. ok is false for an empty set.
func (s *RowSet) Max() (row uint32, ok bool) {
	if s.IsEmpty() {
		return 0, false
	}
	return s.rb.Maximum(), true
}

// ToSlice returns the rows in ascending order.
func (s *RowSet) ToSlice() []uint32 {
	if s == nil {
		return nil
	}
	return s.rb.ToArray()
}

// ForEach calls fn for every row in ascending order until fn returns false.
func (s *RowSet) ForEach(fn func(row uint32) bool) {
	if s == nil {
		return
	}
	it := s.rb.Iterator()
	for it.HasNext() {
		if !fn(it.Next()) {
			return
		}
	}
}

// All returns an iterator over the rows in ascending order.
func (s *RowSet) All() iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		s.ForEach(yield)
	}
}

// Clone returns a deep copy.
func (s *RowSet) Clone() *RowSet {
	return &RowSet{rb: s.rb.Clone()}
}
