package segment

import (
	"fmt"
	"sync/atomic"

	"github.com/hupe1980/stepsync/internal/mem"
	"github.com/hupe1980/stepsync/internal/mmap"
)

// backing is the memory region behind a segment.
type backing interface {
	Bytes() []byte
	Resize(n int) error
	Refresh() error
	Close() error
	Path() string
}

// heapBacking swaps its buffer atomically, so version reads may run
// concurrently with a resize.
type heapBacking struct {
	data atomic.Pointer[[]byte]
}

func newHeapBacking(size int) *heapBacking {
	h := &heapBacking{}
	buf := mem.AllocAligned(size)
	h.data.Store(&buf)
	return h
}

func (h *heapBacking) Bytes() []byte {
	if p := h.data.Load(); p != nil {
		return *p
	}
	return nil
}

func (h *heapBacking) Resize(n int) error {
	if n < 0 {
		return fmt.Errorf("heap backing: invalid size %d", n)
	}
	buf := mem.Realloc(h.Bytes(), n)
	h.data.Store(&buf)
	return nil
}

func (h *heapBacking) Refresh() error { return nil }

func (h *heapBacking) Close() error {
	h.data.Store(nil)
	return nil
}

func (h *heapBacking) Path() string { return "" }

type fileBacking struct {
	m *mmap.Mapping
}

func (f *fileBacking) Bytes() []byte { return f.m.Bytes() }

func (f *fileBacking) Resize(n int) error { return f.m.Resize(n) }

func (f *fileBacking) Refresh() error { return f.m.Remap() }

func (f *fileBacking) Close() error { return f.m.Close() }

func (f *fileBacking) Path() string { return f.m.Path() }
