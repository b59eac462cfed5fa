package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/stepsync/internal/batch"
)

var (
	// ErrClosed is returned when acquiring a proxy of a closed pool.
	ErrClosed = errors.New("pool: closed")

	// ErrReleased is returned when using a released proxy.
	ErrReleased = errors.New("pool: proxy released")

	// ErrUnknownGroup is returned for group ids the pool does not hold.
	ErrUnknownGroup = errors.New("pool: unknown group")

	// ErrDuplicateGroup is returned when inserting a group id twice.
	ErrDuplicateGroup = errors.New("pool: duplicate group")
)

// maxReaders bounds the number of concurrent read proxies. A writer
// acquires the full weight.
const maxReaders = 1 << 20

// Group is the pair of batches a worker owns for one partition.
type Group struct {
	ID       uuid.UUID
	Worker   int
	Agents   *batch.Batch
	Messages *batch.Batch
}

// Close releases both batches.
func (g *Group) Close() error {
	var errs []error
	if g.Agents != nil {
		errs = append(errs, g.Agents.Close())
	}
	if g.Messages != nil {
		errs = append(errs, g.Messages.Close())
	}
	return errors.Join(errs...)
}

// Pool is an ordered arena of groups.
type Pool struct {
	sem *semaphore.Weighted

	mu      sync.Mutex
	groups  []*Group
	index   map[uuid.UUID]int
	changed *bitset.BitSet
	closed  bool
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{
		sem:     semaphore.NewWeighted(maxReaders),
		index:   make(map[uuid.UUID]int),
		changed: bitset.New(0),
	}
}

// Read acquires shared access.
func (p *Pool) Read(ctx context.Context) (*ReadProxy, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if p.isClosed() {
		p.sem.Release(1)
		return nil, ErrClosed
	}
	return &ReadProxy{p: p, weight: 1}, nil
}

// Write acquires exclusive access. The set of changed groups is reset.
func (p *Pool) Write(ctx context.Context) (*WriteProxy, error) {
	if err := p.sem.Acquire(ctx, maxReaders); err != nil {
		return nil, err
	}
	if p.isClosed() {
		p.sem.Release(maxReaders)
		return nil, ErrClosed
	}
	p.mu.Lock()
	p.changed.ClearAll()
	p.mu.Unlock()
	return &WriteProxy{ReadProxy{p: p, weight: maxReaders}}, nil
}

// Len returns the number of groups.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.groups)
}

// Close waits for all proxies to be released and closes every group.
func (p *Pool) Close(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, maxReaders); err != nil {
		return err
	}
	defer p.sem.Release(maxReaders)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var errs []error
	for _, g := range p.groups {
		errs = append(errs, g.Close())
	}
	p.groups = nil
	clear(p.index)
	return errors.Join(errs...)
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) reindex() {
	clear(p.index)
	for i, g := range p.groups {
		p.index[g.ID] = i
	}
}

// ReadProxy grants shared access to the groups until Release.
type ReadProxy struct {
	p        *Pool
	weight   int64
	released atomic.Bool
}

// Release gives up access. It is safe to call more than once.
func (r *ReadProxy) Release() {
	if r.released.CompareAndSwap(false, true) {
		r.p.sem.Release(r.weight)
	}
}

// Len returns the number of groups.
func (r *ReadProxy) Len() int { return r.p.Len() }

// Groups returns the groups in order.
func (r *ReadProxy) Groups() []*Group {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	out := make([]*Group, len(r.p.groups))
	copy(out, r.p.groups)
	return out
}

// Group returns the group at position i.
func (r *ReadProxy) Group(i int) *Group {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	return r.p.groups[i]
}

// ByID returns the group with id.
func (r *ReadProxy) ByID(id uuid.UUID) (*Group, bool) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	i, ok := r.p.index[id]
	if !ok {
		return nil, false
	}
	return r.p.groups[i], true
}

// AgentRows returns the total number of agent rows.
func (r *ReadProxy) AgentRows() int {
	n := 0
	for _, g := range r.Groups() {
		n += g.Agents.Rows()
	}
	return n
}

// GroupStartIndices returns, per group, the global index of its first agent.
func (r *ReadProxy) GroupStartIndices() []int {
	groups := r.Groups()
	starts := make([]int, len(groups))
	n := 0
	for i, g := range groups {
		starts[i] = n
		n += g.Agents.Rows()
	}
	return starts
}

// Changed returns the positions of the groups modified by the last writer,
// in ascending order.
func (r *ReadProxy) Changed() []int {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	out := make([]int, 0, r.p.changed.Count())
	for i, ok := r.p.changed.NextSet(0); ok; i, ok = r.p.changed.NextSet(i + 1) {
		out = append(out, int(i)) //nolint:gosec // bounded by group count
	}
	return out
}

// Released reports whether Release was called.
func (r *ReadProxy) Released() bool { return r.released.Load() }

// WriteProxy grants exclusive access to the groups until Release.
type WriteProxy struct {
	ReadProxy
}

// Insert appends g and marks it changed.
func (w *WriteProxy) Insert(g *Group) error {
	if w.released.Load() {
		return ErrReleased
	}
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	if _, dup := w.p.index[g.ID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateGroup, g.ID)
	}
	w.p.groups = append(w.p.groups, g)
	w.p.index[g.ID] = len(w.p.groups) - 1
	w.p.changed.Set(uint(len(w.p.groups) - 1))
	return nil
}

// Reorder replaces the group order with ids. Groups not listed are closed
// and dropped.
func (w *WriteProxy) Reorder(ids []uuid.UUID) error {
	if w.released.Load() {
		return ErrReleased
	}
	w.p.mu.Lock()
	defer w.p.mu.Unlock()

	next := make([]*Group, 0, len(ids))
	keep := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		i, ok := w.p.index[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownGroup, id)
		}
		if _, dup := keep[id]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateGroup, id)
		}
		keep[id] = struct{}{}
		next = append(next, w.p.groups[i])
	}

	var errs []error
	for _, g := range w.p.groups {
		if _, ok := keep[g.ID]; !ok {
			errs = append(errs, g.Close())
		}
	}

	// Positions are rebuilt, so the changed set is remapped by id.
	changed := make(map[uuid.UUID]bool, w.p.changed.Count())
	for i, ok := w.p.changed.NextSet(0); ok; i, ok = w.p.changed.NextSet(i + 1) {
		if int(i) < len(w.p.groups) { //nolint:gosec // bounded by group count
			changed[w.p.groups[i].ID] = true
		}
	}
	w.p.groups = next
	w.p.reindex()
	w.p.changed.ClearAll()
	for i, g := range next {
		if changed[g.ID] {
			w.p.changed.Set(uint(i))
		}
	}
	return errors.Join(errs...)
}

// Remove closes and drops the group with id.
func (w *WriteProxy) Remove(id uuid.UUID) error {
	if w.released.Load() {
		return ErrReleased
	}
	w.p.mu.Lock()
	i, ok := w.p.index[id]
	w.p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, id)
	}
	ids := make([]uuid.UUID, 0, w.Len()-1)
	for j, g := range w.Groups() {
		if j != i {
			ids = append(ids, g.ID)
		}
	}
	return w.Reorder(ids)
}

// MarkChanged records that the group with id was modified.
func (w *WriteProxy) MarkChanged(id uuid.UUID) error {
	if w.released.Load() {
		return ErrReleased
	}
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	i, ok := w.p.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, id)
	}
	w.p.changed.Set(uint(i)) //nolint:gosec // index is non-negative
	return nil
}
