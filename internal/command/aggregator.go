// Package command collects the agent create and remove requests of one
// step and turns them into a columnar command set.
package command

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/hupe1980/stepsync/internal/column"
)

// Processed is the drained command set of a step.
type Processed struct {
	// NewAgents holds one row per create, in the order they were added.
	NewAgents *column.Table
	// RemoveIDs holds the agents to remove.
	RemoveIDs map[uuid.UUID]struct{}
}

// Aggregator accumulates commands for one step. Adds may come from
// several goroutines; Take is called once by the step owner.
type Aggregator struct {
	mu       sync.Mutex
	creates  []map[string]any
	restored []*column.Table
	removes  map[uuid.UUID]struct{}
	draining atomic.Bool
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{removes: make(map[uuid.UUID]struct{})}
}

// AddCreate queues the creation of an agent with the given field values.
// A row without an agent id gets a fresh one when drained.
func (a *Aggregator) AddCreate(row map[string]any) {
	a.mu.Lock()
	a.creates = append(a.creates, row)
	a.mu.Unlock()
}

// AddRemove queues the removal of an agent.
func (a *Aggregator) AddRemove(id uuid.UUID) {
	a.mu.Lock()
	a.removes[id] = struct{}{}
	a.mu.Unlock()
}

// Restore puts a drained command set back. Its creates keep their agent
// ids and are drained before anything added since.
func (a *Aggregator) Restore(p *Processed) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p.NewAgents != nil && p.NewAgents.Rows() > 0 {
		a.restored = append(a.restored, p.NewAgents)
	}
	for id := range p.RemoveIDs {
		a.removes[id] = struct{}{}
	}
}

// Len returns the number of queued creates and removes.
func (a *Aggregator) Len() (creates, removes int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	creates = len(a.creates)
	for _, t := range a.restored {
		creates += t.Rows()
	}
	return creates, len(a.removes)
}

// Verify checks that every create only names fields of schema.
func (a *Aggregator) Verify(schema *column.Schema) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return verify(a.creates, schema)
}

func verify(creates []map[string]any, schema *column.Schema) error {
	for i, row := range creates {
		var unknown []string
		for k := range row {
			if !schema.Has(k) {
				unknown = append(unknown, k)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			return &UnknownFieldError{Field: unknown[0], Row: i}
		}
	}
	return nil
}

// Take verifies the queued commands against schema, drains them and
// resets the aggregator. On error nothing is drained.
func (a *Aggregator) Take(schema *column.Schema) (*Processed, error) {
	if !a.draining.CompareAndSwap(false, true) {
		return nil, ErrDrainInProgress
	}
	defer a.draining.Store(false)

	a.mu.Lock()
	creates, removes := a.creates, a.removes
	if err := verify(creates, schema); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	table, err := buildTable(creates, schema)
	if err == nil && len(a.restored) > 0 {
		table, err = column.Concat(schema, append(a.restored, table)...)
	}
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}
	a.creates = nil
	a.restored = nil
	a.removes = make(map[uuid.UUID]struct{})
	a.mu.Unlock()

	return &Processed{NewAgents: table, RemoveIDs: removes}, nil
}

// Reset drops all queued commands.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.creates = nil
	a.restored = nil
	a.removes = make(map[uuid.UUID]struct{})
	a.mu.Unlock()
}

func buildTable(rows []map[string]any, schema *column.Schema) (*column.Table, error) {
	cols := make([][]byte, schema.Len())
	for i := range cols {
		f := schema.Field(i)
		b := column.NewBuilder(f.Type, len(rows))
		for r, row := range rows {
			v, ok := row[f.Name]
			if !ok && f.Name == column.AgentIDField {
				v = uuid.New()
			}
			if err := b.Append(v); err != nil {
				return nil, fmt.Errorf("create %d field %q: %w", r, f.Name, err)
			}
		}
		cols[i] = b.Finish()
	}
	return column.NewTable(schema, len(rows), cols)
}
