package migration

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/hupe1980/stepsync/internal/bitmap"
)

// Kind classifies what happens to a batch.
type Kind int

const (
	// Remove drops the batch.
	Remove Kind = iota
	// Persist keeps the batch untouched.
	Persist
	// Update applies buffer actions to an existing batch.
	Update
	// Create materializes a new batch.
	Create
)

func (k Kind) String() string {
	switch k {
	case Remove:
		return "remove"
	case Persist:
		return "persist"
	case Update:
		return "update"
	case Create:
		return "create"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Range is a half-open range [Start, End) of rows.
type Range struct {
	Start, End int
}

// Len returns the number of rows in the range.
func (r Range) Len() int { return r.End - r.Start }

// BufferActions are the row operations applied to one batch.
type BufferActions struct {
	// Remove holds the rows to delete, sorted and deduplicated.
	Remove *bitmap.RowSet
	// Create is the range of the new agent table appended to the batch.
	Create Range
}

// Action is the planned outcome for one batch.
type Action struct {
	Kind Kind
	// OldIndex is the pool position of an existing batch, -1 for Create.
	OldIndex int
	ID       uuid.UUID
	Worker   int
	// Actions is nil for Remove and Persist.
	Actions     *BufferActions
	PlannedSize int
}

// Plan is the complete set of actions for one step.
type Plan struct {
	// Existing is indexed by old batch index.
	Existing []Action
	// Create holds the new batches in worker order.
	Create []Action

	NumAgentsBefore         int
	NumAgentsAfterExecution int
	Removed                 int
	Inbound                 int
}

// Summary counts actions per kind.
type Summary struct {
	Removed   int
	Persisted int
	Updated   int
	Created   int
}

// Summary returns the number of actions per kind.
func (p *Plan) Summary() Summary {
	var s Summary
	for _, a := range p.Existing {
		switch a.Kind {
		case Remove:
			s.Removed++
		case Persist:
			s.Persisted++
		case Update:
			s.Updated++
		case Create:
		}
	}
	s.Created = len(p.Create)
	return s
}

// Compile turns a distribution into a plan. Existing batches are compiled
// first, in pool order, then the new slots; one cursor into the new agent
// table advances across all of them.
func Compile(d *Distribution) *Plan {
	plan := &Plan{
		Existing: make([]Action, len(d.Existing)),
		Inbound:  d.Inbound,
	}
	cursor := 0
	take := func(n int) Range {
		r := Range{Start: cursor, End: cursor + n}
		cursor += n
		return r
	}

	for i, p := range d.Existing {
		plan.NumAgentsBefore += p.CurrentSize
		plan.Removed += p.Removals()

		a := Action{OldIndex: p.OldIndex, ID: p.ID, Worker: p.Worker, PlannedSize: p.PlannedSize}
		switch {
		case p.PlannedSize == 0:
			a.Kind = Remove
		case p.Removals() == 0 && p.InboundCount == 0:
			a.Kind = Persist
		default:
			a.Kind = Update
			a.Actions = &BufferActions{Remove: p.RemoveIndices, Create: take(p.InboundCount)}
		}
		if a.Kind != Remove {
			plan.NumAgentsAfterExecution += p.PlannedSize
		}
		plan.Existing[i] = a
	}

	for _, p := range d.New {
		if p.PlannedSize == 0 {
			continue
		}
		plan.Create = append(plan.Create, Action{
			Kind:        Create,
			OldIndex:    -1,
			Worker:      p.Worker,
			Actions:     &BufferActions{Remove: bitmap.New(), Create: take(p.InboundCount)},
			PlannedSize: p.PlannedSize,
		})
		plan.NumAgentsAfterExecution += p.PlannedSize
	}
	return plan
}
