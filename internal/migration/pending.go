package migration

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/hupe1980/stepsync/internal/batch"
	"github.com/hupe1980/stepsync/internal/bitmap"
	"github.com/hupe1980/stepsync/internal/conv"
	"github.com/hupe1980/stepsync/internal/pool"
)

// PendingBatch is the per-step planning record of one batch, existing or new.
type PendingBatch struct {
	// OldIndex is the position in the pool, or -1 for a new slot.
	OldIndex int
	// ID is the group id of an existing batch.
	ID     uuid.UUID
	Worker int

	CurrentSize   int
	RemoveIndices *bitmap.RowSet

	// Set by Distribute.
	PlannedSize  int
	InboundCount int
}

// WrapsBatch reports whether the record refers to an existing batch.
func (p *PendingBatch) WrapsBatch() bool { return p.OldIndex >= 0 }

// Removals returns the number of rows leaving the batch.
func (p *PendingBatch) Removals() int { return p.RemoveIndices.Cardinality() }

// Remaining returns the rows left after removals.
func (p *PendingBatch) Remaining() int { return p.CurrentSize - p.Removals() }

// Resolve builds the pending records of groups, in pool order, and
// resolves removeIDs to row indices. It also returns how many of the ids
// were found.
func Resolve(groups []*pool.Group, removeIDs map[uuid.UUID]struct{}) ([]*PendingBatch, int, error) {
	pending := make([]*PendingBatch, len(groups))
	found := 0
	for i, g := range groups {
		p := &PendingBatch{
			OldIndex:      i,
			ID:            g.ID,
			Worker:        g.Worker,
			CurrentSize:   g.Agents.Rows(),
			RemoveIndices: bitmap.New(),
		}
		if len(removeIDs) > 0 {
			ids, err := batch.AgentIDs(g.Agents)
			if err != nil {
				return nil, 0, fmt.Errorf("group %s: %w", g.ID, err)
			}
			for r, id := range ids {
				if _, ok := removeIDs[id]; ok && p.RemoveIndices.Add(conv.MustUint32(r)) {
					found++
				}
			}
		}
		pending[i] = p
	}
	return pending, found, nil
}
