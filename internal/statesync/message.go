package statesync

import (
	"github.com/hupe1980/stepsync/internal/batch"
	"github.com/hupe1980/stepsync/internal/column"
	"github.com/hupe1980/stepsync/internal/pool"
	"github.com/hupe1980/stepsync/internal/segment"
)

// Kind identifies a sync payload.
type Kind int

const (
	KindState Kind = iota
	KindStateSnapshot
	KindContextBatch
)

func (k Kind) String() string {
	switch k {
	case KindState:
		return "state"
	case KindStateSnapshot:
		return "state_snapshot"
	case KindContextBatch:
		return "context_batch"
	default:
		return "unknown"
	}
}

// Payload is one of StatePayload, StateSnapshotPayload or ContextBatchPayload.
type Payload interface {
	Kind() Kind
}

// Message is sent from the engine to the worker pool.
type Message struct {
	SimID   string
	Payload Payload
}

// StatePayload carries the authoritative agent state. The receiver must
// release Proxy and call Ack once it has reloaded.
type StatePayload struct {
	Proxy *pool.ReadProxy
	done  *Completion
}

// Kind returns KindState.
func (StatePayload) Kind() Kind { return KindState }

// Ack resolves the sender's completion. A nil err completes it, anything
// else fails it.
func (p StatePayload) Ack(err error) {
	p.done.resolve(err)
}

// StateSnapshotPayload carries a non-authoritative view of the agent state.
// The receiver must release Proxy.
type StateSnapshotPayload struct {
	Proxy *pool.ReadProxy
}

// Kind returns KindStateSnapshot.
func (StateSnapshotPayload) Kind() Kind { return KindStateSnapshot }

// ContextBatchPayload carries the shared context of a step. The engine
// alternates between two context batches, so the batch of step n stays
// unchanged until the worker pool acks the state sync of step n+2.
type ContextBatchPayload struct {
	Segment           *segment.Segment
	Schema            *column.Schema
	Step              int
	GroupStartIndices []int
}

// Kind returns KindContextBatch.
func (ContextBatchPayload) Kind() Kind { return KindContextBatch }

// Reader returns a read-only view of the context batch.
func (p ContextBatchPayload) Reader() *batch.Reader {
	return batch.NewReader(p.Segment, p.Schema)
}
