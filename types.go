package stepsync

import (
	"io"

	"github.com/hupe1980/stepsync/internal/batch"
	"github.com/hupe1980/stepsync/internal/column"
	"github.com/hupe1980/stepsync/internal/migration"
	"github.com/hupe1980/stepsync/internal/pool"
	"github.com/hupe1980/stepsync/internal/snapshot"
	"github.com/hupe1980/stepsync/internal/statesync"
)

// Schema, fields and column types.
type (
	Schema = column.Schema
	Field  = column.Field
	Type   = column.Type
	Table  = column.Table
)

// AgentIDField is the agent identifier column every agent schema carries.
const AgentIDField = column.AgentIDField

var (
	Bool    = column.Bool
	Int32   = column.Int32
	Int64   = column.Int64
	Uint32  = column.Uint32
	Float32 = column.Float32
	Float64 = column.Float64
	Bytes   = column.Bytes

	// AgentIDType is the type of the agent identifier column.
	AgentIDType = column.AgentIDType
)

// FixedBytes returns a fixed-width binary type of n bytes.
func FixedBytes(n int) Type { return column.FixedBytes(n) }

// NewAgentSchema creates an agent schema. It must contain AgentIDField.
func NewAgentSchema(fields ...Field) (*Schema, error) { return column.NewAgentSchema(fields...) }

// Worker pool protocol. A worker pool consumes SyncMessages from the
// Sender configured with WithSender.
type (
	Sender               = statesync.Sender
	ChannelSender        = statesync.ChannelSender
	SyncMessage          = statesync.Message
	SyncKind             = statesync.Kind
	StatePayload         = statesync.StatePayload
	StateSnapshotPayload = statesync.StateSnapshotPayload
	ContextBatchPayload  = statesync.ContextBatchPayload
	Completion           = statesync.Completion
	CompletionState      = statesync.State

	// ReadProxy grants shared access to the groups of a run.
	ReadProxy = pool.ReadProxy
	// Group is the agent and message batch pair of one partition.
	Group = pool.Group
	// BatchReader is a worker-side view of a batch segment.
	BatchReader = batch.Reader
	// FlushStats describes one committed batch write.
	FlushStats = batch.FlushStats
)

const (
	SyncState         = statesync.KindState
	SyncStateSnapshot = statesync.KindStateSnapshot
	SyncContextBatch  = statesync.KindContextBatch
)

// NewChannelSender creates a sender backed by a channel of the given
// buffer size.
func NewChannelSender(buffer int) *ChannelSender { return statesync.NewChannelSender(buffer) }

// Compression selects the block compression of exported snapshots.
type Compression = snapshot.Compression

const (
	CompressionNone = snapshot.CompressionNone
	CompressionLZ4  = snapshot.CompressionLZ4
	CompressionZSTD = snapshot.CompressionZSTD
)

// Snapshot is an exported copy of a run's agent batches.
type (
	Snapshot      = snapshot.Snapshot
	SnapshotGroup = snapshot.Group
)

// ReadSnapshot decodes a snapshot written by Run.Export.
func ReadSnapshot(r io.Reader) (*Snapshot, error) { return snapshot.Read(r) }

// MigrationSummary counts what a step's migration did.
type MigrationSummary struct {
	Created      int
	Removed      int
	Persisted    int
	Updated      int
	AgentsBefore int
	AgentsAfter  int
}

func summarize(p *migration.Plan) MigrationSummary {
	s := p.Summary()
	return MigrationSummary{
		Created:      s.Created,
		Removed:      s.Removed,
		Persisted:    s.Persisted,
		Updated:      s.Updated,
		AgentsBefore: p.NumAgentsBefore,
		AgentsAfter:  p.NumAgentsAfterExecution,
	}
}
