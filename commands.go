package stepsync

import (
	"github.com/google/uuid"

	"github.com/hupe1980/stepsync/codec"
	"github.com/hupe1980/stepsync/internal/column"
	"github.com/hupe1980/stepsync/internal/command"
)

// Message conventions understood by the engine.
const (
	EngineRecipient = command.EngineRecipient
	TypeCreateAgent = command.TypeCreateAgent
	TypeRemoveAgent = command.TypeRemoveAgent
)

// Commands queues agent creates and removes for the next step. It is safe
// for concurrent use.
type Commands struct {
	agg    *command.Aggregator
	schema *column.Schema
}

// Create queues a new agent. Fields missing from row take their zero
// value; a missing agent id is generated.
func (c *Commands) Create(row map[string]any) {
	c.agg.AddCreate(row)
}

// Remove queues the removal of agent id.
func (c *Commands) Remove(id uuid.UUID) {
	c.agg.AddRemove(id)
}

// Verify reports the first queued create that references an unknown field.
func (c *Commands) Verify() error {
	return translateError(c.agg.Verify(c.schema))
}

// Len returns the number of queued creates and removes.
func (c *Commands) Len() (creates, removes int) {
	return c.agg.Len()
}

// Reset drops every queued command.
func (c *Commands) Reset() {
	c.agg.Reset()
}

// AgentMessage is one row of a message batch.
type AgentMessage struct {
	From uuid.UUID
	To   string
	Type string
	Data []byte
}

// CreateAgentMessage returns a message asking the engine to create an
// agent with the fields of row.
func CreateAgentMessage(from uuid.UUID, row map[string]any) (AgentMessage, error) {
	data, err := codec.Default.Marshal(row)
	if err != nil {
		return AgentMessage{}, err
	}
	return AgentMessage{From: from, To: EngineRecipient, Type: TypeCreateAgent, Data: data}, nil
}

// RemoveAgentMessage returns a message asking the engine to remove target.
// A nil target removes the sender.
func RemoveAgentMessage(from, target uuid.UUID) AgentMessage {
	m := AgentMessage{From: from, To: EngineRecipient, Type: TypeRemoveAgent}
	if target != uuid.Nil {
		m.Data = codec.MustMarshal(codec.Default, map[string]string{column.AgentIDField: target.String()})
	}
	return m
}

// messageTable encodes msgs in the message schema. Extra fields are zero.
func (r *Run) messageTable(msgs []AgentMessage) (*column.Table, error) {
	cols := make([][]byte, r.msgSchema.Len())
	for i := range cols {
		f := r.msgSchema.Field(i)
		b := column.NewBuilder(f.Type, len(msgs))
		for _, m := range msgs {
			var v any
			switch f.Name {
			case command.FieldFrom:
				v = m.From
			case command.FieldTo:
				v = m.To
			case command.FieldType:
				v = m.Type
			case command.FieldData:
				v = m.Data
			}
			if err := b.Append(v); err != nil {
				return nil, err
			}
		}
		cols[i] = b.Finish()
	}
	return column.NewTable(r.msgSchema, len(msgs), cols)
}
