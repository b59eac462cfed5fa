package command

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hupe1980/stepsync/codec"
	"github.com/hupe1980/stepsync/internal/column"
)

// Message columns every message batch carries.
const (
	FieldFrom = "from"
	FieldTo   = "to"
	FieldType = "type"
	FieldData = "data"
)

// Engine message conventions.
const (
	EngineRecipient = "engine"
	TypeCreateAgent = "create_agent"
	TypeRemoveAgent = "remove_agent"
)

// MessageSchema returns the canonical message schema, optionally extended
// by extra fields.
func MessageSchema(extra ...column.Field) (*column.Schema, error) {
	fields := append([]column.Field{
		{Name: FieldFrom, Type: column.AgentIDType},
		{Name: FieldTo, Type: column.Bytes},
		{Name: FieldType, Type: column.Bytes},
		{Name: FieldData, Type: column.Bytes},
	}, extra...)
	return column.NewSchema(fields...)
}

// Messages is a columnar view over one message batch.
type Messages interface {
	Schema() *column.Schema
	Rows() int
	Column(i int) []byte
}

type messageColumns struct {
	from, to, typ, data int
}

func resolveColumns(s *column.Schema) (messageColumns, error) {
	var mc messageColumns
	for _, c := range []struct {
		name string
		typ  column.Type
		dst  *int
	}{
		{FieldFrom, column.AgentIDType, &mc.from},
		{FieldTo, column.Bytes, &mc.to},
		{FieldType, column.Bytes, &mc.typ},
		{FieldData, column.Bytes, &mc.data},
	} {
		i, ok := s.Index(c.name)
		if !ok {
			return mc, fmt.Errorf("%w: missing %q", ErrInvalidMessageSchema, c.name)
		}
		if got := s.Field(i).Type; got != c.typ {
			return mc, fmt.Errorf("%w: %q is %s, want %s", ErrInvalidMessageSchema, c.name, got, c.typ)
		}
		*c.dst = i
	}
	return mc, nil
}

type removePayload struct {
	AgentID string `json:"agent_id"`
}

// Collect scans message batches for messages addressed to the engine and
// adds the create and remove requests they carry to agg. It returns the
// number of commands added.
func Collect(agg *Aggregator, c codec.Codec, batches ...Messages) (int, error) {
	if c == nil {
		c = codec.Default
	}
	n := 0
	for _, m := range batches {
		mc, err := resolveColumns(m.Schema())
		if err != nil {
			return n, err
		}
		rows := m.Rows()
		for r := 0; r < rows; r++ {
			to := column.BytesAt(m.Column(mc.to), rows, r)
			if !strings.EqualFold(string(to), EngineRecipient) {
				continue
			}
			data := column.BytesAt(m.Column(mc.data), rows, r)
			switch string(column.BytesAt(m.Column(mc.typ), rows, r)) {
			case TypeCreateAgent:
				row, err := codec.DecodeRow(c, data)
				if err != nil {
					return n, fmt.Errorf("%w: create_agent: %w", ErrInvalidPayload, err)
				}
				agg.AddCreate(row)
			case TypeRemoveAgent:
				id, err := removeTarget(c, data, column.AgentIDAt(m.Column(mc.from), r))
				if err != nil {
					return n, err
				}
				agg.AddRemove(id)
			default:
				continue
			}
			n++
		}
	}
	return n, nil
}

// removeTarget returns the agent a remove message refers to. Without an
// explicit agent id the sender removes itself.
func removeTarget(c codec.Codec, data []byte, sender uuid.UUID) (uuid.UUID, error) {
	if len(data) == 0 {
		return sender, nil
	}
	var p removePayload
	if err := c.Unmarshal(data, &p); err != nil {
		return uuid.Nil, fmt.Errorf("%w: remove_agent: %w", ErrInvalidPayload, err)
	}
	if p.AgentID == "" {
		return sender, nil
	}
	id, err := uuid.Parse(p.AgentID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: remove_agent: %w", ErrInvalidPayload, err)
	}
	return id, nil
}
