// Package snapshot exports the agent batches of a run as a self-describing
// stream for observers.
//
// Format:
//
//	Magic (4 bytes) "STSN"
//	Format (4 bytes)
//	Compression (1 byte)
//	CodecNameLen (1 byte), CodecName
//	HeaderLen (4 bytes), Header encoded with the named codec
//	HeaderCRC (4 bytes) CRC32C from Compression through Header
//	Per group, per column: one block (see writeBlock)
//
// Snapshots are not authoritative state; nothing in the engine reads them
// back.
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/hupe1980/stepsync/codec"
	"github.com/hupe1980/stepsync/internal/column"
	"github.com/hupe1980/stepsync/internal/conv"
	"github.com/hupe1980/stepsync/internal/hash"
)

const (
	magic  uint32 = 0x4E535453 // "STSN"
	format uint32 = 1
)

// ErrInvalidSnapshot is returned for streams that are not snapshots.
var ErrInvalidSnapshot = errors.New("snapshot: invalid snapshot")

// Group is the content of one agent batch.
type Group struct {
	ID     uuid.UUID
	Worker int
	Table  *column.Table
}

// Snapshot is the content of a run at one step.
type Snapshot struct {
	SimID  string
	Step   int
	Schema *column.Schema
	Groups []Group
}

// Rows returns the total number of agents.
func (s *Snapshot) Rows() int {
	n := 0
	for _, g := range s.Groups {
		n += g.Table.Rows()
	}
	return n
}

type fieldHeader struct {
	Name  string `json:"name"`
	Kind  uint8  `json:"kind"`
	Width int    `json:"width,omitempty"`
}

type groupHeader struct {
	ID     string `json:"id"`
	Worker int    `json:"worker"`
	Rows   int    `json:"rows"`
}

type header struct {
	SimID  string        `json:"sim_id"`
	Step   int           `json:"step"`
	Fields []fieldHeader `json:"fields"`
	Groups []groupHeader `json:"groups"`
}

// Write encodes s to w.
func Write(w io.Writer, s *Snapshot, c codec.Codec, compression Compression) error {
	if c == nil {
		c = codec.Default
	}
	h := header{SimID: s.SimID, Step: s.Step}
	for _, f := range s.Schema.Fields() {
		h.Fields = append(h.Fields, fieldHeader{Name: f.Name, Kind: uint8(f.Type.Kind), Width: f.Type.Width})
	}
	for _, g := range s.Groups {
		if !g.Table.Schema().Equal(s.Schema) {
			return fmt.Errorf("group %s: %w", g.ID, column.ErrSchemaMismatch)
		}
		h.Groups = append(h.Groups, groupHeader{ID: g.ID.String(), Worker: g.Worker, Rows: g.Table.Rows()})
	}
	enc, err := c.Marshal(h)
	if err != nil {
		return err
	}
	name := c.Name()
	if len(name) > 255 {
		return fmt.Errorf("snapshot: codec name %q too long", name)
	}
	encLen, err := conv.IntToUint32(len(enc))
	if err != nil {
		return err
	}

	pre := make([]byte, 0, 14+len(name))
	pre = binary.LittleEndian.AppendUint32(pre, magic)
	pre = binary.LittleEndian.AppendUint32(pre, format)
	pre = append(pre, byte(compression), byte(len(name)))
	pre = append(pre, name...)
	pre = binary.LittleEndian.AppendUint32(pre, encLen)
	if _, err := w.Write(pre); err != nil {
		return err
	}
	if _, err := w.Write(enc); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, hash.CRC32CParts(pre[8:], enc)); err != nil {
		return err
	}

	for _, g := range s.Groups {
		for i := range g.Table.Columns() {
			if err := writeBlock(w, g.Table.Column(i), compression); err != nil {
				return fmt.Errorf("group %s column %d: %w", g.ID, i, err)
			}
		}
	}
	return nil
}

// Read decodes a snapshot written by Write.
func Read(r io.Reader) (*Snapshot, error) {
	var pre [10]byte
	if _, err := io.ReadFull(r, pre[:]); err != nil {
		return nil, err
	}
	if m := binary.LittleEndian.Uint32(pre[0:4]); m != magic {
		return nil, fmt.Errorf("%w: magic %x", ErrInvalidSnapshot, m)
	}
	if f := binary.LittleEndian.Uint32(pre[4:8]); f != format {
		return nil, fmt.Errorf("%w: unsupported format %d", ErrInvalidSnapshot, f)
	}
	compression := Compression(pre[8])
	name := make([]byte, pre[9])
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, err
	}
	c, ok := codec.ByName(string(name))
	if !ok {
		return nil, fmt.Errorf("%w: unknown codec %q", ErrInvalidSnapshot, name)
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	enc := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(r, enc); err != nil {
		return nil, err
	}
	var sum uint32
	if err := binary.Read(r, binary.LittleEndian, &sum); err != nil {
		return nil, err
	}
	if hash.CRC32CParts(pre[8:], name, lenBuf[:], enc) != sum {
		return nil, fmt.Errorf("%w: header checksum mismatch", ErrInvalidSnapshot)
	}
	var h header
	if err := c.Unmarshal(enc, &h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}

	fields := make([]column.Field, len(h.Fields))
	for i, f := range h.Fields {
		fields[i] = column.Field{Name: f.Name, Type: column.Type{Kind: column.Kind(f.Kind), Width: f.Width}}
	}
	schema, err := column.NewSchema(fields...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}

	s := &Snapshot{SimID: h.SimID, Step: h.Step, Schema: schema, Groups: make([]Group, len(h.Groups))}
	for gi, gh := range h.Groups {
		id, err := uuid.Parse(gh.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
		}
		cols := make([][]byte, schema.Len())
		for i := range cols {
			if cols[i], err = readBlock(r, compression); err != nil {
				return nil, fmt.Errorf("group %s column %d: %w", id, i, err)
			}
		}
		t, err := column.NewTable(schema, gh.Rows, cols)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
		}
		s.Groups[gi] = Group{ID: id, Worker: gh.Worker, Table: t}
	}
	return s, nil
}
