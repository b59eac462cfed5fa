package column

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hupe1980/stepsync/internal/conv"
)

// RowFilter selects rows by index.
type RowFilter interface {
	Contains(row uint32) bool
}

// Table is an immutable set of equally long encoded columns.
type Table struct {
	schema *Schema
	rows   int
	cols   [][]byte
}

// NewTable validates cols against schema and wraps them. The slices are
// not copied.
func NewTable(schema *Schema, rows int, cols [][]byte) (*Table, error) {
	if rows < 0 {
		return nil, fmt.Errorf("%w: negative row count %d", ErrLengthMismatch, rows)
	}
	if len(cols) != schema.Len() {
		return nil, fmt.Errorf("%w: %d columns for %d fields", ErrSchemaMismatch, len(cols), schema.Len())
	}
	for i, c := range cols {
		f := schema.Field(i)
		if err := Validate(f.Type, rows, c); err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
	}
	return &Table{schema: schema, rows: rows, cols: cols}, nil
}

// EmptyTable returns a table without rows.
func EmptyTable(schema *Schema) *Table {
	cols := make([][]byte, schema.Len())
	for i := range cols {
		cols[i] = Empty(schema.Field(i).Type, 0)
	}
	return &Table{schema: schema, cols: cols}
}

// Schema returns the table schema.
func (t *Table) Schema() *Schema { return t.schema }

// Rows returns the row count.
func (t *Table) Rows() int { return t.rows }

// Columns returns the number of columns.
func (t *Table) Columns() int { return len(t.cols) }

// Column returns the encoded bytes of column i.
func (t *Table) Column(i int) []byte { return t.cols[i] }

// ColumnByName returns the encoded bytes of the named column.
func (t *Table) ColumnByName(name string) ([]byte, bool) {
	i, ok := t.schema.Index(name)
	if !ok {
		return nil, false
	}
	return t.cols[i], true
}

// Slice returns rows [start, end) as a new table.
func (t *Table) Slice(start, end int) (*Table, error) {
	if start < 0 || end > t.rows || start > end {
		return nil, fmt.Errorf("%w: slice [%d, %d) of %d rows", ErrLengthMismatch, start, end, t.rows)
	}
	cols := make([][]byte, len(t.cols))
	for i, c := range t.cols {
		cols[i] = sliceColumn(t.schema.Field(i).Type, t.rows, c, start, end)
	}
	return &Table{schema: t.schema, rows: end - start, cols: cols}, nil
}

// Compact returns the table without the rows selected by remove, keeping
// the order of the survivors.
func (t *Table) Compact(remove RowFilter) *Table {
	keep := make([]int, 0, t.rows)
	for r := 0; r < t.rows; r++ {
		if !remove.Contains(conv.MustUint32(r)) {
			keep = append(keep, r)
		}
	}
	if len(keep) == t.rows {
		return t
	}
	return t.take(keep)
}

func (t *Table) take(rows []int) *Table {
	cols := make([][]byte, len(t.cols))
	for i, c := range t.cols {
		typ := t.schema.Field(i).Type
		b := NewBuilder(typ, len(rows))
		if w, ok := typ.ElemSize(); ok {
			for _, r := range rows {
				b.data = append(b.data, FixedAt(c, w, r)...)
			}
		} else {
			for _, r := range rows {
				b.data = append(b.data, BytesAt(c, t.rows, r)...)
				b.offsets = append(b.offsets, conv.MustUint32(len(b.data)))
			}
		}
		b.rows = len(rows)
		cols[i] = b.Finish()
	}
	return &Table{schema: t.schema, rows: len(rows), cols: cols}
}

// Concat appends tables in order. All tables must share schema.
func Concat(schema *Schema, tables ...*Table) (*Table, error) {
	rows := 0
	for _, t := range tables {
		if !t.schema.Equal(schema) {
			return nil, ErrSchemaMismatch
		}
		rows += t.rows
	}
	cols := make([][]byte, schema.Len())
	for i := range cols {
		typ := schema.Field(i).Type
		if _, ok := typ.ElemSize(); ok {
			var n int
			for _, t := range tables {
				n += len(t.cols[i])
			}
			out := make([]byte, 0, n)
			for _, t := range tables {
				out = append(out, t.cols[i]...)
			}
			cols[i] = out
			continue
		}
		b := NewBuilder(typ, rows)
		for _, t := range tables {
			for r := 0; r < t.rows; r++ {
				b.data = append(b.data, BytesAt(t.cols[i], t.rows, r)...)
				b.offsets = append(b.offsets, conv.MustUint32(len(b.data)))
			}
		}
		b.rows = rows
		cols[i] = b.Finish()
	}
	return &Table{schema: schema, rows: rows, cols: cols}, nil
}

// Value decodes the value at row of column col.
func (t *Table) Value(row, col int) any {
	return Decode(t.schema.Field(col).Type, t.rows, t.cols[col], row)
}

// Decode returns the value of row in an encoded column.
func Decode(typ Type, rows int, data []byte, row int) any {
	switch typ.Kind {
	case KindBool:
		return data[row] != 0
	case KindInt32:
		return int32(binary.LittleEndian.Uint32(data[row*4:])) //nolint:gosec // two's complement decoding
	case KindInt64:
		return int64(binary.LittleEndian.Uint64(data[row*8:])) //nolint:gosec // two's complement decoding
	case KindUint32:
		return binary.LittleEndian.Uint32(data[row*4:])
	case KindFloat32:
		return math.Float32frombits(binary.LittleEndian.Uint32(data[row*4:]))
	case KindFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(data[row*8:]))
	case KindFixedBytes:
		return append([]byte(nil), FixedAt(data, typ.Width, row)...)
	case KindBytes:
		return append([]byte(nil), BytesAt(data, rows, row)...)
	default:
		return nil
	}
}

func sliceColumn(typ Type, rows int, data []byte, start, end int) []byte {
	if w, ok := typ.ElemSize(); ok {
		return data[start*w : end*w : end*w]
	}
	head := (rows + 1) * offsetSize
	base := binary.LittleEndian.Uint32(data[start*offsetSize:])
	last := binary.LittleEndian.Uint32(data[end*offsetSize:])
	out := make([]byte, 0, (end-start+1)*offsetSize+int(last-base))
	for r := start; r <= end; r++ {
		out = binary.LittleEndian.AppendUint32(out, binary.LittleEndian.Uint32(data[r*offsetSize:])-base)
	}
	return append(out, data[head+int(base):head+int(last)]...)
}
