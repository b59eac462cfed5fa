package column

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/hupe1980/stepsync/internal/conv"
)

const offsetSize = 4

// EncodedLen returns the byte length of a column of t with rows rows.
// For Bytes it additionally needs the length of the value area.
func EncodedLen(t Type, rows, valueBytes int) int {
	if w, ok := t.ElemSize(); ok {
		return rows * w
	}
	return (rows+1)*offsetSize + valueBytes
}

// Validate checks that data is a well-formed column of type t with rows rows.
func Validate(t Type, rows int, data []byte) error {
	if w, ok := t.ElemSize(); ok {
		if len(data) != rows*w {
			return fmt.Errorf("%w: %s with %d rows needs %d bytes, got %d", ErrLengthMismatch, t, rows, rows*w, len(data))
		}
		return nil
	}
	if t.Kind != KindBytes {
		return fmt.Errorf("%w: unsupported type %s", ErrLengthMismatch, t)
	}
	head := (rows + 1) * offsetSize
	if len(data) < head {
		return fmt.Errorf("%w: %s with %d rows needs at least %d bytes, got %d", ErrLengthMismatch, t, rows, head, len(data))
	}
	prev := uint32(0)
	if first := binary.LittleEndian.Uint32(data); first != 0 {
		return fmt.Errorf("%w: first offset %d", ErrInvalidOffsets, first)
	}
	for i := 1; i <= rows; i++ {
		off := binary.LittleEndian.Uint32(data[i*offsetSize:])
		if off < prev {
			return fmt.Errorf("%w: offset %d decreases at row %d", ErrInvalidOffsets, off, i-1)
		}
		prev = off
	}
	if int(prev) != len(data)-head {
		return fmt.Errorf("%w: %s values end at %d, value area is %d bytes", ErrLengthMismatch, t, prev, len(data)-head)
	}
	return nil
}

// Empty returns the encoding of a column with rows zero values.
func Empty(t Type, rows int) []byte {
	return make([]byte, EncodedLen(t, rows, 0))
}

// FixedAt returns the raw bytes of row in a fixed-width column.
func FixedAt(data []byte, width, row int) []byte {
	return data[row*width : (row+1)*width : (row+1)*width]
}

// BytesAt returns the value of row in a Bytes column with rows rows.
func BytesAt(data []byte, rows, row int) []byte {
	head := (rows + 1) * offsetSize
	start := binary.LittleEndian.Uint32(data[row*offsetSize:])
	end := binary.LittleEndian.Uint32(data[(row+1)*offsetSize:])
	return data[head+int(start) : head+int(end) : head+int(end)]
}

// AgentIDAt returns the agent id stored at row of an agent id column.
func AgentIDAt(data []byte, row int) uuid.UUID {
	var id uuid.UUID
	copy(id[:], FixedAt(data, len(id), row))
	return id
}

// Builder encodes values of one column row by row.
type Builder struct {
	t       Type
	rows    int
	data    []byte   // fixed-width values or the Bytes value area
	offsets []uint32 // Bytes only
}

// NewBuilder creates a builder for t with room for capacity rows.
func NewBuilder(t Type, capacity int) *Builder {
	b := &Builder{t: t}
	if w, ok := t.ElemSize(); ok {
		b.data = make([]byte, 0, capacity*w)
	} else {
		b.offsets = make([]uint32, 1, capacity+1)
	}
	return b
}

// Len returns the number of rows appended.
func (b *Builder) Len() int { return b.rows }

// AppendZero appends the zero value of the type.
func (b *Builder) AppendZero() {
	if w, ok := b.t.ElemSize(); ok {
		b.data = append(b.data, make([]byte, w)...)
	} else {
		b.offsets = append(b.offsets, b.offsets[len(b.offsets)-1])
	}
	b.rows++
}

// Append encodes v. Numbers decoded from JSON (float64) are accepted for
// integer types when they are integral.
func (b *Builder) Append(v any) error {
	if v == nil {
		b.AppendZero()
		return nil
	}
	var err error
	switch b.t.Kind {
	case KindBool:
		err = b.appendBool(v)
	case KindInt32:
		var n int64
		if n, err = toInt64(v); err == nil {
			if n < math.MinInt32 || n > math.MaxInt32 {
				return fmt.Errorf("%w: %d overflows Int32", ErrInvalidValue, n)
			}
			b.data = binary.LittleEndian.AppendUint32(b.data, uint32(int32(n))) //nolint:gosec // range checked
		}
	case KindInt64:
		var n int64
		if n, err = toInt64(v); err == nil {
			b.data = binary.LittleEndian.AppendUint64(b.data, uint64(n)) //nolint:gosec // two's complement encoding
		}
	case KindUint32:
		var n int64
		if n, err = toInt64(v); err == nil {
			if n < 0 || n > math.MaxUint32 {
				return fmt.Errorf("%w: %d overflows Uint32", ErrInvalidValue, n)
			}
			b.data = binary.LittleEndian.AppendUint32(b.data, uint32(n))
		}
	case KindFloat32:
		var f float64
		if f, err = toFloat64(v); err == nil {
			b.data = binary.LittleEndian.AppendUint32(b.data, math.Float32bits(float32(f)))
		}
	case KindFloat64:
		var f float64
		if f, err = toFloat64(v); err == nil {
			b.data = binary.LittleEndian.AppendUint64(b.data, math.Float64bits(f))
		}
	case KindFixedBytes:
		err = b.appendFixed(v)
	case KindBytes:
		err = b.appendBytes(v)
	default:
		err = fmt.Errorf("%w: unsupported type %s", ErrInvalidValue, b.t)
	}
	if err != nil {
		return err
	}
	b.rows++
	return nil
}

func (b *Builder) appendBool(v any) error {
	bv, ok := v.(bool)
	if !ok {
		return fmt.Errorf("%w: %T is not a Bool", ErrInvalidValue, v)
	}
	if bv {
		b.data = append(b.data, 1)
	} else {
		b.data = append(b.data, 0)
	}
	return nil
}

func (b *Builder) appendFixed(v any) error {
	var raw []byte
	switch val := v.(type) {
	case uuid.UUID:
		raw = val[:]
	case []byte:
		raw = val
	case string:
		if b.t.Width == 16 {
			if id, err := uuid.Parse(val); err == nil {
				raw = id[:]
				break
			}
		}
		raw = []byte(val)
	default:
		return fmt.Errorf("%w: %T is not %s", ErrInvalidValue, v, b.t)
	}
	if len(raw) != b.t.Width {
		return fmt.Errorf("%w: %d bytes for %s", ErrInvalidValue, len(raw), b.t)
	}
	b.data = append(b.data, raw...)
	return nil
}

func (b *Builder) appendBytes(v any) error {
	switch val := v.(type) {
	case []byte:
		b.data = append(b.data, val...)
	case string:
		b.data = append(b.data, val...)
	default:
		return fmt.Errorf("%w: %T is not Bytes", ErrInvalidValue, v)
	}
	end, err := conv.IntToUint32(len(b.data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	b.offsets = append(b.offsets, end)
	return nil
}

// Finish returns the encoded column. The builder must not be used afterwards.
func (b *Builder) Finish() []byte {
	if _, ok := b.t.ElemSize(); ok {
		return b.data
	}
	out := make([]byte, 0, len(b.offsets)*offsetSize+len(b.data))
	for _, off := range b.offsets {
		out = binary.LittleEndian.AppendUint32(out, off)
	}
	return append(out, b.data...)
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d overflows int64", ErrInvalidValue, n)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %v is not an integer", ErrInvalidValue, n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("%w: %T is not an integer", ErrInvalidValue, v)
	}
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		i, err := toInt64(v)
		if err != nil {
			return 0, fmt.Errorf("%w: %T is not a number", ErrInvalidValue, v)
		}
		return float64(i), nil
	}
}
