package batch

import (
	"fmt"
	"unsafe"

	"github.com/google/uuid"

	"github.com/hupe1980/stepsync/internal/column"
)

// viewer is implemented by Batch and Reader.
type viewer interface {
	Schema() *column.Schema
	Rows() int
	Column(i int) []byte
}

func typed[T any](v viewer, i int, want column.Kind) ([]T, error) {
	if err := checkKind(v, i, want); err != nil {
		return nil, err
	}
	data := v.Column(i)
	if len(data) == 0 {
		return nil, nil
	}
	var zero T
	n := len(data) / int(unsafe.Sizeof(zero))
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), n), nil //nolint:gosec // columns are 8 byte aligned
}

func checkKind(v viewer, i int, want column.Kind) error {
	s := v.Schema()
	if i < 0 || i >= s.Len() {
		return fmt.Errorf("%w: %d", ErrColumnOutOfRange, i)
	}
	if got := s.Field(i).Type.Kind; got != want {
		return fmt.Errorf("%w: column %d is %s, not %s", ErrTypeMismatch, i, got, want)
	}
	return nil
}

// Int32s returns column i as a slice aliasing the segment.
func Int32s(v viewer, i int) ([]int32, error) { return typed[int32](v, i, column.KindInt32) }

// Int64s returns column i as a slice aliasing the segment.
func Int64s(v viewer, i int) ([]int64, error) { return typed[int64](v, i, column.KindInt64) }

// Uint32s returns column i as a slice aliasing the segment.
func Uint32s(v viewer, i int) ([]uint32, error) { return typed[uint32](v, i, column.KindUint32) }

// Float32s returns column i as a slice aliasing the segment.
func Float32s(v viewer, i int) ([]float32, error) { return typed[float32](v, i, column.KindFloat32) }

// Float64s returns column i as a slice aliasing the segment.
func Float64s(v viewer, i int) ([]float64, error) { return typed[float64](v, i, column.KindFloat64) }

// FixedBytesAt returns the value of row in FixedBytes column i.
func FixedBytesAt(v viewer, i, row int) ([]byte, error) {
	if err := checkKind(v, i, column.KindFixedBytes); err != nil {
		return nil, err
	}
	return column.FixedAt(v.Column(i), v.Schema().Field(i).Type.Width, row), nil
}

// BytesAt returns the value of row in Bytes column i.
func BytesAt(v viewer, i, row int) ([]byte, error) {
	if err := checkKind(v, i, column.KindBytes); err != nil {
		return nil, err
	}
	return column.BytesAt(v.Column(i), v.Rows(), row), nil
}

// AgentIDs returns the agent ids of the view in row order.
func AgentIDs(v viewer) ([]uuid.UUID, error) {
	i, ok := v.Schema().Index(column.AgentIDField)
	if !ok {
		return nil, fmt.Errorf("%w: no %q column", ErrSchemaMismatch, column.AgentIDField)
	}
	if err := checkKind(v, i, column.KindFixedBytes); err != nil {
		return nil, err
	}
	data := v.Column(i)
	ids := make([]uuid.UUID, v.Rows())
	for r := range ids {
		ids[r] = column.AgentIDAt(data, r)
	}
	return ids, nil
}
