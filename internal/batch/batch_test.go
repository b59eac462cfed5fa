package batch

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/stepsync/internal/column"
	"github.com/hupe1980/stepsync/internal/resource"
	"github.com/hupe1980/stepsync/internal/segment"
)

const (
	colID = iota
	colAge
	colName
)

func testSchema(t *testing.T) *column.Schema {
	t.Helper()
	s, err := column.NewAgentSchema(
		column.Field{Name: column.AgentIDField, Type: column.AgentIDType},
		column.Field{Name: "age", Type: column.Int64},
		column.Field{Name: "name", Type: column.Bytes},
	)
	require.NoError(t, err)
	return s
}

func encode(t *testing.T, typ column.Type, values ...any) []byte {
	t.Helper()
	b := column.NewBuilder(typ, len(values))
	for _, v := range values {
		require.NoError(t, b.Append(v))
	}
	return b.Finish()
}

func testTable(t *testing.T, schema *column.Schema, rows int) *column.Table {
	t.Helper()
	ids := make([]any, rows)
	ages := make([]any, rows)
	names := make([]any, rows)
	for i := range rows {
		ids[i] = uuid.New()
		ages[i] = i
		names[i] = fmt.Sprintf("agent-%d", i)
	}
	tbl, err := column.NewTable(schema, rows, [][]byte{
		encode(t, column.AgentIDType, ids...),
		encode(t, column.Int64, ages...),
		encode(t, column.Bytes, names...),
	})
	require.NoError(t, err)
	return tbl
}

func newTestBatch(t *testing.T, opts ...segment.Option) *Batch {
	t.Helper()
	seg, err := segment.New(opts...)
	require.NoError(t, err)
	b, err := New(context.Background(), seg, testSchema(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestNew(t *testing.T) {
	b := newTestBatch(t)

	assert.Equal(t, 0, b.Rows())
	assert.Equal(t, segment.Version{Memory: 0, Batch: 1}, b.LoadedVersion())
	assert.Equal(t, b.LoadedVersion(), b.PersistedVersion())

	ids, err := AgentIDs(b)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestOpen(t *testing.T) {
	b := newTestBatch(t)
	ctx := context.Background()
	require.NoError(t, b.WriteTable(ctx, testTable(t, b.Schema(), 3)))

	o, err := Open(b.Segment(), b.Schema())
	require.NoError(t, err)
	assert.Equal(t, 3, o.Rows())
	assert.Equal(t, b.LoadedVersion(), o.LoadedVersion())

	other, err := column.NewAgentSchema(column.Field{Name: column.AgentIDField, Type: column.AgentIDType})
	require.NoError(t, err)
	_, err = Open(b.Segment(), other)
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	empty, err := segment.New()
	require.NoError(t, err)
	defer empty.Close()
	_, err = Open(empty, b.Schema())
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestWriteTable(t *testing.T) {
	b := newTestBatch(t)
	ctx := context.Background()
	tbl := testTable(t, b.Schema(), 10)

	require.NoError(t, b.WriteTable(ctx, tbl))
	assert.Equal(t, 10, b.Rows())
	assert.Equal(t, uint32(2), b.LoadedVersion().Batch)

	ages, err := Int64s(b, colAge)
	require.NoError(t, err)
	assert.Equal(t, int64(9), ages[9])

	name, err := BytesAt(b, colName, 4)
	require.NoError(t, err)
	assert.Equal(t, "agent-4", string(name))

	id, err := FixedBytesAt(b, colID, 0)
	require.NoError(t, err)
	assert.Equal(t, tbl.Value(0, colID), id)

	_, err = Float64s(b, colAge)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = Int64s(b, 7)
	assert.ErrorIs(t, err, ErrColumnOutOfRange)
}

func TestQueueChange(t *testing.T) {
	b := newTestBatch(t)
	ctx := context.Background()
	require.NoError(t, b.WriteTable(ctx, testTable(t, b.Schema(), 3)))

	t.Run("out of range", func(t *testing.T) {
		assert.ErrorIs(t, b.QueueChange(3, nil), ErrColumnOutOfRange)
		assert.ErrorIs(t, b.QueueChange(-1, nil), ErrColumnOutOfRange)
	})

	t.Run("flush without changes", func(t *testing.T) {
		v := b.PersistedVersion()
		ids, err := AgentIDs(b)
		require.NoError(t, err)

		stats, err := b.FlushChanges(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Columns)
		assert.Equal(t, segment.Version{Memory: v.Memory, Batch: v.Batch + 1}, b.PersistedVersion())
		assert.Equal(t, b.PersistedVersion(), stats.Version)
		assert.Equal(t, 3, b.Rows())
		got, err := AgentIDs(b)
		require.NoError(t, err)
		assert.Equal(t, ids, got)
	})

	t.Run("longer bytes move later columns", func(t *testing.T) {
		ids, err := AgentIDs(b)
		require.NoError(t, err)
		before := b.PersistedVersion()

		// name is the last column, so change age and name and check that
		// the id column survives.
		require.NoError(t, b.QueueChange(colName, encode(t, column.Bytes, "a much longer name", "b", "")))
		require.NoError(t, b.QueueChange(colAge, encode(t, column.Int64, 40, 41, 42)))
		assert.Equal(t, 2, b.Pending())

		stats, err := b.FlushChanges(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Columns)
		assert.Equal(t, 0, b.Pending())

		after := b.PersistedVersion()
		assert.Equal(t, before.Batch+1, after.Batch)
		assert.Equal(t, after, b.LoadedVersion())

		got, err := AgentIDs(b)
		require.NoError(t, err)
		assert.Equal(t, ids, got)
		name, err := BytesAt(b, colName, 0)
		require.NoError(t, err)
		assert.Equal(t, "a much longer name", string(name))
		ages, err := Int64s(b, colAge)
		require.NoError(t, err)
		assert.Equal(t, []int64{40, 41, 42}, ages)
	})

	t.Run("growing a middle column relocates the tail", func(t *testing.T) {
		s, err := column.NewAgentSchema(
			column.Field{Name: column.AgentIDField, Type: column.AgentIDType},
			column.Field{Name: "note", Type: column.Bytes},
			column.Field{Name: "score", Type: column.Float64},
		)
		require.NoError(t, err)
		seg, err := segment.New()
		require.NoError(t, err)
		mb, err := New(ctx, seg, s)
		require.NoError(t, err)
		defer mb.Close()

		_, err = mb.WriteFull(ctx, 2, [][]byte{
			encode(t, column.AgentIDType, uuid.New(), uuid.New()),
			encode(t, column.Bytes, "x", "y"),
			encode(t, column.Float64, 1.5, 2.5),
		})
		require.NoError(t, err)

		require.NoError(t, mb.QueueChange(1, encode(t, column.Bytes, "a lot more text here", "and here")))
		_, err = mb.FlushChanges(ctx)
		require.NoError(t, err)

		scores, err := Float64s(mb, 2)
		require.NoError(t, err)
		assert.Equal(t, []float64{1.5, 2.5}, scores)
	})
}

func TestFlushChanges_Malformed(t *testing.T) {
	b := newTestBatch(t)
	ctx := context.Background()
	require.NoError(t, b.WriteTable(ctx, testTable(t, b.Schema(), 4)))

	v := b.PersistedVersion()
	data := append([]byte(nil), b.Segment().Data()...)

	// A valid change queued alongside a malformed one must not be applied.
	require.NoError(t, b.QueueChange(colName, encode(t, column.Bytes, "a", "b", "c", "d")))
	require.NoError(t, b.QueueChange(colAge, make([]byte, 7)))

	_, err := b.FlushChanges(ctx)
	require.ErrorIs(t, err, ErrMalformedColumnChange)
	var mce *MalformedColumnChangeError
	require.ErrorAs(t, err, &mce)
	assert.Equal(t, colAge, mce.Column)
	assert.Equal(t, "age", mce.Field)
	assert.ErrorIs(t, err, column.ErrLengthMismatch)

	assert.Equal(t, v, b.PersistedVersion())
	assert.Equal(t, data, b.Segment().Data())
	assert.Equal(t, 0, b.Pending())
}

func TestWriteFull_Malformed(t *testing.T) {
	b := newTestBatch(t)
	v := b.PersistedVersion()

	_, err := b.WriteFull(context.Background(), 1, [][]byte{make([]byte, 16), make([]byte, 8)})
	assert.ErrorIs(t, err, ErrColumnOutOfRange)

	_, err = b.WriteFull(context.Background(), 1, [][]byte{make([]byte, 15), make([]byte, 8), make([]byte, 4)})
	assert.ErrorIs(t, err, ErrMalformedColumnChange)
	assert.Equal(t, v, b.PersistedVersion())
}

func TestVersionMonotonic(t *testing.T) {
	b := newTestBatch(t)
	ctx := context.Background()

	prev := b.PersistedVersion()
	for _, rows := range []int{5, 500, 2000, 0, 3, 0} {
		require.NoError(t, b.WriteTable(ctx, testTable(t, b.Schema(), rows)))
		v := b.PersistedVersion()
		assert.True(t, prev.LessOrEqual(v), "%s -> %s", prev, v)
		assert.Equal(t, prev.Batch+1, v.Batch)
		assert.Equal(t, rows, b.Rows())
		prev = v
	}
	// Growing to 2000 rows and shrinking back both change the layout.
	assert.GreaterOrEqual(t, prev.Memory, uint32(2))
}

func TestResizeFailure(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 4096})
	b := newTestBatch(t, segment.WithResourceController(rc))
	ctx := context.Background()
	require.NoError(t, b.WriteTable(ctx, testTable(t, b.Schema(), 2)))

	v := b.PersistedVersion()
	ids, err := AgentIDs(b)
	require.NoError(t, err)

	err = b.WriteTable(ctx, testTable(t, b.Schema(), 1000))
	require.ErrorIs(t, err, segment.ErrOutOfMemory)

	assert.Equal(t, v, b.PersistedVersion())
	assert.Equal(t, 2, b.Rows())
	got, err := AgentIDs(b)
	require.NoError(t, err)
	assert.Equal(t, ids, got)
}

func TestFlushHook(t *testing.T) {
	var calls []FlushStats
	seg, err := segment.New()
	require.NoError(t, err)
	b, err := New(context.Background(), seg, testSchema(t), WithWriters(1), WithFlushHook(func(s FlushStats) {
		calls = append(calls, s)
	}))
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.WriteTable(context.Background(), testTable(t, b.Schema(), 1000)))
	require.Len(t, calls, 2)
	assert.True(t, calls[1].Resized)
	assert.Equal(t, 3, calls[1].Columns)
}

func TestCancelledContext(t *testing.T) {
	b := newTestBatch(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := b.PersistedVersion()
	err := b.WriteTable(ctx, testTable(t, b.Schema(), 3))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, v, b.PersistedVersion())
}
