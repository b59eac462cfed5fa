package column

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rowSet map[uint32]struct{}

func (s rowSet) Contains(r uint32) bool {
	_, ok := s[r]
	return ok
}

func build(t *testing.T, typ Type, values ...any) []byte {
	t.Helper()
	b := NewBuilder(typ, len(values))
	for _, v := range values {
		require.NoError(t, b.Append(v))
	}
	return b.Finish()
}

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewAgentSchema(
		Field{Name: AgentIDField, Type: AgentIDType},
		Field{Name: "age", Type: Int32},
		Field{Name: "name", Type: Bytes},
	)
	require.NoError(t, err)
	return s
}

func testTable(t *testing.T, names ...string) *Table {
	t.Helper()
	s := testSchema(t)
	ids := make([]any, len(names))
	ages := make([]any, len(names))
	vals := make([]any, len(names))
	for i, n := range names {
		ids[i] = uuid.New()
		ages[i] = i
		vals[i] = n
	}
	tbl, err := NewTable(s, len(names), [][]byte{
		build(t, AgentIDType, ids...),
		build(t, Int32, ages...),
		build(t, Bytes, vals...),
	})
	require.NoError(t, err)
	return tbl
}

func names(tbl *Table) []string {
	out := make([]string, tbl.Rows())
	for r := range out {
		out[r] = string(tbl.Value(r, 2).([]byte))
	}
	return out
}

func TestSchema(t *testing.T) {
	t.Run("duplicate", func(t *testing.T) {
		_, err := NewSchema(Field{Name: "a", Type: Bool}, Field{Name: "a", Type: Int32})
		assert.ErrorIs(t, err, ErrInvalidSchema)
	})

	t.Run("invalid type", func(t *testing.T) {
		_, err := NewSchema(Field{Name: "a", Type: FixedBytes(0)})
		assert.ErrorIs(t, err, ErrInvalidSchema)
	})

	t.Run("agent id required", func(t *testing.T) {
		_, err := NewAgentSchema(Field{Name: "age", Type: Int32})
		assert.ErrorIs(t, err, ErrInvalidSchema)

		_, err = NewAgentSchema(Field{Name: AgentIDField, Type: Bytes})
		assert.ErrorIs(t, err, ErrInvalidSchema)
	})

	t.Run("project", func(t *testing.T) {
		s := testSchema(t)
		p, err := s.Project("name", AgentIDField)
		require.NoError(t, err)
		assert.Equal(t, 2, p.Len())
		assert.Equal(t, "name", p.Field(0).Name)
		assert.False(t, p.Equal(s))

		_, err = s.Project("missing")
		assert.ErrorIs(t, err, ErrInvalidSchema)
	})
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		typ  Type
		rows int
		data []byte
		err  error
	}{
		{"int32 ok", Int32, 2, make([]byte, 8), nil},
		{"int32 short", Int32, 2, make([]byte, 7), ErrLengthMismatch},
		{"bool ok", Bool, 3, make([]byte, 3), nil},
		{"fixed ok", FixedBytes(16), 1, make([]byte, 16), nil},
		{"bytes empty", Bytes, 0, make([]byte, 4), nil},
		{"bytes missing offsets", Bytes, 2, make([]byte, 8), ErrLengthMismatch},
		{"bytes first offset", Bytes, 1, []byte{1, 0, 0, 0, 1, 0, 0, 0, 'a'}, ErrInvalidOffsets},
		{"bytes decreasing", Bytes, 2, []byte{0, 0, 0, 0, 2, 0, 0, 0, 1, 0, 0, 0, 'a', 'b'}, ErrInvalidOffsets},
		{"bytes tail", Bytes, 1, []byte{0, 0, 0, 0, 1, 0, 0, 0, 'a', 'b'}, ErrLengthMismatch},
		{"bytes ok", Bytes, 1, []byte{0, 0, 0, 0, 2, 0, 0, 0, 'a', 'b'}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.typ, tc.rows, tc.data)
			if tc.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.err)
			}
		})
	}
}

func TestBuilder(t *testing.T) {
	t.Run("json numbers", func(t *testing.T) {
		data := build(t, Int64, float64(3), 4, int32(-5))
		require.NoError(t, Validate(Int64, 3, data))
		assert.Equal(t, int64(3), Decode(Int64, 3, data, 0))
		assert.Equal(t, int64(-5), Decode(Int64, 3, data, 2))
	})

	t.Run("rejects fractional integer", func(t *testing.T) {
		b := NewBuilder(Int32, 1)
		assert.ErrorIs(t, b.Append(1.5), ErrInvalidValue)
		assert.Equal(t, 0, b.Len())
	})

	t.Run("range checks", func(t *testing.T) {
		assert.ErrorIs(t, NewBuilder(Uint32, 1).Append(-1), ErrInvalidValue)
		assert.ErrorIs(t, NewBuilder(Int32, 1).Append(int64(1)<<40), ErrInvalidValue)
	})

	t.Run("uuid string", func(t *testing.T) {
		id := uuid.New()
		data := build(t, AgentIDType, id.String(), id)
		assert.Equal(t, id, AgentIDAt(data, 0))
		assert.Equal(t, id, AgentIDAt(data, 1))
	})

	t.Run("fixed width mismatch", func(t *testing.T) {
		assert.ErrorIs(t, NewBuilder(FixedBytes(4), 1).Append([]byte{1, 2}), ErrInvalidValue)
	})

	t.Run("nil is zero", func(t *testing.T) {
		data := build(t, Bytes, "a", nil, "bc")
		require.NoError(t, Validate(Bytes, 3, data))
		assert.Empty(t, BytesAt(data, 3, 1))
		assert.Equal(t, []byte("bc"), BytesAt(data, 3, 2))
	})

	t.Run("floats", func(t *testing.T) {
		data := build(t, Float32, 1, 2.5)
		assert.Equal(t, float32(2.5), Decode(Float32, 2, data, 1))
	})
}

func TestTableSlice(t *testing.T) {
	tbl := testTable(t, "a", "bb", "ccc", "dddd")

	s, err := tbl.Slice(1, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Rows())
	assert.Equal(t, []string{"bb", "ccc"}, names(s))
	assert.Equal(t, int32(1), s.Value(0, 1))
	require.NoError(t, Validate(Bytes, 2, s.Column(2)))

	empty, err := tbl.Slice(2, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Rows())

	_, err = tbl.Slice(3, 5)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestTableCompact(t *testing.T) {
	tbl := testTable(t, "a", "bb", "ccc", "dddd")
	idOf := func(r int) []byte { return tbl.Value(r, 0).([]byte) }

	c := tbl.Compact(rowSet{1: {}, 3: {}})
	assert.Equal(t, []string{"a", "ccc"}, names(c))
	assert.Equal(t, idOf(2), c.Value(1, 0))
	require.NoError(t, Validate(Bytes, 2, c.Column(2)))

	assert.Same(t, tbl, tbl.Compact(rowSet{}))
	assert.Equal(t, 0, tbl.Compact(rowSet{0: {}, 1: {}, 2: {}, 3: {}}).Rows())
}

func TestConcat(t *testing.T) {
	a := testTable(t, "a", "bb")
	b := testTable(t, "ccc")

	c, err := Concat(a.Schema(), a, EmptyTable(a.Schema()), b)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Rows())
	assert.Equal(t, []string{"a", "bb", "ccc"}, names(c))
	require.NoError(t, Validate(Bytes, 3, c.Column(2)))

	other, err := NewAgentSchema(Field{Name: AgentIDField, Type: AgentIDType})
	require.NoError(t, err)
	_, err = Concat(other, a)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}
