package snapshot

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/stepsync/codec"
	"github.com/hupe1980/stepsync/internal/column"
)

func testSnapshot(t *testing.T, rows ...int) *Snapshot {
	t.Helper()
	schema, err := column.NewAgentSchema(
		column.Field{Name: column.AgentIDField, Type: column.AgentIDType},
		column.Field{Name: "energy", Type: column.Float32},
		column.Field{Name: "label", Type: column.Bytes},
	)
	require.NoError(t, err)

	s := &Snapshot{SimID: "sim", Step: 3, Schema: schema}
	for w, n := range rows {
		ids := column.NewBuilder(column.AgentIDType, n)
		energy := column.NewBuilder(column.Float32, n)
		labels := column.NewBuilder(column.Bytes, n)
		for i := range n {
			require.NoError(t, ids.Append(uuid.New()))
			require.NoError(t, energy.Append(float32(i%7)))
			require.NoError(t, labels.Append("repeated label text"))
		}
		tbl, err := column.NewTable(schema, n, [][]byte{ids.Finish(), energy.Finish(), labels.Finish()})
		require.NoError(t, err)
		s.Groups = append(s.Groups, Group{ID: uuid.New(), Worker: w, Table: tbl})
	}
	return s
}

func TestRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		for _, cd := range []codec.Codec{codec.JSON{}, codec.GoJSON{}} {
			t.Run(c.String()+"/"+cd.Name(), func(t *testing.T) {
				in := testSnapshot(t, 500, 0, 3)
				var buf bytes.Buffer
				require.NoError(t, Write(&buf, in, cd, c))

				out, err := Read(&buf)
				require.NoError(t, err)
				assert.Equal(t, "sim", out.SimID)
				assert.Equal(t, 3, out.Step)
				assert.True(t, in.Schema.Equal(out.Schema))
				assert.Equal(t, 503, out.Rows())
				require.Len(t, out.Groups, 3)
				for i, g := range out.Groups {
					assert.Equal(t, in.Groups[i].ID, g.ID)
					assert.Equal(t, in.Groups[i].Worker, g.Worker)
					for col := range g.Table.Columns() {
						assert.True(t, bytes.Equal(in.Groups[i].Table.Column(col), g.Table.Column(col)), "group %d column %d", i, col)
					}
				}
			})
		}
	}
}

func TestCompressionShrinks(t *testing.T) {
	in := testSnapshot(t, 2000)
	var raw, packed bytes.Buffer
	require.NoError(t, Write(&raw, in, nil, CompressionNone))
	require.NoError(t, Write(&packed, in, nil, CompressionZSTD))
	assert.Less(t, packed.Len(), raw.Len())
}

func TestRead_Invalid(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("not a snapshot")))
	assert.ErrorIs(t, err, ErrInvalidSnapshot)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, testSnapshot(t, 2), codec.JSON{}, CompressionNone))
	data := buf.Bytes()
	// Flip a header byte after the codec name.
	data[20] ^= 0xff
	_, err = Read(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
	data[20] ^= 0xff

	// Flip a byte of the last column block.
	data[len(data)-1] ^= 0xff
	_, err = Read(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
	assert.ErrorContains(t, err, "block checksum")
}
