package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByName(t *testing.T) {
	for _, c := range builtin {
		got, ok := ByName(c.Name())
		require.True(t, ok)
		assert.Equal(t, c, got)
	}
	_, ok := ByName("msgpack")
	assert.False(t, ok)
}

func TestDecodeRow(t *testing.T) {
	for _, c := range builtin {
		t.Run(c.Name(), func(t *testing.T) {
			row, err := DecodeRow(c, []byte(` {"agent_id":"a","age":3,"tags":["x"]}`))
			require.NoError(t, err)
			assert.Equal(t, "a", row["agent_id"])
			assert.Equal(t, float64(3), row["age"])
			assert.Equal(t, []any{"x"}, row["tags"])

			for _, empty := range []string{"", "  ", "null"} {
				row, err = DecodeRow(c, []byte(empty))
				require.NoError(t, err)
				assert.Empty(t, row)
				assert.NotNil(t, row)
			}

			_, err = DecodeRow(c, []byte(`[1,2]`))
			assert.ErrorIs(t, err, ErrNotObject)
			_, err = DecodeRow(c, []byte(`{"a":`))
			assert.Error(t, err)
		})
	}
}

func TestMustMarshal(t *testing.T) {
	assert.Equal(t, `"a"`, string(MustMarshal(nil, "a")))
	assert.Equal(t, `{"k":1}`, string(MustMarshal(JSON{}, map[string]int{"k": 1})))
	assert.Panics(t, func() { MustMarshal(JSON{}, make(chan int)) })
}

func BenchmarkDecodeRow(b *testing.B) {
	data := MustMarshal(JSON{}, map[string]any{
		"agent_id": "3f1c8d4e-2b7a-4c1e-9a55-0d6b2f8e7c10",
		"energy":   42.5,
		"name":     "agent",
	})
	for _, c := range builtin {
		b.Run(c.Name(), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(data)))
			for b.Loop() {
				if _, err := DecodeRow(c, data); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
