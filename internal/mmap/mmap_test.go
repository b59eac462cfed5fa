//go:build unix

package mmap

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapping_CreateResize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment")

	m, err := Create(path, 16)
	require.NoError(t, err)
	defer m.Close()

	assert.True(t, m.Writable())
	assert.Equal(t, 16, m.Size())
	copy(m.Bytes(), "hello, segment!!")

	require.NoError(t, m.Resize(8192))
	assert.Equal(t, 8192, m.Size())
	assert.Equal(t, "hello, segment!!", string(m.Bytes()[:16]))

	require.NoError(t, m.Resize(5))
	assert.Equal(t, "hello", string(m.Bytes()))

	assert.ErrorIs(t, m.Resize(-1), ErrInvalidSize)
}

func TestMapping_ReaderSeesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment")

	w, err := Create(path, 4)
	require.NoError(t, err)
	defer w.Close()
	copy(w.Bytes(), "abcd")

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.False(t, r.Writable())
	assert.Equal(t, "abcd", string(r.Bytes()))
	assert.ErrorIs(t, r.Resize(10), ErrReadOnly)

	require.NoError(t, w.Resize(8))
	copy(w.Bytes()[4:], "efgh")

	require.NoError(t, r.Remap())
	assert.Equal(t, "abcdefgh", string(r.Bytes()))
}

func TestMapping_EmptyAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")

	m, err := Create(path, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Size())
	assert.Nil(t, m.Bytes())

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Nil(t, m.Bytes())
	assert.ErrorIs(t, m.Resize(10), ErrClosed)
	assert.ErrorIs(t, m.Remap(), ErrClosed)
}
