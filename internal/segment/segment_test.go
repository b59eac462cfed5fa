package segment

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/stepsync/internal/resource"
)

func TestVersion_Next(t *testing.T) {
	v := Version{Memory: 2, Batch: 5}

	assert.Equal(t, Version{Memory: 2, Batch: 6}, v.Next(Delta{}))
	assert.Equal(t, Version{Memory: 3, Batch: 6}, v.Next(Delta{Memory: 4}))
	assert.True(t, v.LessOrEqual(v.Next(Delta{})))
	assert.False(t, Version{Memory: 3, Batch: 1}.LessOrEqual(v))
	assert.Equal(t, "v2.5", v.String())
	assert.Equal(t, v, unpackVersion(v.pack()))
}

func TestSegment_SetDataLength(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 4096, s.Capacity())
	assert.Equal(t, Version{}, s.ReadPersistedVersion())

	t.Run("sufficient capacity is a no-op", func(t *testing.T) {
		d, err := s.SetDataLength(100)
		require.NoError(t, err)
		assert.False(t, d.Resized())
		assert.Equal(t, 4096, s.Capacity())
		assert.Len(t, s.Data(), 100)
	})

	t.Run("grow preserves content", func(t *testing.T) {
		require.NoError(t, s.WriteData(0, []byte("payload")))

		d, err := s.SetDataLength(10000)
		require.NoError(t, err)
		assert.True(t, d.Resized())
		assert.GreaterOrEqual(t, s.Capacity(), HeaderSize+DefaultMetadataCapacity+10000)
		assert.Equal(t, "payload", string(s.Data()[:7]))
	})

	t.Run("negative length", func(t *testing.T) {
		_, err := s.SetDataLength(-1)
		assert.ErrorIs(t, err, ErrOutOfBounds)
	})
}

func TestSegment_ShrinkHysteresis(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	_, err = s.SetDataLength(20000)
	require.NoError(t, err)
	grown := s.Capacity()

	// Still above one third of the capacity: no shrink.
	_, err = s.SetDataLength(9000)
	require.NoError(t, err)
	d, err := s.ShrinkTo(9000)
	require.NoError(t, err)
	assert.False(t, d.Resized())
	assert.Equal(t, grown, s.Capacity())

	_, err = s.SetDataLength(100)
	require.NoError(t, err)
	d, err = s.ShrinkTo(100)
	require.NoError(t, err)
	assert.True(t, d.Resized())
	assert.Equal(t, 4096, s.Capacity())

	_, err = s.ShrinkTo(10)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestSegment_ReserveMetadataRelocatesData(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	_, err = s.SetDataLength(3)
	require.NoError(t, err)
	require.NoError(t, s.WriteData(0, []byte("abc")))
	require.NoError(t, s.WriteMetadata([]byte("meta")))

	d, err := s.ReserveMetadata(DefaultMetadataCapacity)
	require.NoError(t, err)
	assert.False(t, d.Resized())

	d, err = s.ReserveMetadata(1000)
	require.NoError(t, err)
	assert.True(t, d.Resized())
	assert.Equal(t, "abc", string(s.Data()))
	assert.Equal(t, "meta", string(s.Metadata()))

	assert.ErrorIs(t, s.WriteMetadata(make([]byte, 5000)), ErrMetadataTooLarge)
	assert.ErrorIs(t, s.WriteData(2, []byte("xy")), ErrOutOfBounds)
}

func TestSegment_PersistVersion(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	v := Version{Memory: 1, Batch: 1}
	require.NoError(t, s.PersistVersion(v))
	assert.Equal(t, v, s.ReadPersistedVersion())

	assert.ErrorIs(t, s.PersistVersion(Version{Memory: 0, Batch: 9}), ErrVersionRegression)
	assert.Equal(t, v, s.ReadPersistedVersion())
}

func TestSegment_OutOfMemory(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 8192})

	s, err := New(WithResourceController(rc))
	require.NoError(t, err)
	assert.Equal(t, int64(4096), rc.MemoryUsage())

	_, err = s.SetDataLength(10000)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	assert.Equal(t, 4096, s.Capacity())
	assert.Empty(t, s.Data())
	assert.Equal(t, Version{}, s.ReadPersistedVersion())

	require.NoError(t, s.Close())
	assert.Equal(t, int64(0), rc.MemoryUsage())
}

func TestSegment_FileBackedAttach(t *testing.T) {
	dir := t.TempDir()

	w, err := New(WithDir(dir))
	require.NoError(t, err)
	require.NotEmpty(t, w.Path())

	_, err = w.SetDataLength(5)
	require.NoError(t, err)
	require.NoError(t, w.WriteData(0, []byte("hello")))
	require.NoError(t, w.PersistVersion(Version{Memory: 0, Batch: 1}))

	r, err := Attach(w.Path())
	require.NoError(t, err)
	defer r.Close()

	assert.False(t, r.Owned())
	assert.Equal(t, w.ID(), r.ID())
	assert.Equal(t, Version{Memory: 0, Batch: 1}, r.ReadPersistedVersion())
	assert.Equal(t, "hello", string(r.Data()))

	_, err = r.SetDataLength(10)
	assert.ErrorIs(t, err, ErrReadOnly)

	// The writer grows; the reader sees the new version through the shared
	// header and remaps before touching the data block.
	d, err := w.SetDataLength(9000)
	require.NoError(t, err)
	require.NoError(t, w.WriteData(8995, []byte("world")))
	require.NoError(t, w.PersistVersion(Version{Memory: 0, Batch: 1}.Next(d)))

	assert.Equal(t, Version{Memory: 1, Batch: 2}, r.ReadPersistedVersion())
	_, _, err = r.View()
	require.ErrorIs(t, err, ErrOutOfBounds)
	require.NoError(t, r.Refresh())
	meta, data, err := r.View()
	require.NoError(t, err)
	assert.Empty(t, meta)
	assert.Len(t, data, 9000)
	assert.Equal(t, "world", string(r.Data()[8995:]))

	path := w.Path()
	require.NoError(t, w.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAttach_Invalid(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "not-a-segment")
	require.NoError(t, err)
	_, _ = f.Write(make([]byte, 64))
	require.NoError(t, f.Close())

	_, err = Attach(f.Name())
	assert.ErrorIs(t, err, ErrInvalidHeader)
}

func TestSegment_Closed(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.SetDataLength(1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Refresh(), ErrClosed)
	assert.Equal(t, Version{}, s.ReadPersistedVersion())
}
