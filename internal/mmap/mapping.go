package mmap

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
)

var (
	ErrClosed      = errors.New("mmap: mapping is closed")
	ErrInvalidSize = errors.New("mmap: invalid size")
	// ErrReadOnly is returned when resizing a mapping opened with Open.
	ErrReadOnly = errors.New("mmap: mapping is read-only")
	// ErrUnsupported is returned on platforms without shared file mappings.
	ErrUnsupported = errors.New("mmap: shared mappings are not supported on this platform")
)

// Mapping is a shared mapping of a file.
type Mapping struct {
	path     string
	f        *os.File
	data     []byte
	writable bool
	closed   atomic.Bool
}

// Create creates (or truncates) the file at path to size bytes and maps it read-write.
func Create(path string, size int) (*Mapping, error) {
	if size < 0 {
		return nil, ErrInvalidSize
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, err
	}
	m := &Mapping{path: path, f: f, writable: true}
	if size > 0 {
		data, err := osMap(f, size, true)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("mmap %s: %w", path, err)
		}
		m.data = data
	}
	return m, nil
}

// Open maps an existing file read-only.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	m := &Mapping{path: path, f: f}
	if err := m.Remap(); err != nil {
		f.Close()
		return nil, err
	}
	return m, nil
}

// Path returns the path of the mapped file.
func (m *Mapping) Path() string { return m.path }

// Bytes returns the mapped memory.
// Warning: The slice is invalidated by Resize, Remap and Close.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the size of the mapping in bytes.
func (m *Mapping) Size() int {
	return len(m.data)
}

// Writable reports whether the mapping was created with Create.
func (m *Mapping) Writable() bool { return m.writable }

// Resize changes the file length to n bytes and remaps it.
// Contents up to min(old, n) are preserved.
func (m *Mapping) Resize(n int) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if !m.writable {
		return ErrReadOnly
	}
	if n < 0 {
		return ErrInvalidSize
	}
	if n == len(m.data) {
		return nil
	}

	growing := n > len(m.data)
	if growing {
		if err := m.f.Truncate(int64(n)); err != nil {
			return err
		}
	}
	if err := m.swap(n); err != nil {
		if growing {
			// Best effort: restore the previous length.
			_ = m.f.Truncate(int64(len(m.data)))
		}
		return err
	}
	if !growing {
		return m.f.Truncate(int64(n))
	}
	return nil
}

// Remap refreshes a mapping to the current length of the underlying file.
// Readers call it after the owner changed the memory layout.
func (m *Mapping) Remap() error {
	if m.closed.Load() {
		return ErrClosed
	}
	fi, err := m.f.Stat()
	if err != nil {
		return err
	}
	size := fi.Size()
	if size < 0 {
		return ErrInvalidSize
	}
	if int(size) == len(m.data) {
		return nil
	}
	return m.swap(int(size))
}

// swap maps n bytes and releases the previous mapping afterwards.
func (m *Mapping) swap(n int) error {
	var data []byte
	if n > 0 {
		var err error
		data, err = osMap(m.f, n, m.writable)
		if err != nil {
			return fmt.Errorf("mmap %s: %w", m.path, err)
		}
	}
	old := m.data
	m.data = data
	if old != nil {
		return osUnmap(old)
	}
	return nil
}

// Close unmaps the memory and closes the file. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	var err error
	if m.data != nil {
		err = osUnmap(m.data)
		m.data = nil
	}
	if closeErr := m.f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
