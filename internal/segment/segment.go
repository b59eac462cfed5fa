package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"github.com/google/uuid"

	"github.com/hupe1980/stepsync/internal/conv"
	"github.com/hupe1980/stepsync/internal/mmap"
	"github.com/hupe1980/stepsync/internal/resource"
)

const (
	// HeaderSize is the fixed size of the segment header.
	HeaderSize = 32

	// ShrinkFactor is the hysteresis applied by ShrinkTo: capacity is only
	// reduced once it exceeds ShrinkFactor times the requested size.
	ShrinkFactor = 3

	// DefaultMetadataCapacity is the initial size of the metadata block.
	DefaultMetadataCapacity = 256

	headerMagic   uint32 = 0x53544550 // "STEP"
	formatVersion uint32 = 1

	pageSize = 4096

	offMagic   = 0
	offFormat  = 4
	offVersion = 8
	offMetaLen = 16
	offMetaCap = 20
	offDataLen = 24
)

// Option configures a Segment.
type Option func(*Segment)

// WithDir backs the segment with a shared file mapping in dir (e.g. /dev/shm).
func WithDir(dir string) Option {
	return func(s *Segment) {
		s.dir = dir
	}
}

// WithResourceController accounts the segment capacity against rc.
func WithResourceController(rc *resource.Controller) Option {
	return func(s *Segment) {
		s.rc = rc
	}
}

// WithLogger sets the logger for resize events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Segment) {
		s.logger = l
	}
}

// WithID overrides the randomly generated segment id.
func WithID(id uuid.UUID) Option {
	return func(s *Segment) {
		s.id = id
	}
}

// Segment is a versioned, resizable block of shared memory.
//
// Mutating methods are not synchronized; callers hold exclusive write access
// for the duration of a mutation. ReadPersistedVersion may be called
// concurrently with writers.
type Segment struct {
	id       uuid.UUID
	dir      string
	b        backing
	owner    bool
	rc       *resource.Controller
	reserved int64
	logger   *slog.Logger
	closed   atomic.Bool
}

// New creates an empty segment owned by the caller.
func New(opts ...Option) (*Segment, error) {
	s := &Segment{id: uuid.New(), owner: true}
	for _, opt := range opts {
		opt(s)
	}

	size := roundPage(HeaderSize + DefaultMetadataCapacity)
	if err := s.reserve(int64(size)); err != nil {
		return nil, err
	}

	if s.dir == "" {
		s.b = newHeapBacking(size)
	} else {
		m, err := mmap.Create(filepath.Join(s.dir, s.id.String()), size)
		if err != nil {
			s.release(int64(size))
			return nil, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
		}
		s.b = &fileBacking{m: m}
	}

	buf := s.b.Bytes()
	binary.LittleEndian.PutUint32(buf[offMagic:], headerMagic)
	binary.LittleEndian.PutUint32(buf[offFormat:], formatVersion)
	binary.LittleEndian.PutUint32(buf[offMetaCap:], DefaultMetadataCapacity)

	return s, nil
}

// Attach maps an existing file-backed segment read-only.
func Attach(path string) (*Segment, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(filepath.Base(path))
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("%w: %s is not a segment file", ErrInvalidHeader, path)
	}
	s := &Segment{id: id, b: &fileBacking{m: m}}
	if err := s.checkHeader(); err != nil {
		m.Close()
		return nil, err
	}
	return s, nil
}

func (s *Segment) checkHeader() error {
	buf := s.b.Bytes()
	if len(buf) < HeaderSize {
		return ErrInvalidHeader
	}
	if magic := binary.LittleEndian.Uint32(buf[offMagic:]); magic != headerMagic {
		return fmt.Errorf("%w: magic %x", ErrInvalidHeader, magic)
	}
	if f := binary.LittleEndian.Uint32(buf[offFormat:]); f != formatVersion {
		return fmt.Errorf("%w: unsupported format %d", ErrInvalidHeader, f)
	}
	if HeaderSize+s.metaCap()+s.dataLen() > len(buf) {
		return fmt.Errorf("%w: layout exceeds mapping", ErrInvalidHeader)
	}
	return nil
}

// ID returns the stable segment id.
func (s *Segment) ID() uuid.UUID { return s.id }

// Path returns the backing file path, or "" for heap-backed segments.
func (s *Segment) Path() string { return s.b.Path() }

// Owned reports whether this handle may mutate the segment.
func (s *Segment) Owned() bool { return s.owner }

// Capacity returns the size of the backing region.
func (s *Segment) Capacity() int { return len(s.b.Bytes()) }

// Len returns the number of bytes in use (header, metadata block and data).
func (s *Segment) Len() int { return HeaderSize + s.metaCap() + s.dataLen() }

func versionWord(buf []byte) *uint64 {
	return (*uint64)(unsafe.Pointer(&buf[offVersion])) //nolint:gosec // header word is 8-byte aligned
}

// ReadPersistedVersion returns the last committed version without side effects.
func (s *Segment) ReadPersistedVersion() Version {
	buf := s.b.Bytes()
	if s.closed.Load() || len(buf) < HeaderSize {
		return Version{}
	}
	return unpackVersion(atomic.LoadUint64(versionWord(buf)))
}

// PersistVersion commits v. It must be the last step of a mutation.
func (s *Segment) PersistVersion(v Version) error {
	if err := s.writable(); err != nil {
		return err
	}
	cur := s.ReadPersistedVersion()
	if !cur.LessOrEqual(v) {
		return fmt.Errorf("%w: %s -> %s", ErrVersionRegression, cur, v)
	}
	atomic.StoreUint64(versionWord(s.b.Bytes()), v.pack())
	return nil
}

// SetDataLength sets the data block length to n, growing the capacity if
// it is insufficient. Growing returns a delta that increments memory.
func (s *Segment) SetDataLength(n int) (Delta, error) {
	if err := s.writable(); err != nil {
		return Delta{}, err
	}
	if n < 0 {
		return Delta{}, fmt.Errorf("%w: negative data length", ErrOutOfBounds)
	}
	d, err := s.ensureCapacity(HeaderSize + s.metaCap() + n)
	if err != nil {
		return Delta{}, err
	}
	s.setDataLen(n)
	return d, nil
}

// ShrinkTo reduces the capacity towards a data block of n bytes once the
// capacity exceeds ShrinkFactor times the required size.
func (s *Segment) ShrinkTo(n int) (Delta, error) {
	if err := s.writable(); err != nil {
		return Delta{}, err
	}
	if n < s.dataLen() {
		return Delta{}, fmt.Errorf("%w: shrink below data length %d", ErrOutOfBounds, s.dataLen())
	}
	need := HeaderSize + s.metaCap() + n
	capacity := s.Capacity()
	if capacity <= ShrinkFactor*need {
		return Delta{}, nil
	}
	target := roundPage(need)
	if target >= capacity {
		return Delta{}, nil
	}
	if err := s.b.Resize(target); err != nil {
		return Delta{}, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}
	s.release(int64(capacity - target))
	if s.logger != nil {
		s.logger.Debug("segment shrunk", "id", s.id, "from", capacity, "to", target)
	}
	return Delta{Memory: 1}, nil
}

// ReserveMetadata makes room for a metadata block of n bytes. Growing the
// block relocates the data block and returns a delta that increments memory.
func (s *Segment) ReserveMetadata(n int) (Delta, error) {
	if err := s.writable(); err != nil {
		return Delta{}, err
	}
	oldCap := s.metaCap()
	if n <= oldCap {
		return Delta{}, nil
	}
	newCap := oldCap
	for newCap < n {
		newCap *= 2
	}
	dataLen := s.dataLen()
	d, err := s.ensureCapacity(HeaderSize + newCap + dataLen)
	if err != nil {
		return Delta{}, err
	}
	buf := s.b.Bytes()
	copy(buf[HeaderSize+newCap:HeaderSize+newCap+dataLen], buf[HeaderSize+oldCap:HeaderSize+oldCap+dataLen])
	binary.LittleEndian.PutUint32(buf[offMetaCap:], conv.MustUint32(newCap))
	return d.Add(Delta{Memory: 1}), nil
}

// WriteMetadata replaces the metadata block.
func (s *Segment) WriteMetadata(p []byte) error {
	if err := s.writable(); err != nil {
		return err
	}
	if len(p) > s.metaCap() {
		return fmt.Errorf("%w: %d > %d", ErrMetadataTooLarge, len(p), s.metaCap())
	}
	buf := s.b.Bytes()
	copy(buf[HeaderSize:], p)
	binary.LittleEndian.PutUint32(buf[offMetaLen:], conv.MustUint32(len(p)))
	return nil
}

// WriteData copies p into the data block at offset.
// Writes to disjoint ranges may run concurrently.
func (s *Segment) WriteData(offset int, p []byte) error {
	if err := s.writable(); err != nil {
		return err
	}
	if offset < 0 || offset+len(p) > s.dataLen() {
		return fmt.Errorf("%w: [%d, %d) of %d", ErrOutOfBounds, offset, offset+len(p), s.dataLen())
	}
	copy(s.Data()[offset:], p)
	return nil
}

// Metadata returns the current metadata block. The slice aliases the segment.
func (s *Segment) Metadata() []byte {
	buf := s.b.Bytes()
	n := s.metaLen()
	return buf[HeaderSize : HeaderSize+n : HeaderSize+n]
}

// Data returns the current data block. The slice aliases the segment and is
// invalidated by any resize.
func (s *Segment) Data() []byte {
	buf := s.b.Bytes()
	start := HeaderSize + s.metaCap()
	end := start + s.dataLen()
	return buf[start:end:end]
}

// View returns the metadata and data blocks, reading the header once. It
// fails with ErrOutOfBounds if the header describes a layout larger than
// the mapping, as seen by a reader that has not remapped after a grow.
func (s *Segment) View() (meta, data []byte, err error) {
	if s.closed.Load() {
		return nil, nil, ErrClosed
	}
	buf := s.b.Bytes()
	metaLen, metaCap, dataLen := s.metaLen(), s.metaCap(), s.dataLen()
	end := HeaderSize + metaCap + dataLen
	if metaLen > metaCap || end > len(buf) {
		return nil, nil, fmt.Errorf("%w: layout of %d bytes exceeds mapping of %d", ErrOutOfBounds, end, len(buf))
	}
	start := HeaderSize + metaCap
	return buf[HeaderSize : HeaderSize+metaLen : HeaderSize+metaLen], buf[start:end:end], nil
}

// Refresh remaps an attached segment after the owner changed its layout.
func (s *Segment) Refresh() error {
	if s.closed.Load() {
		return ErrClosed
	}
	if s.owner {
		return nil
	}
	if err := s.b.Refresh(); err != nil {
		return err
	}
	return s.checkHeader()
}

// Close releases the backing region. For owned file-backed segments the
// backing file is removed.
func (s *Segment) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	path := s.b.Path()
	err := s.b.Close()
	if s.owner {
		s.release(s.reserved)
		if path != "" {
			if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
				err = rmErr
			}
		}
	}
	return err
}

func (s *Segment) writable() error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.owner {
		return ErrReadOnly
	}
	return nil
}

func (s *Segment) ensureCapacity(need int) (Delta, error) {
	capacity := s.Capacity()
	if need <= capacity {
		return Delta{}, nil
	}
	target := roundPage(max(need, capacity+capacity/2))
	grow := int64(target - capacity)
	if err := s.reserve(grow); err != nil {
		return Delta{}, err
	}
	if err := s.b.Resize(target); err != nil {
		s.release(grow)
		return Delta{}, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}
	if s.logger != nil {
		s.logger.Debug("segment grown", "id", s.id, "from", capacity, "to", target)
	}
	return Delta{Memory: 1}, nil
}

func (s *Segment) reserve(n int64) error {
	if err := s.rc.AcquireMemory(n); err != nil {
		return fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}
	s.reserved += n
	return nil
}

func (s *Segment) release(n int64) {
	s.rc.ReleaseMemory(n)
	s.reserved -= n
}

func (s *Segment) metaLen() int {
	return int(binary.LittleEndian.Uint32(s.b.Bytes()[offMetaLen:]))
}

func (s *Segment) metaCap() int {
	return int(binary.LittleEndian.Uint32(s.b.Bytes()[offMetaCap:]))
}

func (s *Segment) dataLen() int {
	n, err := conv.Uint64ToInt(binary.LittleEndian.Uint64(s.b.Bytes()[offDataLen:]))
	if err != nil {
		return 0
	}
	return n
}

func (s *Segment) setDataLen(n int) {
	binary.LittleEndian.PutUint64(s.b.Bytes()[offDataLen:], uint64(n)) //nolint:gosec // n >= 0
}

func roundPage(n int) int {
	return (n + pageSize - 1) &^ (pageSize - 1)
}
