package batch

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/stepsync/internal/column"
	"github.com/hupe1980/stepsync/internal/conv"
)

const (
	metaMagic   uint32 = 0x48435442 // "BTCH"
	metaFormat  uint32 = 1
	metaHeader         = 16
	metaColSize        = 25

	// Column offsets in the data block are aligned so typed views can be
	// taken directly over the segment bytes.
	columnAlign = 8
)

type colMeta struct {
	kind   column.Kind
	width  uint32
	offset int
	length int
	crc    uint32
}

type layout struct {
	rows int
	cols []colMeta
}

// end returns the data block length the layout occupies.
func (l *layout) end() int {
	if len(l.cols) == 0 {
		return 0
	}
	last := l.cols[len(l.cols)-1]
	return last.offset + last.length
}

func metadataSize(ncols int) int {
	return metaHeader + ncols*metaColSize
}

func (l *layout) encode() []byte {
	buf := make([]byte, metadataSize(len(l.cols)))
	binary.LittleEndian.PutUint32(buf[0:4], metaMagic)
	binary.LittleEndian.PutUint32(buf[4:8], metaFormat)
	binary.LittleEndian.PutUint32(buf[8:12], conv.MustUint32(l.rows))
	binary.LittleEndian.PutUint32(buf[12:16], conv.MustUint32(len(l.cols)))
	p := buf[metaHeader:]
	for _, c := range l.cols {
		p[0] = byte(c.kind)
		binary.LittleEndian.PutUint32(p[1:5], c.width)
		binary.LittleEndian.PutUint64(p[5:13], uint64(c.offset)) //nolint:gosec // offsets are non-negative
		binary.LittleEndian.PutUint64(p[13:21], uint64(c.length)) //nolint:gosec // lengths are non-negative
		binary.LittleEndian.PutUint32(p[21:25], c.crc)
		p = p[metaColSize:]
	}
	return buf
}

func decodeLayout(buf []byte, dataLen int) (*layout, error) {
	if len(buf) < metaHeader {
		return nil, fmt.Errorf("%w: metadata block of %d bytes", ErrCorrupt, len(buf))
	}
	if magic := binary.LittleEndian.Uint32(buf[0:4]); magic != metaMagic {
		return nil, fmt.Errorf("%w: invalid magic %x", ErrCorrupt, magic)
	}
	if f := binary.LittleEndian.Uint32(buf[4:8]); f != metaFormat {
		return nil, fmt.Errorf("%w: unsupported format %d", ErrCorrupt, f)
	}
	rows, err := conv.Uint32ToInt(binary.LittleEndian.Uint32(buf[8:12]))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	ncols, err := conv.Uint32ToInt(binary.LittleEndian.Uint32(buf[12:16]))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if len(buf) < metadataSize(ncols) {
		return nil, fmt.Errorf("%w: %d columns in %d bytes", ErrCorrupt, ncols, len(buf))
	}

	l := &layout{rows: rows, cols: make([]colMeta, ncols)}
	p := buf[metaHeader:]
	for i := range l.cols {
		off, err := conv.Uint64ToInt(binary.LittleEndian.Uint64(p[5:13]))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		n, err := conv.Uint64ToInt(binary.LittleEndian.Uint64(p[13:21]))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if off+n > dataLen || off+n < off {
			return nil, fmt.Errorf("%w: column %d spans [%d, %d) of %d", ErrCorrupt, i, off, off+n, dataLen)
		}
		l.cols[i] = colMeta{
			kind:   column.Kind(p[0]),
			width:  binary.LittleEndian.Uint32(p[1:5]),
			offset: off,
			length: n,
			crc:    binary.LittleEndian.Uint32(p[21:25]),
		}
		p = p[metaColSize:]
	}
	return l, nil
}

// matches reports whether the layout columns have the schema types.
func (l *layout) matches(s *column.Schema) error {
	if len(l.cols) != s.Len() {
		return fmt.Errorf("%w: %d columns for %d fields", ErrSchemaMismatch, len(l.cols), s.Len())
	}
	for i, c := range l.cols {
		f := s.Field(i)
		if c.kind != f.Type.Kind || (c.kind == column.KindFixedBytes && int(c.width) != f.Type.Width) {
			return fmt.Errorf("%w: field %q is %s in the segment", ErrSchemaMismatch, f.Name, column.Type{Kind: c.kind, Width: int(c.width)})
		}
	}
	return nil
}

func alignUp(n int) int {
	return (n + columnAlign - 1) &^ (columnAlign - 1)
}
