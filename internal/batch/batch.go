package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/stepsync/internal/column"
	"github.com/hupe1980/stepsync/internal/conv"
	"github.com/hupe1980/stepsync/internal/hash"
	"github.com/hupe1980/stepsync/internal/segment"
)

// FlushStats describes one committed write.
type FlushStats struct {
	Bytes    int
	Columns  int
	Resized  bool
	Version  segment.Version
	Duration time.Duration
}

// Option configures a Batch.
type Option func(*Batch)

// WithWriters limits the number of concurrent column writers.
// Zero or negative means one writer per column.
func WithWriters(n int) Option {
	return func(b *Batch) {
		b.writers = n
	}
}

// WithLogger sets the logger for flush events.
func WithLogger(l *slog.Logger) Option {
	return func(b *Batch) {
		b.logger = l
	}
}

// WithFlushHook registers a function called after every committed write.
func WithFlushHook(fn func(FlushStats)) Option {
	return func(b *Batch) {
		b.onFlush = fn
	}
}

// Batch is the writer side of a columnar table stored in a segment.
// It is not safe for concurrent use; exclusive access is granted by the
// owning pool for the duration of a step.
type Batch struct {
	seg     *segment.Segment
	schema  *column.Schema
	lay     *layout
	view    [][]byte
	loaded  segment.Version
	pending map[int][]byte
	writers int
	logger  *slog.Logger
	onFlush func(FlushStats)
}

// New creates a batch over an empty segment and materializes an empty table.
func New(ctx context.Context, seg *segment.Segment, schema *column.Schema, opts ...Option) (*Batch, error) {
	b := newBatch(seg, schema, opts)
	if err := b.WriteTable(ctx, column.EmptyTable(schema)); err != nil {
		return nil, err
	}
	return b, nil
}

// Open binds a batch to a segment that already holds a table of schema.
func Open(seg *segment.Segment, schema *column.Schema, opts ...Option) (*Batch, error) {
	b := newBatch(seg, schema, opts)
	if err := b.decode(); err != nil {
		return nil, err
	}
	return b, nil
}

func newBatch(seg *segment.Segment, schema *column.Schema, opts []Option) *Batch {
	b := &Batch{
		seg:     seg,
		schema:  schema,
		pending: make(map[int][]byte),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ID returns the id of the backing segment.
func (b *Batch) ID() uuid.UUID { return b.seg.ID() }

// Segment returns the backing segment.
func (b *Batch) Segment() *segment.Segment { return b.seg }

// Schema returns the batch schema.
func (b *Batch) Schema() *column.Schema { return b.schema }

// Rows returns the row count of the decoded view.
func (b *Batch) Rows() int { return b.lay.rows }

// Column returns the bytes of column i. The slice aliases the segment and
// is only valid until the next write.
func (b *Batch) Column(i int) []byte { return b.view[i] }

// Table returns the decoded view as a table. The columns alias the segment.
func (b *Batch) Table() *column.Table {
	t, err := column.NewTable(b.schema, b.lay.rows, b.view)
	if err != nil {
		// The view was validated on decode.
		panic(fmt.Sprintf("batch: decoded view is invalid: %v", err))
	}
	return t
}

// LoadedVersion returns the version the view was decoded at.
func (b *Batch) LoadedVersion() segment.Version { return b.loaded }

// PersistedVersion returns the version currently committed in the segment.
func (b *Batch) PersistedVersion() segment.Version { return b.seg.ReadPersistedVersion() }

// Pending returns the number of queued column changes.
func (b *Batch) Pending() int { return len(b.pending) }

// QueueChange stages a replacement of column i. A later change to the same
// column replaces the earlier one.
func (b *Batch) QueueChange(i int, data []byte) error {
	if i < 0 || i >= b.schema.Len() {
		return fmt.Errorf("%w: %d (schema has %d columns)", ErrColumnOutOfRange, i, b.schema.Len())
	}
	b.pending[i] = data
	return nil
}

// FlushChanges commits all queued changes. Columns without a queued change
// keep their bytes. A malformed change aborts the flush before anything is
// written and discards the queue. A flush with an empty queue still commits,
// advancing the batch version with the content unchanged.
func (b *Batch) FlushChanges(ctx context.Context) (FlushStats, error) {
	pending := b.pending
	b.pending = make(map[int][]byte)

	for i, data := range pending {
		f := b.schema.Field(i)
		if err := column.Validate(f.Type, b.lay.rows, data); err != nil {
			return FlushStats{}, &MalformedColumnChangeError{Column: i, Field: f.Name, cause: err}
		}
	}

	cols := make([][]byte, b.schema.Len())
	for i := range cols {
		if data, ok := pending[i]; ok {
			cols[i] = data
		}
	}
	return b.commit(ctx, b.lay.rows, cols)
}

// WriteFull replaces every column with a table of rows rows.
func (b *Batch) WriteFull(ctx context.Context, rows int, cols [][]byte) (FlushStats, error) {
	if len(cols) != b.schema.Len() {
		return FlushStats{}, fmt.Errorf("%w: %d columns for %d fields", ErrColumnOutOfRange, len(cols), b.schema.Len())
	}
	full := make([][]byte, len(cols))
	for i, data := range cols {
		f := b.schema.Field(i)
		if err := column.Validate(f.Type, rows, data); err != nil {
			return FlushStats{}, &MalformedColumnChangeError{Column: i, Field: f.Name, cause: err}
		}
		if data == nil {
			data = []byte{}
		}
		full[i] = data
	}
	clear(b.pending)
	return b.commit(ctx, rows, full)
}

// WriteTable replaces the content with t.
func (b *Batch) WriteTable(ctx context.Context, t *column.Table) error {
	if !t.Schema().Equal(b.schema) {
		return ErrSchemaMismatch
	}
	cols := make([][]byte, t.Columns())
	for i := range cols {
		cols[i] = t.Column(i)
	}
	_, err := b.WriteFull(ctx, t.Rows(), cols)
	return err
}

// commit writes cols (nil entries keep the current column) following the
// order data, metadata, shrink, version, decode.
func (b *Batch) commit(ctx context.Context, rows int, cols [][]byte) (FlushStats, error) {
	start := time.Now()
	base := b.seg.ReadPersistedVersion()

	next := &layout{rows: rows, cols: make([]colMeta, len(cols))}
	writes := make(map[int][]byte, len(cols))
	offset := 0
	for i, data := range cols {
		var m colMeta
		if data != nil {
			f := b.schema.Field(i)
			m = colMeta{
				kind:   f.Type.Kind,
				width:  conv.MustUint32(f.Type.Width),
				length: len(data),
				crc:    hash.CRC32C(data),
			}
		} else {
			m = b.lay.cols[i]
		}
		m.offset = offset
		offset = alignUp(offset + m.length)

		switch {
		case data != nil:
			writes[i] = data
		case m.offset != b.lay.cols[i].offset:
			// Unchanged column that moves; copy it out before the layout changes.
			writes[i] = append([]byte(nil), b.view[i]...)
		}
		next.cols[i] = m
	}
	meta := next.encode()
	dataLen := next.end()

	if err := ctx.Err(); err != nil {
		return FlushStats{}, err
	}

	var delta segment.Delta
	d, err := b.seg.ReserveMetadata(len(meta))
	if err != nil {
		return FlushStats{}, b.abort(err)
	}
	delta = delta.Add(d)
	if d, err = b.seg.SetDataLength(dataLen); err != nil {
		return FlushStats{}, b.abort(err)
	}
	delta = delta.Add(d)

	// Writes are plain copies into disjoint ranges; once started they run to
	// completion so the data block is never left half written.
	var g errgroup.Group
	if b.writers > 0 {
		g.SetLimit(b.writers)
	}
	for i, data := range writes {
		off := next.cols[i].offset
		g.Go(func() error {
			return b.seg.WriteData(off, data)
		})
	}
	if err := g.Wait(); err != nil {
		return FlushStats{}, err
	}

	if err := b.seg.WriteMetadata(meta); err != nil {
		return FlushStats{}, err
	}
	if d, err = b.seg.ShrinkTo(dataLen); err != nil {
		if b.logger != nil {
			b.logger.Warn("segment shrink failed", "batch", b.seg.ID(), "error", err)
		}
	} else {
		delta = delta.Add(d)
	}

	v := base.Next(delta)
	if err := b.seg.PersistVersion(v); err != nil {
		return FlushStats{}, err
	}
	if err := b.decode(); err != nil {
		return FlushStats{}, err
	}

	bytes := 0
	for _, data := range writes {
		bytes += len(data)
	}
	stats := FlushStats{
		Bytes:    bytes,
		Columns:  len(writes),
		Resized:  delta.Resized(),
		Version:  v,
		Duration: time.Since(start),
	}
	if b.logger != nil {
		b.logger.Debug("batch flushed",
			"batch", b.seg.ID(),
			"rows", rows,
			"columns", stats.Columns,
			"bytes", stats.Bytes,
			"version", v.String(),
		)
	}
	if b.onFlush != nil {
		b.onFlush(stats)
	}
	return stats, nil
}

// abort restores the view after a failed resize. Nothing has been written
// and the persisted version is untouched.
func (b *Batch) abort(err error) error {
	if b.lay != nil {
		// A metadata relocation may have moved the data block.
		_, _ = b.seg.SetDataLength(b.lay.end())
		_ = b.decodeAt(b.loaded)
	}
	return err
}

func (b *Batch) decode() error {
	return b.decodeAt(b.seg.ReadPersistedVersion())
}

func (b *Batch) decodeAt(v segment.Version) error {
	lay, view, err := load(b.seg, b.schema, false)
	if err != nil {
		return err
	}
	b.lay, b.view, b.loaded = lay, view, v
	return nil
}

// load decodes the metadata block of seg and slices the data block.
func load(seg *segment.Segment, schema *column.Schema, verify bool) (*layout, [][]byte, error) {
	meta, data, err := seg.View()
	if err != nil {
		return nil, nil, err
	}
	lay, err := decodeLayout(meta, len(data))
	if err != nil {
		return nil, nil, err
	}
	if err := lay.matches(schema); err != nil {
		return nil, nil, err
	}
	view := make([][]byte, len(lay.cols))
	for i, c := range lay.cols {
		view[i] = data[c.offset : c.offset+c.length : c.offset+c.length]
		if verify && hash.CRC32C(view[i]) != c.crc {
			return nil, nil, fmt.Errorf("%w: checksum mismatch in column %d", ErrCorrupt, i)
		}
		if err := column.Validate(schema.Field(i).Type, lay.rows, view[i]); err != nil {
			return nil, nil, fmt.Errorf("%w: column %d: %w", ErrCorrupt, i, err)
		}
	}
	return lay, view, nil
}

// Close releases the backing segment.
func (b *Batch) Close() error {
	b.view = nil
	return b.seg.Close()
}
