package stepsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/stepsync/internal/batch"
	"github.com/hupe1980/stepsync/internal/column"
	"github.com/hupe1980/stepsync/internal/command"
	"github.com/hupe1980/stepsync/internal/migration"
	"github.com/hupe1980/stepsync/internal/pool"
	"github.com/hupe1980/stepsync/internal/resource"
	"github.com/hupe1980/stepsync/internal/segment"
	"github.com/hupe1980/stepsync/internal/snapshot"
	"github.com/hupe1980/stepsync/internal/statesync"
)

// StepResult describes a completed step.
type StepResult struct {
	Step      int
	Migration MigrationSummary
	// Agents is the population after the step.
	Agents int
	Groups int
	// Changed holds the positions of the groups rewritten by the step.
	Changed []int
	// UnknownRemovals counts remove requests for agents not in any batch.
	UnknownRemovals int
	Duration        time.Duration
}

// RunStats is a point-in-time view of a run.
type RunStats struct {
	SimID          string
	Step           int
	Groups         int
	Agents         int
	AgentsByWorker []int
	PendingCreates int
	PendingRemoves int
}

// ColumnChange replaces one column of an agent batch. Data must hold the
// encoded column for the batch's current row count.
type ColumnChange struct {
	Field int
	Data  []byte
}

// Run is one simulation run. Steps are driven by a single caller; the
// other methods may be called concurrently.
type Run struct {
	e         *Engine
	simID     string
	schema    *column.Schema
	msgSchema *column.Schema
	ctxSchema *column.Schema
	ctxCols   []int
	logger    *Logger

	pool     *pool.Pool
	agg      *command.Aggregator
	sync     *statesync.Controller
	exec     *migration.Executor
	// contexts alternate by step, so the batch published last is never
	// rewritten by the next step.
	contexts [2]*batch.Batch

	mu      sync.Mutex
	step    atomic.Int64
	stopped atomic.Bool
}

func newRun(ctx context.Context, e *Engine, simID string, schema *Schema) (*Run, error) {
	if schema == nil {
		return nil, &InvalidOptionError{Option: "schema", Value: nil}
	}
	if _, err := column.NewAgentSchema(schema.Fields()...); err != nil {
		return nil, err
	}
	msgSchema, err := command.MessageSchema(e.opts.messageFields...)
	if err != nil {
		return nil, err
	}

	names := []string{column.AgentIDField}
	for _, n := range e.opts.contextFields {
		if !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	ctxSchema, err := schema.Project(names...)
	if err != nil {
		return nil, err
	}
	ctxCols := make([]int, len(names))
	for i, n := range names {
		ctxCols[i], _ = schema.Index(n)
	}

	r := &Run{
		e:         e,
		simID:     simID,
		schema:    schema,
		msgSchema: msgSchema,
		ctxSchema: ctxSchema,
		ctxCols:   ctxCols,
		logger:    e.opts.logger.WithSimID(simID),
		pool:      pool.New(),
		agg:       command.NewAggregator(),
	}
	r.sync = statesync.NewController(simID, e.opts.sender,
		statesync.WithResourceController(resource.NewController(resource.Config{
			SnapshotsPerSecond: e.opts.snapshotRate,
		})),
		statesync.WithObserver(r.observeSync),
	)
	r.exec = migration.NewExecutor(migration.GroupFactoryFunc(r.newGroup), e.rc.WriterLimit())

	for i := range r.contexts {
		seg, err := r.newSegment()
		if err != nil {
			return nil, errors.Join(err, r.closeContexts())
		}
		if r.contexts[i], err = batch.New(ctx, seg, ctxSchema, r.batchOptions()...); err != nil {
			return nil, errors.Join(err, seg.Close(), r.closeContexts())
		}
	}
	return r, nil
}

// SimID returns the run id.
func (r *Run) SimID() string { return r.simID }

// Schema returns the agent schema.
func (r *Run) Schema() *Schema { return r.schema }

// MessageSchema returns the schema of the message batches.
func (r *Run) MessageSchema() *Schema { return r.msgSchema }

// ContextSchema returns the schema of the context batch.
func (r *Run) ContextSchema() *Schema { return r.ctxSchema }

// StepNumber returns the number of completed steps.
func (r *Run) StepNumber() int { return int(r.step.Load()) }

// Commands returns the command queue of the next step.
func (r *Run) Commands() *Commands { return &Commands{agg: r.agg, schema: r.schema} }

// Step advances the run by one step: it folds the queued and messaged
// commands into the population, rebalances the batches, clears the
// message batches, syncs the state and waits for the worker pool to
// reload it, then publishes the context batch.
//
// A failed step does not advance the step number. A step that fails before
// changing the pool keeps its commands for the next step.
func (r *Run) Step(ctx context.Context) (StepResult, error) {
	if r.stopped.Load() {
		return StepResult{}, r.errStopped()
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	step := r.StepNumber()
	l := r.logger.WithStep(step)

	res, err := r.runStep(ctx, step, l)
	err = translateError(err)
	res.Duration = time.Since(start)
	r.e.opts.metricsCollector.RecordStep(res.Duration, res.Agents, err)
	l.LogStep(ctx, step, res.Agents, res.Duration, err)
	if err != nil {
		return res, err
	}
	r.step.Add(1)
	return res, nil
}

func (r *Run) runStep(ctx context.Context, step int, l *Logger) (StepResult, error) {
	res := StepResult{Step: step}

	w, err := r.pool.Write(ctx)
	if err != nil {
		return res, err
	}
	defer w.Release()

	processed, queued, err := r.takeCommands(w.Groups())
	if err != nil {
		return res, err
	}

	pending, found, err := migration.Resolve(w.Groups(), processed.RemoveIDs)
	if err != nil {
		r.agg.Restore(queued)
		return res, err
	}
	res.UnknownRemovals = len(processed.RemoveIDs) - found

	d, err := migration.Distribute(pending, processed.NewAgents.Rows(), r.e.opts.workers, r.e.opts.maxBatchSize)
	if err != nil {
		r.agg.Restore(queued)
		l.LogMigration(ctx, MigrationSummary{}, err)
		return res, err
	}
	plan := migration.Compile(d)
	res.Migration = summarize(plan)
	err = r.exec.Execute(ctx, plan, w, processed.NewAgents)
	l.LogMigration(ctx, res.Migration, err)
	if errors.Is(err, migration.ErrPartiallyApplied) {
		// Some creates already landed; the messages carrying them must not
		// be collected again.
		return res, errors.Join(err, r.clearMessages(ctx, w))
	}
	if err != nil {
		r.agg.Restore(queued)
		return res, err
	}
	r.e.opts.metricsCollector.RecordMigration(res.Migration)

	if err := r.clearMessages(ctx, w); err != nil {
		return res, err
	}
	res.Groups = w.Len()
	res.Changed = w.Changed()
	w.Release()

	rp, err := r.pool.Read(ctx)
	if err != nil {
		return res, err
	}
	done, err := r.sync.StateSync(ctx, rp)
	if err != nil {
		return res, err
	}
	if err := done.Wait(ctx); err != nil {
		return res, err
	}

	rp, err = r.pool.Read(ctx)
	if err != nil {
		return res, err
	}
	defer rp.Release()
	res.Agents = rp.AgentRows()
	cb := r.contexts[step%2]
	if err := r.publishContext(ctx, cb, rp); err != nil {
		return res, err
	}
	if err := r.sync.ContextBatchSync(ctx, cb.Segment(), r.ctxSchema, step, rp.GroupStartIndices()); err != nil {
		return res, err
	}
	return res, nil
}

// takeCommands drains the commands carried by the message batches and the
// queued ones. It returns the combined set and the queued part, which a
// step that fails before touching the pool hands back to the aggregator.
// The message batches are only cleared once their creates were applied.
func (r *Run) takeCommands(groups []*pool.Group) (*command.Processed, *command.Processed, error) {
	msgs := make([]command.Messages, len(groups))
	for i, g := range groups {
		msgs[i] = g.Messages
	}
	scratch := command.NewAggregator()
	if _, err := command.Collect(scratch, r.e.opts.codec, msgs...); err != nil {
		return nil, nil, err
	}
	messaged, err := scratch.Take(r.schema)
	if err != nil {
		return nil, nil, err
	}
	queued, err := r.agg.Take(r.schema)
	if err != nil {
		return nil, nil, err
	}

	newAgents, err := column.Concat(r.schema, queued.NewAgents, messaged.NewAgents)
	if err != nil {
		r.agg.Restore(queued)
		return nil, nil, err
	}
	removes := maps.Clone(queued.RemoveIDs)
	maps.Copy(removes, messaged.RemoveIDs)
	return &command.Processed{NewAgents: newAgents, RemoveIDs: removes}, queued, nil
}

func (r *Run) clearMessages(ctx context.Context, w *pool.WriteProxy) error {
	empty := column.EmptyTable(r.msgSchema)
	for _, g := range w.Groups() {
		if g.Messages.Rows() == 0 {
			continue
		}
		if err := g.Messages.WriteTable(ctx, empty); err != nil {
			return fmt.Errorf("clear messages of group %s: %w", g.ID, err)
		}
		if err := w.MarkChanged(g.ID); err != nil {
			return err
		}
	}
	return nil
}

// publishContext rewrites cb with the context columns of every agent in
// group order.
func (r *Run) publishContext(ctx context.Context, cb *batch.Batch, rp *pool.ReadProxy) error {
	groups := rp.Groups()
	tables := make([]*column.Table, len(groups))
	for i, g := range groups {
		cols := make([][]byte, len(r.ctxCols))
		for j, c := range r.ctxCols {
			cols[j] = g.Agents.Column(c)
		}
		t, err := column.NewTable(r.ctxSchema, g.Agents.Rows(), cols)
		if err != nil {
			return err
		}
		tables[i] = t
	}
	t, err := column.Concat(r.ctxSchema, tables...)
	if err != nil {
		return err
	}
	return cb.WriteTable(ctx, t)
}

// ApplyChanges commits column changes from a behavior runner to the agent
// batch of group groupID. All changes are applied atomically or not at all.
func (r *Run) ApplyChanges(ctx context.Context, groupID uuid.UUID, changes ...ColumnChange) (FlushStats, error) {
	if r.stopped.Load() {
		return FlushStats{}, r.errStopped()
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.pool.Write(ctx)
	if err != nil {
		return FlushStats{}, translateError(err)
	}
	defer w.Release()
	g, ok := w.ByID(groupID)
	if !ok {
		return FlushStats{}, fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	for _, c := range changes {
		if c.Field < 0 || c.Field >= r.schema.Len() {
			return FlushStats{}, fmt.Errorf("%w: column %d out of range", ErrMalformedColumnChange, c.Field)
		}
	}
	for _, c := range changes {
		if err := g.Agents.QueueChange(c.Field, c.Data); err != nil {
			return FlushStats{}, translateError(err)
		}
	}
	stats, err := g.Agents.FlushChanges(ctx)
	if err != nil {
		r.e.opts.metricsCollector.RecordFlush(0, 0, err)
		r.logger.LogFlush(ctx, 0, 0, err)
		return FlushStats{}, translateError(err)
	}
	return stats, nil
}

// WriteMessages replaces the message batch of group groupID. The messages
// are consumed by the next step.
func (r *Run) WriteMessages(ctx context.Context, groupID uuid.UUID, msgs ...AgentMessage) error {
	if r.stopped.Load() {
		return r.errStopped()
	}
	t, err := r.messageTable(msgs)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	w, err := r.pool.Write(ctx)
	if err != nil {
		return translateError(err)
	}
	defer w.Release()
	g, ok := w.ByID(groupID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	return translateError(g.Messages.WriteTable(ctx, t))
}

// Snapshot sends a non-authoritative state snapshot to the worker pool.
// It fails with ErrSnapshotThrottled when over the configured rate.
func (r *Run) Snapshot(ctx context.Context) error {
	if r.stopped.Load() {
		return r.errStopped()
	}
	rp, err := r.pool.Read(ctx)
	if err != nil {
		return translateError(err)
	}
	return translateError(r.sync.StateSnapshotSync(ctx, rp))
}

// Export writes every agent batch to w as a self-describing snapshot.
func (r *Run) Export(ctx context.Context, w io.Writer, c Compression) error {
	if r.stopped.Load() {
		return r.errStopped()
	}
	rp, err := r.pool.Read(ctx)
	if err != nil {
		return translateError(err)
	}
	defer rp.Release()

	s := &snapshot.Snapshot{SimID: r.simID, Step: r.StepNumber(), Schema: r.schema}
	for _, g := range rp.Groups() {
		s.Groups = append(s.Groups, snapshot.Group{ID: g.ID, Worker: g.Worker, Table: g.Agents.Table()})
	}
	return snapshot.Write(w, s, r.e.opts.codec, c)
}

// Groups returns the ids of the groups in pool order.
func (r *Run) Groups(ctx context.Context) ([]uuid.UUID, error) {
	rp, err := r.pool.Read(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	defer rp.Release()
	groups := rp.Groups()
	ids := make([]uuid.UUID, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
	}
	return ids, nil
}

// Stats returns a point-in-time view of the run.
func (r *Run) Stats(ctx context.Context) (RunStats, error) {
	if r.stopped.Load() {
		return RunStats{}, r.errStopped()
	}
	rp, err := r.pool.Read(ctx)
	if err != nil {
		return RunStats{}, translateError(err)
	}
	defer rp.Release()

	st := RunStats{
		SimID:          r.simID,
		Step:           r.StepNumber(),
		AgentsByWorker: make([]int, r.e.opts.workers),
	}
	for _, g := range rp.Groups() {
		st.Groups++
		st.Agents += g.Agents.Rows()
		st.AgentsByWorker[g.Worker] += g.Agents.Rows()
	}
	st.PendingCreates, st.PendingRemoves = r.agg.Len()
	return st, nil
}

func (r *Run) observeSync(kind statesync.Kind, d time.Duration, err error) {
	r.e.opts.metricsCollector.RecordSync(kind, d, err)
	r.logger.LogSync(context.Background(), kind, d, err)
}

func (r *Run) onFlush(s batch.FlushStats) {
	r.e.opts.metricsCollector.RecordFlush(s.Bytes, s.Duration, nil)
}

func (r *Run) batchOptions() []batch.Option {
	return []batch.Option{
		batch.WithWriters(r.e.rc.WriterLimit()),
		batch.WithLogger(r.logger.Logger),
		batch.WithFlushHook(r.onFlush),
	}
}

func (r *Run) newSegment() (*segment.Segment, error) {
	return segment.New(
		segment.WithDir(r.e.opts.sharedMemoryDir),
		segment.WithResourceController(r.e.rc),
		segment.WithLogger(r.logger.Logger),
	)
}

// newGroup creates the empty agent and message batches of a new group.
// The group takes the id of its agent segment.
func (r *Run) newGroup(ctx context.Context, worker int) (*pool.Group, error) {
	aseg, err := r.newSegment()
	if err != nil {
		return nil, err
	}
	agents, err := batch.New(ctx, aseg, r.schema, r.batchOptions()...)
	if err != nil {
		return nil, errors.Join(err, aseg.Close())
	}
	mseg, err := r.newSegment()
	if err != nil {
		return nil, errors.Join(err, agents.Close())
	}
	messages, err := batch.New(ctx, mseg, r.msgSchema, r.batchOptions()...)
	if err != nil {
		return nil, errors.Join(err, mseg.Close(), agents.Close())
	}
	return &pool.Group{ID: aseg.ID(), Worker: worker, Agents: agents, Messages: messages}, nil
}

func (r *Run) errStopped() error {
	return fmt.Errorf("%w: %s stopped", ErrUnknownSimulation, r.simID)
}

func (r *Run) close(ctx context.Context) error {
	r.stopped.Store(true)
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.pool.Close(ctx), r.closeContexts())
}

func (r *Run) closeContexts() error {
	var errs []error
	for _, cb := range r.contexts {
		if cb != nil {
			errs = append(errs, cb.Close())
		}
	}
	return errors.Join(errs...)
}
