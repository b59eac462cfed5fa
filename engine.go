package stepsync

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/hupe1980/stepsync/internal/command"
	"github.com/hupe1980/stepsync/internal/resource"
)

// Engine hosts independent simulation runs. Runs share the worker pool
// sender and the memory budget, nothing else.
type Engine struct {
	opts options
	rc   *resource.Controller

	mu     sync.Mutex
	runs   map[string]*Run
	closed bool
}

// New creates an engine. WithSender is required.
func New(optFns ...Option) (*Engine, error) {
	o := applyOptions(optFns)
	if err := o.validate(); err != nil {
		return nil, err
	}
	return &Engine{
		opts: o,
		rc: resource.NewController(resource.Config{
			MemoryLimitBytes:   o.memoryLimit,
			MaxParallelWriters: o.parallelWriters,
		}),
		runs: make(map[string]*Run),
	}, nil
}

// StartRun creates the run simID over the agent schema. The initial agents
// are queued as creates and placed by the first step.
func (e *Engine) StartRun(ctx context.Context, simID string, schema *Schema, initial ...map[string]any) (*Run, error) {
	if simID == "" {
		return nil, &InvalidOptionError{Option: "simID", Value: simID}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	if _, ok := e.runs[simID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSimulation, simID)
	}

	r, err := newRun(ctx, e, simID, schema)
	if err != nil {
		return nil, translateError(err)
	}
	check := command.NewAggregator()
	for _, row := range initial {
		check.AddCreate(row)
	}
	if _, err := check.Take(schema); err != nil {
		_ = r.close(ctx)
		return nil, translateError(err)
	}
	for _, row := range initial {
		r.agg.AddCreate(row)
	}

	e.runs[simID] = r
	e.opts.logger.InfoContext(ctx, "run started", "sim_id", simID, "initial_agents", len(initial))
	return r, nil
}

// Run returns the run simID.
func (e *Engine) Run(simID string) (*Run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[simID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSimulation, simID)
	}
	return r, nil
}

// Runs returns the ids of all active runs, sorted.
func (e *Engine) Runs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Sorted(maps.Keys(e.runs))
}

// StateSnapshot sends a state snapshot of run simID.
func (e *Engine) StateSnapshot(ctx context.Context, simID string) error {
	r, err := e.Run(simID)
	if err != nil {
		return err
	}
	return r.Snapshot(ctx)
}

// StopRun stops run simID and releases its segments. It waits until the
// worker pool has released every proxy of the run.
func (e *Engine) StopRun(ctx context.Context, simID string) error {
	e.mu.Lock()
	r, ok := e.runs[simID]
	if ok {
		delete(e.runs, simID)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSimulation, simID)
	}
	err := r.close(ctx)
	e.opts.logger.InfoContext(ctx, "run stopped", "sim_id", simID, "steps", r.StepNumber())
	return err
}

// MemoryUsage returns the segment memory held by all runs.
func (e *Engine) MemoryUsage() int64 { return e.rc.MemoryUsage() }

// PeakMemoryUsage returns the highest segment memory held so far.
func (e *Engine) PeakMemoryUsage() int64 { return e.rc.PeakMemoryUsage() }

// Close stops every run.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	runs := e.runs
	e.runs = make(map[string]*Run)
	e.mu.Unlock()

	var errs []error
	for _, id := range slices.Sorted(maps.Keys(runs)) {
		errs = append(errs, runs[id].close(ctx))
	}
	return errors.Join(errs...)
}
