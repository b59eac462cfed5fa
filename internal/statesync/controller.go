package statesync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hupe1980/stepsync/internal/column"
	"github.com/hupe1980/stepsync/internal/pool"
	"github.com/hupe1980/stepsync/internal/resource"
	"github.com/hupe1980/stepsync/internal/segment"
)

// Observer is notified after every sync attempt. For state syncs it is
// called when the send finishes, not when the completion resolves.
type Observer func(kind Kind, d time.Duration, err error)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithResourceController sets the controller whose snapshot limiter
// throttles StateSnapshotSync.
func WithResourceController(rc *resource.Controller) Option {
	return func(c *Controller) {
		c.rc = rc
	}
}

// WithObserver registers fn for sync events.
func WithObserver(fn Observer) Option {
	return func(c *Controller) {
		c.observe = fn
	}
}

// Controller sends the syncs of one simulation run.
type Controller struct {
	simID   string
	sender  Sender
	rc      *resource.Controller
	logger  *slog.Logger
	observe Observer
}

// NewController creates a controller for simID.
func NewController(simID string, sender Sender, opts ...Option) *Controller {
	c := &Controller{simID: simID, sender: sender}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SimID returns the run the controller serves.
func (c *Controller) SimID() string { return c.simID }

// StateSync sends proxy to the worker pool and returns its completion.
// Ownership of proxy passes to the receiver once the send succeeds; on a
// failed send the proxy is released and the completion is Failed.
func (c *Controller) StateSync(ctx context.Context, proxy *pool.ReadProxy) (*Completion, error) {
	start := time.Now()
	done := newCompletion()
	err := c.send(ctx, StatePayload{Proxy: proxy, done: done})
	if err != nil {
		proxy.Release()
		done.resolve(err)
	}
	c.record(KindState, start, err)
	return done, err
}

// StateSnapshotSync sends proxy without completion tracking. Snapshots
// over the configured rate fail with ErrSnapshotThrottled.
func (c *Controller) StateSnapshotSync(ctx context.Context, proxy *pool.ReadProxy) error {
	start := time.Now()
	if c.rc != nil && !c.rc.AllowSnapshot() {
		proxy.Release()
		c.record(KindStateSnapshot, start, ErrSnapshotThrottled)
		return ErrSnapshotThrottled
	}
	err := c.send(ctx, StateSnapshotPayload{Proxy: proxy})
	if err != nil {
		proxy.Release()
	}
	c.record(KindStateSnapshot, start, err)
	return err
}

// ContextBatchSync sends the context batch of step together with the
// start index of every group.
func (c *Controller) ContextBatchSync(ctx context.Context, seg *segment.Segment, schema *column.Schema, step int, groupStarts []int) error {
	start := time.Now()
	err := c.send(ctx, ContextBatchPayload{
		Segment:           seg,
		Schema:            schema,
		Step:              step,
		GroupStartIndices: groupStarts,
	})
	c.record(KindContextBatch, start, err)
	return err
}

func (c *Controller) send(ctx context.Context, p Payload) error {
	if err := c.sender.Send(ctx, Message{SimID: c.simID, Payload: p}); err != nil {
		return fmt.Errorf("%s sync for %s: %w", p.Kind(), c.simID, err)
	}
	return nil
}

func (c *Controller) record(kind Kind, start time.Time, err error) {
	d := time.Since(start)
	if c.logger != nil {
		if err != nil {
			c.logger.Warn("sync failed", "sim_id", c.simID, "kind", kind.String(), "error", err)
		} else {
			c.logger.Debug("sync sent", "sim_id", c.simID, "kind", kind.String(), "duration", d)
		}
	}
	if c.observe != nil {
		c.observe(kind, d, err)
	}
}
