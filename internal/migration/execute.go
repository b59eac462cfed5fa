package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/stepsync/internal/column"
	"github.com/hupe1980/stepsync/internal/pool"
)

// GroupFactory creates the batches of a new group.
type GroupFactory interface {
	NewGroup(ctx context.Context, worker int) (*pool.Group, error)
}

// GroupFactoryFunc adapts a function to GroupFactory.
type GroupFactoryFunc func(ctx context.Context, worker int) (*pool.Group, error)

// NewGroup calls f.
func (f GroupFactoryFunc) NewGroup(ctx context.Context, worker int) (*pool.Group, error) {
	return f(ctx, worker)
}

// Executor applies plans to a pool.
type Executor struct {
	factory GroupFactory
	limit   int
}

// NewExecutor creates an executor. limit bounds the number of batches
// mutated concurrently; zero or negative means unbounded.
func NewExecutor(factory GroupFactory, limit int) *Executor {
	return &Executor{factory: factory, limit: limit}
}

// Execute applies plan through w in three phases. The plan is first
// checked against the pool, then the new groups are created and written
// while they are still invisible, and only then are the updated batches
// rewritten concurrently. Groups marked Remove are closed; the resulting
// order is the surviving existing groups followed by the new ones.
//
// A failure before the updated batches are rewritten leaves the pool
// untouched. Any later failure wraps ErrPartiallyApplied: batches already
// rewritten stay rewritten.
func (e *Executor) Execute(ctx context.Context, plan *Plan, w *pool.WriteProxy, newAgents *column.Table) error {
	groups := w.Groups()
	if len(groups) != len(plan.Existing) {
		return fmt.Errorf("%w: %d groups, plan for %d", ErrPlanMismatch, len(groups), len(plan.Existing))
	}
	if plan.Inbound != newAgents.Rows() {
		return fmt.Errorf("%w: %d new agents, plan for %d", ErrPlanMismatch, newAgents.Rows(), plan.Inbound)
	}
	for i, a := range plan.Existing {
		if groups[i].ID != a.ID {
			return fmt.Errorf("%w: group %d is %s, plan expects %s", ErrPlanMismatch, i, groups[i].ID, a.ID)
		}
	}

	updates := make([]*column.Table, len(plan.Existing))
	for i, a := range plan.Existing {
		if a.Kind != Update {
			continue
		}
		next, err := rewrite(groups[i].Agents.Table(), a.Actions, newAgents)
		if err != nil {
			return fmt.Errorf("update group %s: %w", groups[i].ID, err)
		}
		updates[i] = next
	}

	created, err := e.create(ctx, plan.Create, newAgents)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if e.limit > 0 {
		g.SetLimit(e.limit)
	}
	for i, next := range updates {
		if next == nil {
			continue
		}
		grp := groups[i]
		g.Go(func() error {
			if err := grp.Agents.WriteTable(gctx, next); err != nil {
				return fmt.Errorf("update group %s: %w", grp.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Join(partial(err), closeAll(created))
	}

	order := make([]uuid.UUID, 0, len(groups)+len(created))
	for i, a := range plan.Existing {
		if a.Kind == Remove {
			continue
		}
		order = append(order, groups[i].ID)
		if a.Kind == Update {
			if err := w.MarkChanged(groups[i].ID); err != nil {
				return errors.Join(partial(err), closeAll(created))
			}
		}
	}
	for i, grp := range created {
		if err := w.Insert(grp); err != nil {
			return errors.Join(partial(err), closeAll(created[i:]))
		}
		order = append(order, grp.ID)
	}
	if err := w.Reorder(order); err != nil {
		return partial(err)
	}
	return nil
}

func partial(err error) error {
	return fmt.Errorf("%w: %w", ErrPartiallyApplied, err)
}

// create builds and fills the groups of the Create actions. On error every
// group it made is closed again.
func (e *Executor) create(ctx context.Context, actions []Action, newAgents *column.Table) ([]*pool.Group, error) {
	created := make([]*pool.Group, len(actions))
	g, gctx := errgroup.WithContext(ctx)
	if e.limit > 0 {
		g.SetLimit(e.limit)
	}
	for i, a := range actions {
		g.Go(func() error {
			grp, err := e.factory.NewGroup(gctx, a.Worker)
			if err != nil {
				return fmt.Errorf("create group on worker %d: %w", a.Worker, err)
			}
			created[i] = grp
			next, err := rewrite(grp.Agents.Table(), a.Actions, newAgents)
			if err != nil {
				return err
			}
			return grp.Agents.WriteTable(gctx, next)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Join(err, closeAll(created))
	}
	return created, nil
}

func closeAll(groups []*pool.Group) error {
	var errs []error
	for _, grp := range groups {
		if grp != nil {
			errs = append(errs, grp.Close())
		}
	}
	return errors.Join(errs...)
}

// rewrite returns the next content of a batch: removed rows are dropped,
// the survivors keep their order and the assigned new agents are appended.
func rewrite(current *column.Table, actions *BufferActions, newAgents *column.Table) (*column.Table, error) {
	kept := current.Compact(actions.Remove)
	inbound, err := newAgents.Slice(actions.Create.Start, actions.Create.End)
	if err != nil {
		return nil, err
	}
	return column.Concat(kept.Schema(), kept, inbound)
}
