package stepsync

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/stepsync/internal/batch"
	"github.com/hupe1980/stepsync/internal/migration"
	"github.com/hupe1980/stepsync/internal/pool"
	"github.com/hupe1980/stepsync/internal/segment"
)

// ackAll acknowledges every state sync sent over s until the test ends.
func ackAll(t *testing.T, s *ChannelSender) {
	t.Helper()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case m := <-s.C():
				switch p := m.Payload.(type) {
				case StatePayload:
					p.Proxy.Release()
					p.Ack(nil)
				case StateSnapshotPayload:
					p.Proxy.Release()
				}
			case <-s.Gone():
				return
			}
		}
	}()
	t.Cleanup(func() {
		s.Close()
		wg.Wait()
	})
}

func agentIDs(t *testing.T, r *Run) []uuid.UUID {
	t.Helper()
	rp, err := r.pool.Read(context.Background())
	require.NoError(t, err)
	defer rp.Release()
	var ids []uuid.UUID
	for _, g := range rp.Groups() {
		got, err := batch.AgentIDs(g.Agents)
		require.NoError(t, err)
		ids = append(ids, got...)
	}
	return ids
}

func TestRun_FailedCreateKeepsCommands(t *testing.T) {
	ctx := context.Background()
	sender := NewChannelSender(4)
	ackAll(t, sender)
	e, err := New(WithSender(sender), WithWorkers(2), WithMaxBatchSize(4))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(ctx) })

	schema, err := NewAgentSchema(
		Field{Name: AgentIDField, Type: AgentIDType},
		Field{Name: "energy", Type: Float64},
	)
	require.NoError(t, err)
	initial := make([]map[string]any, 6)
	for i := range initial {
		initial[i] = map[string]any{"energy": float64(i)}
	}
	r, err := e.StartRun(ctx, "sim", schema, initial...)
	require.NoError(t, err)
	_, err = r.Step(ctx)
	require.NoError(t, err)

	groups, err := r.Groups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	parent := agentIDs(t, r)[0]
	child, err := CreateAgentMessage(parent, map[string]any{"energy": 99.0})
	require.NoError(t, err)
	require.NoError(t, r.WriteMessages(ctx, groups[0], child))
	for i := range 4 {
		r.Commands().Create(map[string]any{"energy": float64(10 + i)})
	}

	// Eleven agents no longer fit the two batches of four.
	r.exec = migration.NewExecutor(migration.GroupFactoryFunc(func(context.Context, int) (*pool.Group, error) {
		return nil, segment.ErrOutOfMemory
	}), 0)
	_, err = r.Step(ctx)
	require.ErrorIs(t, err, ErrOutOfMemory)
	assert.Equal(t, 1, r.StepNumber())
	assert.Len(t, agentIDs(t, r), 6)
	creates, _ := r.Commands().Len()
	assert.Equal(t, 4, creates)

	r.exec = migration.NewExecutor(migration.GroupFactoryFunc(r.newGroup), e.rc.WriterLimit())
	res, err := r.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 11, res.Agents)

	ids := agentIDs(t, r)
	require.Len(t, ids, 11)
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 11)

	// The message create was applied once.
	res, err = r.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 11, res.Agents)
	assert.Equal(t, 0, res.Migration.Created)
}
