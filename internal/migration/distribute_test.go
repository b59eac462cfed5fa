package migration

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/stepsync/internal/bitmap"
	"github.com/hupe1980/stepsync/internal/conv"
)

func pendingBatch(index, worker, size int, removes ...uint32) *PendingBatch {
	return &PendingBatch{
		OldIndex:      index,
		Worker:        worker,
		CurrentSize:   size,
		RemoveIndices: bitmap.New(removes...),
	}
}

func TestWaterFill(t *testing.T) {
	cases := []struct {
		name    string
		base    []int
		inbound int
		want    []int
	}{
		{"balance two workers", []int{7, 4}, 5, []int{1, 4}},
		{"nothing inbound", []int{3, 1}, 0, []int{0, 0}},
		{"single worker", []int{9}, 4, []int{4}},
		{"remainder to lower index", []int{0, 0, 0}, 4, []int{2, 1, 1}},
		{"already uneven", []int{10, 0}, 3, []int{0, 3}},
		{"empty workers", []int{4, 0, 0}, 10, []int{1, 5, 4}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := waterFill(tc.base, tc.inbound)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDistribute_TwoWorkers(t *testing.T) {
	pending := []*PendingBatch{
		pendingBatch(0, 0, 10, 1, 4, 7),
		pendingBatch(1, 1, 4),
	}
	d, err := Distribute(pending, 5, 2, 10)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 4}, d.WorkerInbound)
	assert.Equal(t, 1, pending[0].InboundCount)
	assert.Equal(t, 8, pending[0].PlannedSize)
	assert.Equal(t, 4, pending[1].InboundCount)
	assert.Equal(t, 8, pending[1].PlannedSize)
	assert.Empty(t, d.New)
}

func TestDistribute_VacatedSlotsFirst(t *testing.T) {
	// The second batch has more spare room, but the first batch's vacated
	// slots are refilled before any spare capacity is used.
	pending := []*PendingBatch{
		pendingBatch(0, 0, 6, 0, 1),
		pendingBatch(1, 0, 2, 0),
	}
	d, err := Distribute(pending, 3, 1, 6)
	require.NoError(t, err)

	assert.Equal(t, 2, pending[0].InboundCount)
	assert.Equal(t, 6, pending[0].PlannedSize)
	assert.Equal(t, 1, pending[1].InboundCount)
	assert.Equal(t, 2, pending[1].PlannedSize)
	assert.Empty(t, d.New)
}

func TestDistribute_WorkerWithoutBatches(t *testing.T) {
	pending := []*PendingBatch{pendingBatch(0, 0, 4)}
	d, err := Distribute(pending, 10, 3, 4)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 5, 4}, d.WorkerInbound)
	require.Len(t, d.New, 4)

	var sizes []int
	workers := map[int]int{}
	for _, p := range d.New {
		assert.False(t, p.WrapsBatch())
		assert.LessOrEqual(t, p.PlannedSize, 4)
		sizes = append(sizes, p.PlannedSize)
		workers[p.Worker] += p.PlannedSize
	}
	assert.Equal(t, []int{1, 3, 2, 4}, sizes)
	assert.Equal(t, map[int]int{0: 1, 1: 5, 2: 4}, workers)
}

func TestDistribute_Errors(t *testing.T) {
	_, err := Distribute(nil, 1, 0, 10)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = Distribute(nil, 1, 1, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = Distribute([]*PendingBatch{pendingBatch(0, 2, 1)}, 0, 2, 10)
	assert.ErrorIs(t, err, ErrInvalidWorker)
	_, err = Distribute([]*PendingBatch{pendingBatch(0, 0, 11)}, 0, 1, 10)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestCompile_Kinds(t *testing.T) {
	pending := []*PendingBatch{
		pendingBatch(0, 0, 3, 0, 1, 2), // fully removed
		pendingBatch(1, 0, 5),          // untouched
		pendingBatch(2, 1, 5, 4),       // partial removal
	}
	d, err := Distribute(pending, 0, 2, 5)
	require.NoError(t, err)
	plan := Compile(d)

	require.Len(t, plan.Existing, 3)
	assert.Equal(t, Remove, plan.Existing[0].Kind)
	assert.Nil(t, plan.Existing[0].Actions)
	assert.Equal(t, Persist, plan.Existing[1].Kind)
	assert.Nil(t, plan.Existing[1].Actions)
	assert.Equal(t, Update, plan.Existing[2].Kind)
	assert.Equal(t, []uint32{4}, plan.Existing[2].Actions.Remove.ToSlice())
	assert.Equal(t, 0, plan.Existing[2].Actions.Create.Len())
	assert.Empty(t, plan.Create)

	assert.Equal(t, Summary{Removed: 1, Persisted: 1, Updated: 1}, plan.Summary())
	assert.Equal(t, 13, plan.NumAgentsBefore)
	assert.Equal(t, 4, plan.Removed)
	assert.Equal(t, 9, plan.NumAgentsAfterExecution)
}

func TestCompile_ZeroSizeDominates(t *testing.T) {
	p := pendingBatch(0, 0, 2, 0, 1)
	p.PlannedSize = 0
	p.InboundCount = 2
	plan := Compile(&Distribution{Existing: []*PendingBatch{p}, Workers: 1, MaxBatchSize: 4})

	assert.Equal(t, Remove, plan.Existing[0].Kind)
	assert.Nil(t, plan.Existing[0].Actions)
}

func TestCompile_CursorOrder(t *testing.T) {
	pending := []*PendingBatch{
		pendingBatch(0, 1, 4, 0),
		pendingBatch(1, 0, 4, 0, 3),
	}
	d, err := Distribute(pending, 9, 2, 4)
	require.NoError(t, err)
	plan := Compile(d)

	// Existing batches take the first ranges in pool order, then new slots.
	assert.Equal(t, Range{0, 1}, plan.Existing[0].Actions.Create)
	assert.Equal(t, Range{1, 3}, plan.Existing[1].Actions.Create)
	next := 3
	for _, a := range plan.Create {
		assert.Equal(t, Create, a.Kind)
		assert.Equal(t, next, a.Actions.Create.Start)
		next = a.Actions.Create.End
	}
	assert.Equal(t, 9, next)
}

func TestPlanProperties(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for iter := range 500 {
		workers := 1 + rng.IntN(5)
		maxBatch := 1 + rng.IntN(12)
		var pending []*PendingBatch
		for i := range rng.IntN(8) {
			size := rng.IntN(maxBatch + 1)
			p := pendingBatch(i, rng.IntN(workers), size)
			for r := range size {
				if rng.IntN(3) == 0 {
					p.RemoveIndices.Add(conv.MustUint32(r))
				}
			}
			pending = append(pending, p)
		}
		inbound := rng.IntN(40)

		d, err := Distribute(pending, inbound, workers, maxBatch)
		require.NoError(t, err)
		plan := Compile(d)

		covered := make([]int, inbound)
		check := func(a Action) {
			assert.LessOrEqual(t, a.PlannedSize, maxBatch, "iteration %d: cap", iter)
			if a.Actions == nil {
				return
			}
			for i := a.Actions.Create.Start; i < a.Actions.Create.End; i++ {
				covered[i]++
			}
			if a.Kind == Update {
				top, ok := a.Actions.Remove.Max()
				if ok {
					assert.Less(t, int(top), pending[a.OldIndex].CurrentSize)
				}
			}
		}
		for _, a := range plan.Existing {
			check(a)
		}
		for _, a := range plan.Create {
			check(a)
		}
		for i, n := range covered {
			assert.Equal(t, 1, n, "iteration %d: row %d covered %d times", iter, i, n)
		}
		assert.Equal(t, plan.NumAgentsBefore-plan.Removed+inbound, plan.NumAgentsAfterExecution, "iteration %d: conservation", iter)
	}
}
