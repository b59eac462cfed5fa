package migration

import (
	"fmt"
	"sort"
)

// Distribution is the result of planning one step.
type Distribution struct {
	// Existing holds one record per existing batch, in pool order.
	Existing []*PendingBatch
	// New holds the new batch slots, ordered by worker.
	New []*PendingBatch
	// WorkerInbound is the number of new agents assigned to each worker.
	WorkerInbound []int

	Workers      int
	MaxBatchSize int
	Inbound      int
}

// Distribute assigns inbound new agents to workers and batches. pending
// must be in pool order; its PlannedSize and InboundCount are set.
func Distribute(pending []*PendingBatch, inbound, workers, maxBatchSize int) (*Distribution, error) {
	if workers <= 0 || maxBatchSize <= 0 || inbound < 0 {
		return nil, fmt.Errorf("%w: workers=%d max batch size=%d inbound=%d", ErrInvalidConfig, workers, maxBatchSize, inbound)
	}

	byWorker := make([][]*PendingBatch, workers)
	base := make([]int, workers)
	for _, p := range pending {
		if p.Worker < 0 || p.Worker >= workers {
			return nil, fmt.Errorf("%w: batch %d on worker %d of %d", ErrInvalidWorker, p.OldIndex, p.Worker, workers)
		}
		if p.CurrentSize > maxBatchSize {
			return nil, fmt.Errorf("%w: batch %d has %d rows, max %d", ErrCapacityExceeded, p.OldIndex, p.CurrentSize, maxBatchSize)
		}
		byWorker[p.Worker] = append(byWorker[p.Worker], p)
		base[p.Worker] += p.Remaining()
	}

	d := &Distribution{
		Existing:      pending,
		WorkerInbound: waterFill(base, inbound),
		Workers:       workers,
		MaxBatchSize:  maxBatchSize,
		Inbound:       inbound,
	}
	for w := range workers {
		d.New = append(d.New, fillWorker(byWorker[w], w, d.WorkerInbound[w], maxBatchSize)...)
	}
	return d, nil
}

// waterFill splits inbound across workers so that base[w]+share[w] is as
// level as possible. Workers at the final level receive the remainder one
// by one in ascending index order.
func waterFill(base []int, inbound int) []int {
	share := make([]int, len(base))
	if inbound == 0 {
		return share
	}

	need := func(level int) int {
		n := 0
		for _, b := range base {
			if level > b {
				n += level - b
			}
		}
		return n
	}

	lo, hi := base[0], base[0]
	for _, b := range base {
		lo, hi = min(lo, b), max(hi, b)
	}
	hi += inbound
	// Largest level whose fill fits into inbound.
	level := lo + sort.Search(hi-lo+1, func(i int) bool { return need(lo+i) > inbound }) - 1

	rest := inbound
	for w, b := range base {
		if level > b {
			share[w] = level - b
			rest -= share[w]
		}
	}
	for w, b := range base {
		if rest == 0 {
			break
		}
		if b <= level {
			share[w]++
			rest--
		}
	}
	return share
}

// fillWorker spreads quota over one worker's batches and returns the new
// slots it had to open.
func fillWorker(batches []*PendingBatch, worker, quota, maxBatchSize int) []*PendingBatch {
	for _, p := range batches {
		p.PlannedSize = p.Remaining()
		p.InboundCount = 0
	}

	// Vacated slots first.
	for _, p := range batches {
		if quota == 0 {
			break
		}
		take := min(quota, p.Removals(), maxBatchSize-p.PlannedSize)
		if take > 0 {
			p.InboundCount += take
			p.PlannedSize += take
			quota -= take
		}
	}
	// Then spare capacity.
	for _, p := range batches {
		if quota == 0 {
			break
		}
		take := min(quota, maxBatchSize-p.PlannedSize)
		if take > 0 {
			p.InboundCount += take
			p.PlannedSize += take
			quota -= take
		}
	}
	if quota == 0 {
		return nil
	}

	// New slots, split evenly.
	n := (quota + maxBatchSize - 1) / maxBatchSize
	slots := make([]*PendingBatch, n)
	for i := range slots {
		size := quota / n
		if i < quota%n {
			size++
		}
		slots[i] = &PendingBatch{
			OldIndex:     -1,
			Worker:       worker,
			PlannedSize:  size,
			InboundCount: size,
		}
	}
	return slots
}
