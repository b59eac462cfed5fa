// Package stepsync is the per-step state synchronization and population
// migration engine of a distributed agent-based simulation.
//
// Workers each own groups of columnar batches (agents and messages) kept
// in versioned shared-memory segments. Once per step the engine folds the
// pending create and remove commands into the population, rebalances the
// agents across worker-owned batches under a maximum batch size, and syncs
// the result to the worker pool. Workers compare segment versions and
// reload only what changed.
//
// # Quick Start
//
//	sender := stepsync.NewChannelSender(16)
//	e, _ := stepsync.New(
//	    stepsync.WithSender(sender),
//	    stepsync.WithWorkers(4),
//	    stepsync.WithMaxBatchSize(1024),
//	)
//	schema, _ := stepsync.NewAgentSchema(
//	    stepsync.Field{Name: stepsync.AgentIDField, Type: stepsync.AgentIDType},
//	    stepsync.Field{Name: "energy", Type: stepsync.Float64},
//	)
//	run, _ := e.StartRun(ctx, "sim-1", schema, initialRows...)
//	res, err := run.Step(ctx)
//
// The worker pool receives SyncMessages from the sender. A StatePayload
// must be acknowledged once the worker pool has reloaded:
//
//	for m := range sender.C() {
//	    switch p := m.Payload.(type) {
//	    case stepsync.StatePayload:
//	        reload(p.Proxy)
//	        p.Proxy.Release()
//	        p.Ack(nil)
//	    case stepsync.StateSnapshotPayload:
//	        p.Proxy.Release()
//	    case stepsync.ContextBatchPayload:
//	        publish(p.Reader(), p.Step, p.GroupStartIndices)
//	    }
//	}
//
// # Step Order
//
// A step collects the create and remove messages addressed to the engine,
// drains the command queue, plans and applies the migration, clears the
// message batches, sends a state sync and waits for its completion, and
// finally publishes the context batch. Within one batch the write order is
// data, then metadata, then version.
//
// The context batch alternates between two segments by step. A worker may
// keep reading the context of step n until it acks the state sync of step
// n+2.
//
// # Known Limitations
//
// An in-flight step cannot be cancelled. A caller that stops waiting on a
// step's context leaves the worker pool unaware of it.
package stepsync
