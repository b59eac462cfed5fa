// Package migration rebalances the agent population across worker-owned
// batches once per step.
//
// The work is split in three phases:
//
//  1. Resolve turns the drained remove ids into per-batch row indices.
//  2. Distribute decides, per worker and then per batch, how many agents
//     stay and how many newly created agents arrive. Inbound agents are
//     water-filled across workers so that post-step sizes are as equal as
//     integer division allows; within a worker, vacated slots are refilled
//     first, then spare capacity, and only then new batches are opened.
//  3. Compile classifies every batch exactly once as Remove, Persist,
//     Update or Create and assigns contiguous ranges of the new agent
//     table with a single advancing cursor, so the ranges partition the
//     table.
//
// Execute applies a plan to a pool. Persisted batches are not touched.
package migration
