package segment

import "fmt"

// Version is the (memory, batch) pair used for staleness detection.
type Version struct {
	// Memory changes whenever the capacity or layout of the segment changes.
	Memory uint32
	// Batch changes on every committed content write.
	Batch uint32
}

// Delta records the layout changes made while preparing a write.
type Delta struct {
	Memory uint32
}

// Add combines two deltas.
func (d Delta) Add(o Delta) Delta {
	return Delta{Memory: d.Memory + o.Memory}
}

// Resized reports whether the delta includes a capacity or layout change.
func (d Delta) Resized() bool { return d.Memory > 0 }

// Next returns the version that commits a write with the given delta.
// Batch always advances; Memory advances once if any resize happened.
func (v Version) Next(d Delta) Version {
	next := Version{Memory: v.Memory, Batch: v.Batch + 1}
	if d.Resized() {
		next.Memory++
	}
	return next
}

// LessOrEqual reports whether v ≤ o component-wise.
func (v Version) LessOrEqual(o Version) bool {
	return v.Memory <= o.Memory && v.Batch <= o.Batch
}

func (v Version) String() string {
	return fmt.Sprintf("v%d.%d", v.Memory, v.Batch)
}

func (v Version) pack() uint64 {
	return uint64(v.Memory)<<32 | uint64(v.Batch)
}

func unpackVersion(w uint64) Version {
	return Version{Memory: uint32(w >> 32), Batch: uint32(w)} //nolint:gosec // intentional split of the packed word
}
