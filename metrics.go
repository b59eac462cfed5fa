package stepsync

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the metric
// package provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordStep is called after each step. agents is the population after
	// the step, err is nil if successful.
	RecordStep(duration time.Duration, agents int, err error)

	// RecordMigration is called after each applied migration plan.
	RecordMigration(s MigrationSummary)

	// RecordSync is called after each sync sent to the worker pool.
	RecordSync(kind SyncKind, duration time.Duration, err error)

	// RecordFlush is called after each batch write.
	RecordFlush(bytes int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordStep(time.Duration, int, error)      {}
func (NoopMetricsCollector) RecordMigration(MigrationSummary)          {}
func (NoopMetricsCollector) RecordSync(SyncKind, time.Duration, error) {}
func (NoopMetricsCollector) RecordFlush(int, time.Duration, error)     {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	StepCount      atomic.Int64
	StepErrors     atomic.Int64
	StepTotalNanos atomic.Int64
	Agents         atomic.Int64
	Created        atomic.Int64
	Removed        atomic.Int64
	Persisted      atomic.Int64
	Updated        atomic.Int64
	SyncCount      atomic.Int64
	SyncErrors     atomic.Int64
	FlushCount     atomic.Int64
	FlushErrors    atomic.Int64
	FlushBytes     atomic.Int64
}

// RecordStep implements MetricsCollector.
func (b *BasicMetricsCollector) RecordStep(duration time.Duration, agents int, err error) {
	b.StepCount.Add(1)
	b.StepTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.StepErrors.Add(1)
		return
	}
	b.Agents.Store(int64(agents))
}

// RecordMigration implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMigration(s MigrationSummary) {
	b.Created.Add(int64(s.Created))
	b.Removed.Add(int64(s.Removed))
	b.Persisted.Add(int64(s.Persisted))
	b.Updated.Add(int64(s.Updated))
}

// RecordSync implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSync(_ SyncKind, _ time.Duration, err error) {
	b.SyncCount.Add(1)
	if err != nil {
		b.SyncErrors.Add(1)
	}
}

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(bytes int, _ time.Duration, err error) {
	b.FlushCount.Add(1)
	if err != nil {
		b.FlushErrors.Add(1)
		return
	}
	b.FlushBytes.Add(int64(bytes))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		StepCount:    b.StepCount.Load(),
		StepErrors:   b.StepErrors.Load(),
		StepAvgNanos: b.getAvgStepNanos(),
		Agents:       b.Agents.Load(),
		Created:      b.Created.Load(),
		Removed:      b.Removed.Load(),
		Persisted:    b.Persisted.Load(),
		Updated:      b.Updated.Load(),
		SyncCount:    b.SyncCount.Load(),
		SyncErrors:   b.SyncErrors.Load(),
		FlushCount:   b.FlushCount.Load(),
		FlushErrors:  b.FlushErrors.Load(),
		FlushBytes:   b.FlushBytes.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgStepNanos() int64 {
	count := b.StepCount.Load()
	if count == 0 {
		return 0
	}
	return b.StepTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	StepCount    int64
	StepErrors   int64
	StepAvgNanos int64
	Agents       int64
	Created      int64
	Removed      int64
	Persisted    int64
	Updated      int64
	SyncCount    int64
	SyncErrors   int64
	FlushCount   int64
	FlushErrors  int64
	FlushBytes   int64
}
