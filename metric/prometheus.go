// Package metric exports engine metrics to Prometheus.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/stepsync"
)

// PrometheusCollector implements stepsync.MetricsCollector on top of
// Prometheus counters, gauges and summaries.
//
// It registers these metric sets, all prefixed with the namespace:
//   - steps_total and step_latency_seconds, with label "result"
//   - agents, the population after the latest step
//   - migration_agents_total, with label "action" (created, removed, persisted, updated)
//   - syncs_total and sync_latency_seconds, with labels "kind" and "result"
//   - flushes_total, flush_bytes_total and flush_latency_seconds
type PrometheusCollector struct {
	steps        *prometheus.CounterVec
	stepLatency  *prometheus.SummaryVec
	agents       prometheus.Gauge
	migrated     *prometheus.CounterVec
	syncs        *prometheus.CounterVec
	syncLatency  *prometheus.SummaryVec
	flushes      *prometheus.CounterVec
	flushBytes   prometheus.Counter
	flushLatency prometheus.Summary
}

var _ stepsync.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the engine metrics on reg. A nil reg
// uses prometheus.DefaultRegisterer.
func NewPrometheusCollector(namespace string, reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &PrometheusCollector{
		steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Number of simulation steps by result.",
		}, []string{"result"}),
		stepLatency: f.NewSummaryVec(prometheus.SummaryOpts{
			Namespace: namespace,
			Name:      "step_latency_seconds",
			Help:      "Duration of simulation steps.",
		}, []string{"result"}),
		agents: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents",
			Help:      "Agents after the latest successful step.",
		}),
		migrated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migration_agents_total",
			Help:      "Agents handled by migrations by action.",
		}, []string{"action"}),
		syncs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syncs_total",
			Help:      "Syncs sent to the worker pool by kind and result.",
		}, []string{"kind", "result"}),
		syncLatency: f.NewSummaryVec(prometheus.SummaryOpts{
			Namespace: namespace,
			Name:      "sync_latency_seconds",
			Help:      "Duration of syncs by kind.",
		}, []string{"kind"}),
		flushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Batch writes by result.",
		}, []string{"result"}),
		flushBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_bytes_total",
			Help:      "Bytes committed by batch writes.",
		}),
		flushLatency: f.NewSummary(prometheus.SummaryOpts{
			Namespace: namespace,
			Name:      "flush_latency_seconds",
			Help:      "Duration of committed batch writes.",
		}),
	}
}

func result(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}

// RecordStep implements stepsync.MetricsCollector.
func (c *PrometheusCollector) RecordStep(d time.Duration, agents int, err error) {
	r := result(err)
	c.steps.WithLabelValues(r).Inc()
	c.stepLatency.WithLabelValues(r).Observe(d.Seconds())
	if err == nil {
		c.agents.Set(float64(agents))
	}
}

// RecordMigration implements stepsync.MetricsCollector.
func (c *PrometheusCollector) RecordMigration(s stepsync.MigrationSummary) {
	c.migrated.WithLabelValues("created").Add(float64(s.Created))
	c.migrated.WithLabelValues("removed").Add(float64(s.Removed))
	c.migrated.WithLabelValues("persisted").Add(float64(s.Persisted))
	c.migrated.WithLabelValues("updated").Add(float64(s.Updated))
}

// RecordSync implements stepsync.MetricsCollector.
func (c *PrometheusCollector) RecordSync(kind stepsync.SyncKind, d time.Duration, err error) {
	c.syncs.WithLabelValues(kind.String(), result(err)).Inc()
	if err == nil {
		c.syncLatency.WithLabelValues(kind.String()).Observe(d.Seconds())
	}
}

// RecordFlush implements stepsync.MetricsCollector.
func (c *PrometheusCollector) RecordFlush(bytes int, d time.Duration, err error) {
	c.flushes.WithLabelValues(result(err)).Inc()
	if err != nil {
		return
	}
	c.flushBytes.Add(float64(bytes))
	c.flushLatency.Observe(d.Seconds())
}
