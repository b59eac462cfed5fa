package stepsync

import (
	"log/slog"
	"runtime"

	"github.com/hupe1980/stepsync/codec"
	"github.com/hupe1980/stepsync/internal/column"
)

// DefaultMaxBatchSize is the maximum number of agents per batch unless
// configured otherwise.
const DefaultMaxBatchSize = 4096

type options struct {
	codec            codec.Codec
	metricsCollector MetricsCollector
	logger           *Logger
	sender           Sender
	workers          int
	maxBatchSize     int
	sharedMemoryDir  string
	memoryLimit      int64
	snapshotRate     float64
	parallelWriters  int
	contextFields    []string
	messageFields    []column.Field
}

// Option configures an Engine.
type Option func(*options)

// WithCodec configures the codec used to decode command payloads and to
// encode exported snapshot headers.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithSender configures where syncs are delivered. It is required.
func WithSender(s Sender) Option {
	return func(o *options) {
		o.sender = s
	}
}

// WithWorkers sets the number of workers agents are distributed over.
// Defaults to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithMaxBatchSize sets the maximum number of agents per batch.
func WithMaxBatchSize(n int) Option {
	return func(o *options) {
		o.maxBatchSize = n
	}
}

// WithSharedMemoryDir backs batch segments with files under dir so that
// worker processes can attach them, e.g. "/dev/shm".
// The empty string keeps segments on the heap.
func WithSharedMemoryDir(dir string) Option {
	return func(o *options) {
		o.sharedMemoryDir = dir
	}
}

// WithMemoryLimit caps the memory of all segments of the engine.
// Growing past it fails with ErrOutOfMemory. Zero means unlimited.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithSnapshotRate limits state snapshot syncs per second and run.
// Zero means unlimited.
func WithSnapshotRate(perSecond float64) Option {
	return func(o *options) {
		o.snapshotRate = perSecond
	}
}

// WithParallelWriters bounds the goroutines one flush or migration uses.
// Defaults to GOMAXPROCS.
func WithParallelWriters(n int) Option {
	return func(o *options) {
		o.parallelWriters = n
	}
}

// WithContextFields selects the agent fields published in the context
// batch of every step, next to the agent id.
func WithContextFields(names ...string) Option {
	return func(o *options) {
		o.contextFields = append(o.contextFields, names...)
	}
}

// WithMessageSchema adds fields to the message batches beyond the
// canonical from, to, type and data.
func WithMessageSchema(fields ...Field) Option {
	return func(o *options) {
		o.messageFields = append(o.messageFields, fields...)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring steps.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &stepsync.BasicMetricsCollector{}
//	e, _ := stepsync.New(stepsync.WithSender(s), stepsync.WithMetricsCollector(metrics))
//	// ... run steps ...
//	stats := metrics.GetStats()
//	fmt.Printf("Steps: %d, Avg latency: %dns\n", stats.StepCount, stats.StepAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := stepsync.NewJSONLogger(slog.LevelInfo)
//	e, _ := stepsync.New(stepsync.WithSender(s), stepsync.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		workers:          runtime.GOMAXPROCS(0),
		maxBatchSize:     DefaultMaxBatchSize,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}

func (o *options) validate() error {
	switch {
	case o.sender == nil:
		return &InvalidOptionError{Option: "WithSender", Value: nil}
	case o.workers <= 0:
		return &InvalidOptionError{Option: "WithWorkers", Value: o.workers}
	case o.maxBatchSize <= 0:
		return &InvalidOptionError{Option: "WithMaxBatchSize", Value: o.maxBatchSize}
	case o.memoryLimit < 0:
		return &InvalidOptionError{Option: "WithMemoryLimit", Value: o.memoryLimit}
	case o.snapshotRate < 0:
		return &InvalidOptionError{Option: "WithSnapshotRate", Value: o.snapshotRate}
	}
	return nil
}
