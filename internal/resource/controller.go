package resource

import (
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when memory limit would be exceeded.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the hard limit for segment memory.
	// If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64

	// MaxParallelWriters bounds the goroutines used by a single flush or
	// migration. If 0, defaults to GOMAXPROCS.
	MaxParallelWriters int

	// SnapshotsPerSecond limits state snapshot syncs. If 0, unlimited.
	SnapshotsPerSecond float64
}

// Controller manages engine-wide resources.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64
	memPeak atomic.Int64

	snapshotLimiter *rate.Limiter // nil if unlimited
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxParallelWriters <= 0 {
		cfg.MaxParallelWriters = runtime.GOMAXPROCS(0)
	}

	c := &Controller{cfg: cfg}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.SnapshotsPerSecond > 0 {
		burst := int(cfg.SnapshotsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.snapshotLimiter = rate.NewLimiter(rate.Limit(cfg.SnapshotsPerSecond), burst)
	}

	return c
}

// AcquireMemory attempts to reserve memory.
// Returns ErrMemoryLimitExceeded if limit would be exceeded.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.memSem != nil {
		if !c.memSem.TryAcquire(bytes) {
			return ErrMemoryLimitExceeded
		}
	}

	used := c.memUsed.Add(bytes)
	for {
		peak := c.memPeak.Load()
		if used <= peak || c.memPeak.CompareAndSwap(peak, used) {
			break
		}
	}
	return nil
}

// ReleaseMemory releases reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the current memory usage in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// PeakMemoryUsage returns the highest memory usage observed.
func (c *Controller) PeakMemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memPeak.Load()
}

// MemoryLimit returns the configured memory limit in bytes (0 if unlimited).
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// WriterLimit returns the maximum number of concurrent writers.
func (c *Controller) WriterLimit() int {
	if c == nil {
		return runtime.GOMAXPROCS(0)
	}
	return c.cfg.MaxParallelWriters
}

// AllowSnapshot reports whether a snapshot sync may be sent now.
func (c *Controller) AllowSnapshot() bool {
	if c == nil || c.snapshotLimiter == nil {
		return true
	}
	return c.snapshotLimiter.AllowN(time.Now(), 1)
}
