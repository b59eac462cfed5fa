package stepsync

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with stepsync-specific context.
// Field names are consistent across runs so logs can be joined by sim_id.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{
		Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(1000),
		})),
	}
}

// WithSimID adds the simulation run to the logger.
func (l *Logger) WithSimID(simID string) *Logger {
	return &Logger{Logger: l.Logger.With("sim_id", simID)}
}

// WithStep adds the step number to the logger.
func (l *Logger) WithStep(step int) *Logger {
	return &Logger{Logger: l.Logger.With("step", step)}
}

// WithWorker adds a worker index to the logger.
func (l *Logger) WithWorker(worker int) *Logger {
	return &Logger{Logger: l.Logger.With("worker", worker)}
}

// LogStep logs a completed or failed step.
func (l *Logger) LogStep(ctx context.Context, step, agents int, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "step failed",
			"step", step,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "step completed",
		"step", step,
		"agents", agents,
		"duration", d,
	)
}

// LogMigration logs the outcome of a migration plan.
func (l *Logger) LogMigration(ctx context.Context, s MigrationSummary, err error) {
	if err != nil {
		l.ErrorContext(ctx, "migration failed",
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "migration applied",
		"created", s.Created,
		"removed", s.Removed,
		"persisted", s.Persisted,
		"updated", s.Updated,
		"agents_before", s.AgentsBefore,
		"agents_after", s.AgentsAfter,
	)
}

// LogSync logs a sync to the worker pool.
func (l *Logger) LogSync(ctx context.Context, kind SyncKind, d time.Duration, err error) {
	if err != nil {
		l.WarnContext(ctx, "sync failed",
			"kind", kind.String(),
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "sync sent",
		"kind", kind.String(),
		"duration", d,
	)
}

// LogFlush logs a batch write.
func (l *Logger) LogFlush(ctx context.Context, bytes int, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "flush committed",
		"bytes", bytes,
		"duration", d,
	)
}
