package optistore

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with optimizer-specific helpers so operations log
// with consistent field names.
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
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithPolicyID adds a policy_id field to the logger.
func (l *Logger) WithPolicyID(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("policy_id", id),
	}
}

// LogOptimizeStorage logs one storage-optimization pass.
func (l *Logger) LogOptimizeStorage(ctx context.Context, policyID string, ratio float64, elapsed time.Duration, err error) {
	if err != nil {
		l.WarnContext(ctx, "storage optimization degraded",
			"policy_id", policyID,
			"elapsed", elapsed,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "storage optimization completed",
			"policy_id", policyID,
			"ratio", ratio,
			"elapsed", elapsed,
		)
	}
}

// LogOptimizeQuery logs one optimized query.
func (l *Logger) LogOptimizeQuery(ctx context.Context, k, results int, method string, elapsed time.Duration) {
	l.DebugContext(ctx, "query completed",
		"k", k,
		"results", results,
		"method", method,
		"elapsed", elapsed,
	)
}

// LogSync logs a backing-store sync task outcome.
func (l *Logger) LogSync(ctx context.Context, policyID string, bytes int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "backing store sync failed",
			"policy_id", policyID,
			"bytes", bytes,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "backing store sync completed",
			"policy_id", policyID,
			"bytes", bytes,
		)
	}
}

// LogShutdown logs the shutdown outcome.
func (l *Logger) LogShutdown(ctx context.Context, drained bool, elapsed time.Duration) {
	l.InfoContext(ctx, "optimizer shut down",
		"drained", drained,
		"elapsed", elapsed,
	)
}
