package tilestream

import (
	"context"
	"log/slog"
	"os"

	"github.com/tilecraft/tilestream/model"
)

// Logger wraps slog.Logger with tilestream-specific context.
// This provides structured logging with consistent field names.
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
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
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
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithKey adds a resource key field to the logger.
func (l *Logger) WithKey(key model.ResourceKey) *Logger {
	return &Logger{
		Logger: l.Logger.With("key", key.String()),
	}
}

// WithDataset adds a dataset field to the logger.
func (l *Logger) WithDataset(dataset model.DatasetID) *Logger {
	return &Logger{
		Logger: l.Logger.With("dataset", string(dataset)),
	}
}

// WithVersion adds a version field to the logger.
func (l *Logger) WithVersion(version model.Version) *Logger {
	return &Logger{
		Logger: l.Logger.With("version", string(version)),
	}
}

// LogSubmit logs a pipeline submission.
func (l *Logger) LogSubmit(ctx context.Context, key model.ResourceKey, priority int32, err error) {
	if err != nil {
		l.WarnContext(ctx, "submit rejected",
			"key", key.String(),
			"priority", priority,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "submit accepted",
			"key", key.String(),
			"priority", priority,
		)
	}
}

// LogCompletion logs a fetch worker completion report.
func (l *Logger) LogCompletion(ctx context.Context, key model.ResourceKey, kind CompletionKind, size int, err error) {
	if err != nil {
		l.WarnContext(ctx, "fetch completed with error",
			"key", key.String(),
			"outcome", kind.String(),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "fetch completed",
			"key", key.String(),
			"outcome", kind.String(),
			"bytes", size,
		)
	}
}

// LogPin logs a dataset version pin and its eviction cascade.
func (l *Logger) LogPin(ctx context.Context, dataset model.DatasetID, version model.Version, evicted int) {
	l.InfoContext(ctx, "dataset version pinned",
		"dataset", string(dataset),
		"version", string(version),
		"evicted", evicted,
	)
}
