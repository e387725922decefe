package vecsql

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/vecsql/exec"
)

// Logger wraps slog.Logger with vecsql-specific context.
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
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithTx adds a transaction id field to the logger.
func (l *Logger) WithTx(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("tx", id),
	}
}

// WithTable adds a table field to the logger.
func (l *Logger) WithTable(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("table", name),
	}
}

// LogStatement logs the outcome of one statement.
func (l *Logger) LogStatement(ctx context.Context, resp *exec.Response, tag string, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "statement failed",
			"statement", tag,
			"elapsed", elapsed,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "statement completed",
		"statement", tag,
		"type", resp.Type,
		"rows", resp.RowsAffected,
		"access", resp.Access,
		"elapsed", elapsed,
	)
}

// LogCommit logs a transaction commit.
func (l *Logger) LogCommit(ctx context.Context, changes int, elapsed time.Duration, err error) {
	if err != nil {
		l.WarnContext(ctx, "commit failed",
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "commit completed",
		"vector_changes", changes,
		"elapsed", elapsed,
	)
}

// LogIndexBuild logs the build of a vector index at open.
func (l *Logger) LogIndexBuild(ctx context.Context, index string, rows int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "vector index build failed",
			"index", index,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "vector index built",
		"index", index,
		"rows", rows,
	)
}
