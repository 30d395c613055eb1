package streaming

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with streaming-specific helpers so writer, reader
// and cache log with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses the default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// LogShardSealed logs one sealed shard on the write path.
func (l *Logger) LogShardSealed(basename string, samples int, rawBytes, storedBytes int64) {
	l.Info("shard sealed",
		"shard", basename,
		"samples", samples,
		"raw_bytes", rawBytes,
		"stored_bytes", storedBytes,
	)
}

// LogIndexWritten logs the final index write.
func (l *Logger) LogIndexWritten(shards, samples int, err error) {
	if err != nil {
		l.Error("index write failed", "error", err)
		return
	}
	l.Info("index written", "shards", shards, "samples", samples)
}

// LogFetch logs one shard fetch on the read path.
func (l *Logger) LogFetch(basename string, bytes int64, err error) {
	if err != nil {
		l.Error("shard fetch failed", "shard", basename, "error", err)
		return
	}
	l.Debug("shard fetched", "shard", basename, "bytes", bytes)
}
