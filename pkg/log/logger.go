// Package log provides structured logging for the gomint client.
// It wraps the standard library's slog package with mint-specific helpers.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a new logger writing to stdout
func New(service, version, level, format string) *Logger {
	return NewWithWriter(os.Stdout, service, version, level, format)
}

// NewWithWriter creates a new logger writing to w
func NewWithWriter(w io.Writer, service, version, level, format string) *Logger {
	logLevel := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger:  slog.New(handler).With("service", service, "version", version),
		service: service,
		version: version,
	}
}

// Discard returns a logger that drops everything; used by tests.
func Discard() *Logger {
	return NewWithWriter(io.Discard, "test", "test", "error", "json")
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithMiner returns a logger tagged with the minting account
func (l *Logger) WithMiner(address string) *Logger {
	return l.WithFields("miner_address", address)
}

// WithRound returns a logger tagged with the round being mined
func (l *Logger) WithRound(round uint64) *Logger {
	return l.WithFields("round", round)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// LogDuration logs the duration of an operation
func (l *Logger) LogDuration(operation string, duration int64) {
	l.Debug("operation completed",
		"operation", operation,
		"duration_ns", duration,
		"duration_ms", float64(duration)/1e6,
	)
}

// LogThroughput logs hashing throughput
func (l *Logger) LogThroughput(operation string, count uint64, duration int64) {
	var throughput float64
	if duration > 0 {
		throughput = float64(count) / (float64(duration) / 1e9)
	}
	l.Info("throughput metrics",
		"operation", operation,
		"count", count,
		"duration_ns", duration,
		"throughput_ops_sec", throughput,
	)
}

// LogSecretFound logs an admissible secret
func (l *Logger) LogSecretFound(secret uint64, digest, threshold, prevHash string, trials uint64) {
	l.Info("secret found",
		"secret", secret,
		"digest", digest,
		"threshold", threshold,
		"prev_hash", prevHash,
		"trials", trials,
	)
}

// LogMint logs a confirmed mint with the post-submission deltas
func (l *Logger) LogMint(txHash string, secret uint64, date, lastMintedAt, deltaT int64, newBalance string) {
	l.Info("mint confirmed",
		"tx_hash", txHash,
		"secret", secret,
		"date", date,
		"last_minted_at", lastMintedAt,
		"delta_t", deltaT,
		"new_balance", newBalance,
	)
}
