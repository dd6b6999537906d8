package monitoring

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Logger provides structured logging with domain helpers
type Logger struct {
	*slog.Logger
	out io.Writer
}

// NewLogger creates a JSON logger writing to stdout at info level
func NewLogger() *Logger {
	return NewLoggerWithOptions(os.Stdout, slog.LevelInfo)
}

// NewLoggerWithOptions creates a JSON logger writing to w at level
func NewLoggerWithOptions(w io.Writer, level slog.Level) *Logger {
	return &Logger{
		Logger: slog.New(newHandler(w, level)),
		out:    w,
	}
}

func newHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{
					Key:   "timestamp",
					Value: slog.StringValue(a.Value.Time().Format(time.RFC3339)),
				}
			}
			return a
		},
	})
}

// ParseLevel maps a config string to a slog level, defaulting to info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// RequestLogger logs HTTP request details
func (l *Logger) RequestLogger(method, path, ip, userAgent string, statusCode int, duration time.Duration) {
	l.Info("HTTP Request",
		"method", method,
		"path", path,
		"ip", ip,
		"user_agent", userAgent,
		"status_code", statusCode,
		"duration_ms", duration.Milliseconds(),
	)
}

// APIErrorLogger logs API errors with context
func (l *Logger) APIErrorLogger(err error, method, path, ip string, statusCode int) {
	level := slog.LevelWarn
	if statusCode >= 500 {
		level = slog.LevelError
	}

	l.Log(context.Background(), level, "API Error",
		"error", err.Error(),
		"method", method,
		"path", path,
		"ip", ip,
		"status_code", statusCode,
	)
}

// AttributionLogger logs one aggregation run
func (l *Logger) AttributionLogger(draftID string, gramUsed, kept, contributors int, fellBack bool, duration time.Duration) {
	l.Info("Attribution Computed",
		"draft_id", draftID,
		"gram_used", gramUsed,
		"kept", kept,
		"contributors", contributors,
		"fallback", fellBack,
		"duration_ms", duration.Milliseconds(),
	)
}

// LedgerLogger logs a ledger mutation (finalize or settle)
func (l *Logger) LedgerLogger(operation, draftID string, rows int, total string) {
	l.Info("Ledger Updated",
		"operation", operation,
		"draft_id", draftID,
		"rows", rows,
		"total", total,
	)
}

// CacheLogger logs cache operations
func (l *Logger) CacheLogger(operation, key string, hit bool, itemCount int) {
	l.Debug("Cache Operation",
		"operation", operation,
		"key", key,
		"hit", hit,
		"cache_size", itemCount,
	)
}

// SystemLogger logs system-level events
func (l *Logger) SystemLogger(event, details string) {
	l.Info("System Event",
		"event", event,
		"details", details,
		"uptime", time.Since(startTime).String(),
	)
}

// PerformanceLogger logs performance metrics
func (l *Logger) PerformanceLogger(metric string, value float64, unit string) {
	l.Info("Performance Metric",
		"metric", metric,
		"value", strconv.FormatFloat(value, 'f', 3, 64),
		"unit", unit,
	)
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level slog.Level) {
	w := l.out
	if w == nil {
		w = os.Stdout
	}
	l.Logger = slog.New(newHandler(w, level))
}

var startTime = time.Now()
