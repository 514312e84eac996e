package observability

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// LogLevel represents the engine process's logging verbosity, grounded on
// the teacher's package-level level filter (internal/observability/logger.go).
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

var (
	currentLogLevel = LogLevelInfo
	debugEnabled    = false
)

func init() {
	// Enable debug logging if DEBUG env var is set
	if os.Getenv("DEBUG") != "" || os.Getenv("RULEFLOW_DEBUG") != "" {
		currentLogLevel = LogLevelDebug
		debugEnabled = true
		log.Println("debug logging enabled")
	}
}

// Debug logs debug-level messages (only if DEBUG=1)
func Debug(ctx context.Context, format string, args ...interface{}) {
	if currentLogLevel <= LogLevelDebug {
		logWithContext(ctx, "DEBUG", format, args...)
	}
}

// Info logs info-level messages
func Info(ctx context.Context, format string, args ...interface{}) {
	if currentLogLevel <= LogLevelInfo {
		logWithContext(ctx, "INFO", format, args...)
	}
}

// Warn logs warning-level messages
func Warn(ctx context.Context, format string, args ...interface{}) {
	if currentLogLevel <= LogLevelWarn {
		logWithContext(ctx, "WARN", format, args...)
	}
}

// Error logs error-level messages
func Error(ctx context.Context, format string, args ...interface{}) {
	if currentLogLevel <= LogLevelError {
		logWithContext(ctx, "ERROR", format, args...)
	}
}

// logWithContext tags the line with the trace ID of whichever engine.decide,
// compiler.compile or engine.reload span (see tracing.go) is active on ctx,
// so a log line and its OTel span can be correlated by the same ID.
func logWithContext(ctx context.Context, level string, format string, args ...interface{}) {
	timestamp := time.Now().Format("2006/01/02 15:04:05.000")
	message := fmt.Sprintf(format, args...)

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		traceID := span.SpanContext().TraceID().String()
		log.Printf("%s [%s] [trace=%s] %s", timestamp, level, traceID[:8], message)
	} else {
		log.Printf("%s [%s] %s", timestamp, level, message)
	}
}

// LogRequest logs an incoming HTTP call against the engine's boundary
// surface (POST /v1/decide, POST /v1/reload, GET /healthz).
func LogRequest(ctx context.Context, method, path string, params map[string]interface{}) {
	if debugEnabled {
		Debug(ctx, "→ %s %s params=%v", method, path, params)
	}
}

// LogResponse logs the outcome of a boundary-surface call; non-2xx/3xx
// responses are surfaced at Warn even with debug logging off, since a
// rejected decide() or reload() call is an operator-relevant event.
func LogResponse(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if debugEnabled {
		Debug(ctx, "← %s %s status=%d duration=%v", method, path, statusCode, duration)
	} else if statusCode >= 400 {
		Warn(ctx, "← %s %s status=%d duration=%v", method, path, statusCode, duration)
	}
}

// LogError logs a failure the caller has already decided is terminal for
// the surrounding operation (a compile failure, a rejected reload).
func LogError(ctx context.Context, operation string, err error) {
	Error(ctx, "%s failed: %v", operation, err)
}

// IsDebugEnabled returns true if debug logging is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}
