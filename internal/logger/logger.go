// Package logger provides structured logging on zerolog.
// It sets up the global logger with service-level context and provides
// trace ID propagation through context.Context.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Init configures the global zerolog logger for the given service and returns it.
// level is a zerolog level name ("debug", "info", ...); format is "json" or "console".
func Init(service, level, format string) (zerolog.Logger, error) {
	return InitWriter(os.Stdout, service, level, format)
}

// InitWriter is Init with an explicit output.
func InitWriter(w io.Writer, service, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Logger()

	// Set as global so log.Info() etc. also carry the service field.
	log.Logger = logger
	return logger, nil
}

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTraceID creates a trace ID from a symbol and timestamp.
// Format: "{symbol}-{unixNano}".
func GenerateTraceID(symbol string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", symbol, ts.UnixNano())
}

// Ctx returns l with the context's trace ID attached, if any.
// Usage: logger.Ctx(ctx, l).Info().Msg("...")
func Ctx(ctx context.Context, l zerolog.Logger) *zerolog.Logger {
	tid := TraceID(ctx)
	if tid == "" {
		return &l
	}
	out := l.With().Str("trace_id", tid).Logger()
	return &out
}
