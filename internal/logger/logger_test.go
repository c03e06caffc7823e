package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestInit(t *testing.T) {
	var buf bytes.Buffer
	l, err := InitWriter(&buf, "test-service", "info", "json")
	if err != nil {
		t.Fatal(err)
	}
	l.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %q", buf.String())
	}
	if entry["service"] != "test-service" || entry["message"] != "hello" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestInit_InvalidLevel(t *testing.T) {
	if _, err := Init("svc", "loud", "json"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	// No trace ID set
	if tid := TraceID(ctx); tid != "" {
		t.Errorf("expected empty trace id, got %q", tid)
	}

	// Set and retrieve
	ctx = WithTraceID(ctx, "test-trace-123")
	if tid := TraceID(ctx); tid != "test-trace-123" {
		t.Errorf("expected 'test-trace-123', got %q", tid)
	}
}

func TestGenerateTraceID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	tid := GenerateTraceID("BTCUSDT", ts)

	if !strings.HasPrefix(tid, "BTCUSDT-") {
		t.Errorf("expected trace id to start with 'BTCUSDT-', got %s", tid)
	}
	if !strings.Contains(tid, "123456789") {
		t.Errorf("expected trace id to contain nanoseconds, got %s", tid)
	}
}

func TestCtx(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	Ctx(context.Background(), base).Info().Msg("plain")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("unexpected trace id: %s", buf.String())
	}

	buf.Reset()
	Ctx(WithTraceID(context.Background(), "abc-123"), base).Info().Msg("traced")
	if !strings.Contains(buf.String(), `"trace_id":"abc-123"`) {
		t.Errorf("missing trace id: %s", buf.String())
	}
}
