package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRespectsLevelAndFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Writer: &buf})

	logger.Info("should be dropped")
	logger.Warn("should be kept")

	out := buf.String()
	if strings.Contains(out, "should be dropped") {
		t.Fatalf("info line should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "should be kept") {
		t.Fatalf("warn line missing: %s", out)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &payload); err != nil {
		t.Fatalf("default format should be JSON: %v", err)
	}
}

func TestNewTextFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(Config{Format: "text", Writer: &buf})
	logger.Info("hello")

	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("expected text handler output, got %q", buf.String())
	}
}

func TestWithComponentAnnotatesRecords(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := WithComponent(New(Config{Writer: &buf}), "pipeline")
	logger.Info("working")

	var payload map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["component"] != "pipeline" {
		t.Fatalf("expected component field, got %v", payload)
	}
}

func TestContextCarriesRequestAndConversionIDs(t *testing.T) {
	t.Parallel()

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithConversionID(ctx, "conv-9")

	if id, ok := RequestIDFromContext(ctx); !ok || id != "req-1" {
		t.Fatalf("request id = %q, ok=%v", id, ok)
	}
	if id, ok := ConversionIDFromContext(ctx); !ok || id != "conv-9" {
		t.Fatalf("conversion id = %q, ok=%v", id, ok)
	}

	if ctx := ContextWithRequestID(context.Background(), "  "); ctx != context.Background() {
		t.Fatal("blank request id should not be stored")
	}
}

func TestWithContextAnnotatesLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := New(Config{Writer: &buf})

	ctx := ContextWithRequestID(context.Background(), "req-2")
	ctx = ContextWithConversionID(ctx, "conv-3")
	WithContext(ctx, base).Info("annotated")

	var payload map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["request_id"] != "req-2" || payload["conversion_id"] != "conv-3" {
		t.Fatalf("missing context fields: %v", payload)
	}
}

func TestLoggerRoundTripsThroughContext(t *testing.T) {
	t.Parallel()

	logger := slog.Default()
	ctx := ContextWithLogger(context.Background(), logger)
	if got := LoggerFromContext(ctx); got != logger {
		t.Fatal("expected the same logger back from the context")
	}
	if got := LoggerFromContext(context.Background()); got != nil {
		t.Fatal("expected nil for a bare context")
	}
}

func TestRequestLoggerEmitsRequestFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})

	handler := RequestLogger(RequestLoggerConfig{Logger: logger})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var payload map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["path"] != "/healthz" {
		t.Fatalf("expected path field, got %v", payload)
	}
	if payload["status"] != float64(http.StatusNoContent) {
		t.Fatalf("expected status field, got %v", payload)
	}
}
