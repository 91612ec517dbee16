package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"yt2mp3/internal/convert"
	"yt2mp3/internal/source"
)

type stubStream struct {
	io.Reader
}

func (stubStream) Close() error       { return nil }
func (stubStream) FormatHint() string { return "" }
func (stubStream) Passthrough() bool  { return true }
func (stubStream) Err() error         { return nil }

type stubSource struct {
	lastBitrate int
}

func (s *stubSource) Open(ctx context.Context, url string, bitrate int) (source.Stream, error) {
	s.lastBitrate = bitrate
	return stubStream{Reader: strings.NewReader("audio")}, nil
}

type passEncoder struct{}

func (passEncoder) Encode(ctx context.Context, input io.Reader, output io.Writer, spec convert.EncodeSpec) error {
	_, err := io.Copy(output, input)
	return err
}

func newConvertHandler(t *testing.T) (*Handler, *stubSource) {
	t.Helper()
	src := &stubSource{}
	pipeline, err := convert.NewPipeline(convert.Config{Source: src, Encoder: passEncoder{}, Backend: source.BackendLocal})
	if err != nil {
		t.Fatalf("NewPipeline error: %v", err)
	}
	h := NewHandler(pipeline)
	h.Backend = source.BackendLocal
	return h, src
}

func postConvert(t *testing.T, h *Handler, payload string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/convert", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Convert(rec, req)
	return rec
}

func TestConvertRejectsNonPost(t *testing.T) {
	t.Parallel()

	h, _ := newConvertHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/convert", nil)
	rec := httptest.NewRecorder()
	h.Convert(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestConvertRejectsMissingURL(t *testing.T) {
	t.Parallel()

	h, _ := newConvertHandler(t)
	for _, payload := range []string{`{}`, `{"url":""}`, `{"url":"https://vimeo.com/1"}`, `not json`} {
		rec := postConvert(t, h, payload)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("payload %q: expected 400, got %d", payload, rec.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("payload %q: unmarshal: %v", payload, err)
		}
		if body["error"] != "Invalid or missing YouTube URL." {
			t.Fatalf("payload %q: unexpected message %q", payload, body["error"])
		}
	}
}

func TestConvertRejectsOutOfRangeBitrate(t *testing.T) {
	t.Parallel()

	h, _ := newConvertHandler(t)
	for _, payload := range []string{
		`{"url":"https://youtu.be/dQw4w9WgXcQ","bitrate":63}`,
		`{"url":"https://youtu.be/dQw4w9WgXcQ","bitrate":321}`,
		`{"url":"https://youtu.be/dQw4w9WgXcQ","bitrate":-1}`,
		`{"url":"https://youtu.be/dQw4w9WgXcQ","bitrate":192.5}`,
	} {
		rec := postConvert(t, h, payload)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("payload %q: expected 400, got %d", payload, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "Bitrate must be between 64 and 320 kbps.") {
			t.Fatalf("payload %q: unexpected body %q", payload, rec.Body.String())
		}
	}
}

func TestConvertDefaultsBitrate(t *testing.T) {
	t.Parallel()

	h, src := newConvertHandler(t)
	rec := postConvert(t, h, `{"url":"https://youtu.be/dQw4w9WgXcQ"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if src.lastBitrate != 320 {
		t.Fatalf("expected default bitrate 320, got %d", src.lastBitrate)
	}
}

func TestConvertPassesExplicitBitrate(t *testing.T) {
	t.Parallel()

	h, src := newConvertHandler(t)
	rec := postConvert(t, h, `{"url":"https://youtu.be/dQw4w9WgXcQ","bitrate":128}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if src.lastBitrate != 128 {
		t.Fatalf("expected bitrate 128, got %d", src.lastBitrate)
	}
}

func TestConvertRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	h, _ := newConvertHandler(t)
	var buf bytes.Buffer
	buf.WriteString(`{"url":"`)
	buf.Write(bytes.Repeat([]byte("a"), maxRequestBody+1))
	buf.WriteString(`"}`)

	rec := postConvert(t, h, buf.String())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", rec.Code)
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthReportsOK(t *testing.T) {
	t.Parallel()

	h, _ := newConvertHandler(t)
	h.RateLimiter = pingFunc(func(ctx context.Context) error { return nil })

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Status     string `json:"status"`
		Components []struct {
			Component string `json:"component"`
			Status    string `json:"status"`
		} `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Status != "ok" {
		t.Fatalf("unexpected status %q", payload.Status)
	}
	if len(payload.Components) != 2 {
		t.Fatalf("expected backend and rate limiter components, got %+v", payload.Components)
	}
}

func TestHealthReportsDegradedRateLimiter(t *testing.T) {
	t.Parallel()

	h, _ := newConvertHandler(t)
	h.RateLimiter = pingFunc(func(ctx context.Context) error { return errors.New("redis unreachable") })

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "degraded") {
		t.Fatalf("expected degraded status in body: %s", rec.Body.String())
	}
}

func TestHealthRejectsNonGet(t *testing.T) {
	t.Parallel()

	h, _ := newConvertHandler(t)
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodDelete, "/healthz", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
