package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"

	"yt2mp3/internal/convert"
)

const (
	// maxRequestBody bounds the JSON payload for conversion requests.
	maxRequestBody = 1 << 20

	defaultBitrate = 320
	minBitrate     = 64
	maxBitrate     = 320
)

const (
	msgInvalidURL     = "Invalid or missing YouTube URL."
	msgInvalidBitrate = "Bitrate must be between 64 and 320 kbps."
)

// Pinger reports the health of an optional dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler exposes the conversion API. Pipeline is required; RateLimiter is
// optional and only consulted for health reporting.
type Handler struct {
	Pipeline    *convert.Pipeline
	RateLimiter Pinger
	// Backend names the configured audio source for health payloads.
	Backend string
}

func NewHandler(pipeline *convert.Pipeline) *Handler {
	return &Handler{Pipeline: pipeline}
}

type convertRequest struct {
	URL     string   `json:"url"`
	Bitrate *float64 `json:"bitrate"`
}

// Convert validates the submitted URL and bitrate and hands the request to
// the pipeline, which owns the response from then on.
func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	var req convertRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer body.Close()
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New(msgInvalidURL))
		return
	}

	if !convert.ValidURL(req.URL) {
		writeError(w, http.StatusBadRequest, errors.New(msgInvalidURL))
		return
	}

	bitrate := defaultBitrate
	if req.Bitrate != nil {
		value := *req.Bitrate
		if value != math.Trunc(value) || value < minBitrate || value > maxBitrate {
			writeError(w, http.StatusBadRequest, errors.New(msgInvalidBitrate))
			return
		}
		bitrate = int(value)
	}

	h.Pipeline.Serve(w, r, convert.Request{URL: strings.TrimSpace(req.URL), Bitrate: bitrate})
}

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Health reports liveness plus the state of optional dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	overall := "ok"
	status := http.StatusOK
	components := make([]componentStatus, 0, 2)
	if h.Backend != "" {
		components = append(components, componentStatus{Component: "source_backend", Status: h.Backend})
	}
	if h.RateLimiter != nil {
		entry := componentStatus{Component: "rate_limiter", Status: "ok"}
		if err := h.RateLimiter.Ping(r.Context()); err != nil {
			entry.Status = "degraded"
			entry.Error = err.Error()
			overall = "degraded"
			status = http.StatusServiceUnavailable
		}
		components = append(components, entry)
	}

	payload := struct {
		Status     string            `json:"status"`
		Components []componentStatus `json:"components,omitempty"`
	}{Status: overall, Components: components}
	writeJSON(w, status, payload)
}
