package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// ConversionLabel identifies a finished conversion by the backend that served
// it and its terminal outcome ("completed", "client_abort", a failure kind).
type ConversionLabel struct {
	Backend string
	Outcome string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests and
// conversion pipeline outcomes. It coordinates concurrent writers with a
// RWMutex and exposes the result in Prometheus text format.
type Recorder struct {
	mu                sync.RWMutex
	requestCount      map[requestLabel]uint64
	requestDuration   map[requestLabel]time.Duration
	conversionEvents  map[ConversionLabel]uint64
	conversionBytes   map[string]uint64
	activeConversions atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:     make(map[requestLabel]uint64),
		requestDuration:  make(map[requestLabel]time.Duration),
		conversionEvents: make(map[ConversionLabel]uint64),
		conversionBytes:  make(map[string]uint64),
	}
}

// Default returns the process-wide Recorder shared by callers that do not
// inject their own.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest records a completed HTTP request.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{method: method, path: path, status: fmt.Sprintf("%d", status)}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ConversionStarted bumps the active conversion gauge.
func (r *Recorder) ConversionStarted(backend string) {
	r.activeConversions.Add(1)
}

// ConversionFinished records a terminal conversion outcome and the bytes
// streamed to the client.
func (r *Recorder) ConversionFinished(backend, outcome string, bytes int64) {
	r.mu.Lock()
	r.conversionEvents[ConversionLabel{Backend: backend, Outcome: outcome}]++
	if bytes > 0 {
		r.conversionBytes[backend] += uint64(bytes)
	}
	r.mu.Unlock()
	r.decrementGauge(&r.activeConversions)
}

// ActiveConversions reports the number of conversions currently streaming.
func (r *Recorder) ActiveConversions() int64 {
	return r.activeConversions.Load()
}

// ConversionCounts returns a copy of the outcome counters, used by health
// reporting and tests.
func (r *Recorder) ConversionCounts() map[ConversionLabel]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[ConversionLabel]uint64, len(r.conversionEvents))
	for label, count := range r.conversionEvents {
		out[label] = count
	}
	return out
}

// Reset clears all counters. Intended for tests.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.conversionEvents = make(map[ConversionLabel]uint64)
	r.conversionBytes = make(map[string]uint64)
	r.mu.Unlock()
	r.activeConversions.Store(0)
}

// Handler serves the recorder in Prometheus text exposition format.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics with sorted label sets so scrapes and tests see
// stable output.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	conversionLabels := r.sortedConversionLabels()
	backends := r.sortedBackends()

	fmt.Fprintln(w, "# HELP yt2mp3_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE yt2mp3_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "yt2mp3_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP yt2mp3_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE yt2mp3_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "yt2mp3_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP yt2mp3_conversions_total Conversion outcomes by backend and result")
	fmt.Fprintln(w, "# TYPE yt2mp3_conversions_total counter")
	for _, label := range conversionLabels {
		fmt.Fprintf(w, "yt2mp3_conversions_total{backend=\"%s\",outcome=\"%s\"} %d\n", label.Backend, label.Outcome, r.conversionEvents[label])
	}

	fmt.Fprintln(w, "# HELP yt2mp3_conversion_bytes_total MP3 bytes streamed to clients by backend")
	fmt.Fprintln(w, "# TYPE yt2mp3_conversion_bytes_total counter")
	for _, backend := range backends {
		fmt.Fprintf(w, "yt2mp3_conversion_bytes_total{backend=\"%s\"} %d\n", backend, r.conversionBytes[backend])
	}

	fmt.Fprintln(w, "# HELP yt2mp3_active_conversions Current number of conversions streaming to clients")
	fmt.Fprintln(w, "# TYPE yt2mp3_active_conversions gauge")
	fmt.Fprintf(w, "yt2mp3_active_conversions %d\n", r.activeConversions.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedConversionLabels() []ConversionLabel {
	labels := make([]ConversionLabel, 0, len(r.conversionEvents))
	for label := range r.conversionEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Backend != labels[j].Backend {
			return labels[i].Backend < labels[j].Backend
		}
		return labels[i].Outcome < labels[j].Outcome
	})
	return labels
}

func (r *Recorder) sortedBackends() []string {
	backends := make([]string, 0, len(r.conversionBytes))
	for backend := range r.conversionBytes {
		backends = append(backends, backend)
	}
	sort.Strings(backends)
	return backends
}

// decrementGauge floors the gauge at zero so unbalanced finish signals in
// tests cannot drive it negative.
func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}
