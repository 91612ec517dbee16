package source

import (
	"context"
	"errors"
	"io"
)

// Backend names accepted by the configuration surface.
const (
	BackendLocal  = "local"
	BackendHosted = "hosted"
	BackendAPI    = "api"
)

var (
	// ErrUnavailable reports that no backend could open an audio stream for
	// the requested URL.
	ErrUnavailable = errors.New("audio source unavailable")
	// ErrAuthRequired reports that the upstream refused access without a
	// signed-in session.
	ErrAuthRequired = errors.New("source requires authentication")
	// ErrRateLimited reports upstream throttling.
	ErrRateLimited = errors.New("source rate limited")
	// ErrInvalidURL reports that a video identifier could not be derived
	// from the submitted URL.
	ErrInvalidURL = errors.New("invalid video URL")
)

// Stream is a live audio byte stream opened by a backend. Close must be safe
// to call more than once and must terminate any subprocess or network
// connection feeding the stream.
type Stream interface {
	io.ReadCloser

	// FormatHint names the container or codec of the stream when the
	// backend declares one (for example "webm"), or returns "" when the
	// consumer should probe.
	FormatHint() string

	// Passthrough reports that the payload is already MP3 and requires no
	// further encoding.
	Passthrough() bool

	// Err returns the terminal failure observed on the producing side, if
	// any. It is meaningful once Read has returned an error or Close has
	// been called.
	Err() error
}

// VideoInfo is the best-effort metadata a backend can report for a URL.
type VideoInfo struct {
	Title    string
	Uploader string
	ID       string
	Duration float64
}

// Source opens audio streams for video URLs. Exactly one implementation is
// active per deployment, selected by configuration at startup.
type Source interface {
	Open(ctx context.Context, url string, bitrate int) (Stream, error)
}

// Prober resolves best-effort metadata for a URL. Backends implement it next
// to Source so metadata lookups reuse the same credentials and tooling as the
// audio fetch.
type Prober interface {
	Probe(ctx context.Context, url string) (VideoInfo, error)
}
