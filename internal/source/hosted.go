package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kkdai/youtube/v2"
)

// Hosted resolves audio through the in-process kkdai/youtube client instead
// of an external binary. It needs no tooling on the host but inherits the
// library's view of the player API.
type Hosted struct {
	client youtube.Client
}

// NewHosted builds the hosted-library backend. The HTTP client is optional.
func NewHosted(httpClient *http.Client) *Hosted {
	h := &Hosted{}
	if httpClient != nil {
		h.client.HTTPClient = httpClient
	}
	return h
}

func (h *Hosted) Probe(ctx context.Context, url string) (VideoInfo, error) {
	video, err := h.client.GetVideoContext(ctx, url)
	if err != nil {
		return VideoInfo{}, wrapLibraryError(err)
	}
	return VideoInfo{
		Title:    video.Title,
		Uploader: video.Author,
		ID:       video.ID,
		Duration: video.Duration.Seconds(),
	}, nil
}

func (h *Hosted) Open(ctx context.Context, url string, bitrate int) (Stream, error) {
	video, err := h.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, wrapLibraryError(err)
	}

	format := pickAudioFormat(video)
	if format == nil {
		return nil, fmt.Errorf("%w: no audio-only format for %s", ErrUnavailable, video.ID)
	}

	reader, _, err := h.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return nil, wrapLibraryError(err)
	}
	return &readerStream{reader: reader, hint: formatHintFromMime(format.MimeType)}, nil
}

// pickAudioFormat prefers audio-only formats with the highest declared
// bitrate, falling back to any format carrying audio channels.
func pickAudioFormat(video *youtube.Video) *youtube.Format {
	candidates := video.Formats.Type("audio")
	if len(candidates) == 0 {
		candidates = video.Formats.WithAudioChannels()
	}
	var best *youtube.Format
	for i := range candidates {
		f := &candidates[i]
		if best == nil || f.Bitrate > best.Bitrate {
			best = f
		}
	}
	return best
}

// formatHintFromMime maps the library's declared MIME type onto an ffmpeg
// demuxer name. Only webm is hinted explicitly; the mp4 family is left for
// the encoder to probe.
func formatHintFromMime(mime string) string {
	mime = strings.ToLower(mime)
	if strings.Contains(mime, "webm") {
		return "webm"
	}
	return ""
}

func wrapLibraryError(err error) error {
	switch {
	case errors.Is(err, youtube.ErrLoginRequired),
		errors.Is(err, youtube.ErrVideoPrivate):
		return fmt.Errorf("%w: %v", ErrAuthRequired, err)
	case errors.Is(err, youtube.ErrInvalidCharactersInVideoID),
		errors.Is(err, youtube.ErrVideoIDMinLength):
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	lowered := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowered, "sign in to confirm"),
		strings.Contains(lowered, "private video"),
		strings.Contains(lowered, "members-only"):
		return fmt.Errorf("%w: %v", ErrAuthRequired, err)
	case strings.Contains(lowered, "too many requests"), strings.Contains(lowered, "429"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// readerStream wraps a plain byte stream from a library or HTTP response.
type readerStream struct {
	reader      io.ReadCloser
	hint        string
	passthrough bool
}

func (r *readerStream) Read(b []byte) (int, error) { return r.reader.Read(b) }
func (r *readerStream) Close() error               { return r.reader.Close() }
func (r *readerStream) FormatHint() string         { return r.hint }
func (r *readerStream) Passthrough() bool          { return r.passthrough }
func (r *readerStream) Err() error                 { return nil }
