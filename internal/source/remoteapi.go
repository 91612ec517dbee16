package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// APIConfig configures the third-party conversion API backend.
type APIConfig struct {
	Key      string
	Endpoint string
	// Host is sent as the X-RapidAPI-Host header when set.
	Host string
	// Method defaults to GET.
	Method string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// API asks a remote HTTP service for a download URL and streams the payload.
// When the remote resource is already MP3 the stream is flagged passthrough
// and the encoder stage is skipped.
type API struct {
	cfg    APIConfig
	client *http.Client
	logger *slog.Logger
}

func NewAPI(cfg APIConfig) *API {
	if strings.TrimSpace(cfg.Method) == "" {
		cfg.Method = http.MethodGet
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &API{cfg: cfg, client: client, logger: logger}
}

// Probe only derives the canonical video ID; the remote service does not
// expose metadata, so callers fall back to another resolver for tags.
func (a *API) Probe(ctx context.Context, rawURL string) (VideoInfo, error) {
	id, err := VideoID(rawURL)
	if err != nil {
		return VideoInfo{}, err
	}
	return VideoInfo{ID: id}, fmt.Errorf("%w: api backend does not expose metadata", ErrUnavailable)
}

func (a *API) Open(ctx context.Context, rawURL string, bitrate int) (Stream, error) {
	id, err := VideoID(rawURL)
	if err != nil {
		return nil, err
	}

	downloadURL, err := a.requestDownloadURL(ctx, id)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch audio: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, statusError(resp.StatusCode, "fetch audio")
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	isMP3 := strings.Contains(contentType, "audio/mpeg") || strings.Contains(contentType, "mp3") ||
		strings.HasSuffix(strings.ToLower(strippedPath(downloadURL)), ".mp3")
	return &readerStream{reader: resp.Body, passthrough: isMP3}, nil
}

func (a *API) requestDownloadURL(ctx context.Context, id string) (string, error) {
	endpoint := strings.TrimSpace(a.cfg.Endpoint)
	if endpoint == "" {
		return "", fmt.Errorf("%w: api endpoint is not configured", ErrUnavailable)
	}
	reqURL, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: parse api endpoint: %v", ErrUnavailable, err)
	}
	query := reqURL.Query()
	query.Set("id", id)
	reqURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, a.cfg.Method, reqURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if a.cfg.Key != "" {
		req.Header.Set("X-RapidAPI-Key", a.cfg.Key)
	}
	if a.cfg.Host != "" {
		req.Header.Set("X-RapidAPI-Host", a.cfg.Host)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: call api: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp.StatusCode, "call api")
	}

	var payload interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode api response: %v", ErrUnavailable, err)
	}
	link := FindDownloadURL(payload)
	if link == "" {
		return "", fmt.Errorf("%w: api response contains no download URL", ErrUnavailable)
	}
	a.logger.Debug("resolved download url", "video_id", id)
	return link, nil
}

func statusError(status int, op string) error {
	switch status {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s: status 429", ErrRateLimited, op)
	case http.StatusForbidden, http.StatusUnauthorized:
		return fmt.Errorf("%w: %s: status %d", ErrAuthRequired, op, status)
	default:
		return fmt.Errorf("%w: %s: status %d", ErrUnavailable, op, status)
	}
}

func strippedPath(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return parsed.Path
}

// downloadKeys is the priority order searched for a link in the remote
// service's response tree. Schemas vary across providers, so the search stays
// data-driven instead of binding to a fixed struct.
var downloadKeys = []string{
	"download_url", "downloadUrl", "download", "mp3", "mp3_url", "mp3Url",
	"url", "link", "audio", "result",
}

var httpURLPattern = regexp.MustCompile(`^https?://`)

// FindDownloadURL searches a decoded JSON value depth-first for the first
// http(s) string reachable under the priority key list, recursing into nested
// objects and arrays.
func FindDownloadURL(value interface{}) string {
	switch v := value.(type) {
	case map[string]interface{}:
		for _, key := range downloadKeys {
			child, ok := v[key]
			if !ok {
				continue
			}
			if s, ok := child.(string); ok {
				if httpURLPattern.MatchString(s) {
					return s
				}
				continue
			}
			if found := FindDownloadURL(child); found != "" {
				return found
			}
		}
		// No priority key matched directly; descend into the remaining
		// children in case the link hides deeper in the tree.
		for _, child := range v {
			switch child.(type) {
			case map[string]interface{}, []interface{}:
				if found := FindDownloadURL(child); found != "" {
					return found
				}
			}
		}
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && httpURLPattern.MatchString(s) {
				return s
			}
			if found := FindDownloadURL(item); found != "" {
				return found
			}
		}
	}
	return ""
}

var (
	bareIDPattern = regexp.MustCompile(`^[0-9A-Za-z_-]{11}$`)
	pathIDPattern = regexp.MustCompile(`^/(?:shorts|embed)/([0-9A-Za-z_-]{11})`)
)

// VideoID derives the canonical 11-character video ID from bare IDs, watch
// URLs, short links, shorts, and embeds.
func VideoID(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", fmt.Errorf("%w: empty input", ErrInvalidURL)
	}
	if bareIDPattern.MatchString(s) {
		return s, nil
	}

	parsed, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	host := strings.ToLower(parsed.Hostname())

	if host == "youtu.be" {
		segment := strings.TrimPrefix(parsed.Path, "/")
		if idx := strings.IndexByte(segment, '/'); idx >= 0 {
			segment = segment[:idx]
		}
		if bareIDPattern.MatchString(segment) {
			return segment, nil
		}
	}
	if v := parsed.Query().Get("v"); bareIDPattern.MatchString(v) {
		return v, nil
	}
	if m := pathIDPattern.FindStringSubmatch(parsed.Path); len(m) == 2 {
		return m[1], nil
	}
	return "", fmt.Errorf("%w: no video id in %q", ErrInvalidURL, input)
}
