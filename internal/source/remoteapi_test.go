package source

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVideoID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "bare id", input: "dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "watch url", input: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "watch url with extras", input: "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s", want: "dQw4w9WgXcQ"},
		{name: "short link", input: "https://youtu.be/dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "short link with query", input: "https://youtu.be/dQw4w9WgXcQ?si=share", want: "dQw4w9WgXcQ"},
		{name: "shorts", input: "https://www.youtube.com/shorts/dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "embed", input: "https://www.youtube.com/embed/dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "empty", input: "", wantErr: true},
		{name: "no id", input: "https://www.youtube.com/feed/subscriptions", wantErr: true},
		{name: "short id", input: "https://youtu.be/tooshort", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := VideoID(tc.input)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidURL) {
					t.Fatalf("expected ErrInvalidURL, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("VideoID(%q) error: %v", tc.input, err)
			}
			if got != tc.want {
				t.Fatalf("VideoID(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestFindDownloadURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want string
	}{
		{name: "top level link", raw: `{"link":"https://cdn.example.com/a.mp3"}`, want: "https://cdn.example.com/a.mp3"},
		{name: "priority order", raw: `{"url":"https://cdn.example.com/b.mp3","download_url":"https://cdn.example.com/a.mp3"}`, want: "https://cdn.example.com/a.mp3"},
		{name: "nested result", raw: `{"result":{"mp3":"https://cdn.example.com/c.mp3"}}`, want: "https://cdn.example.com/c.mp3"},
		{name: "array of results", raw: `{"result":[{"status":"pending"},{"download":"https://cdn.example.com/d.mp3"}]}`, want: "https://cdn.example.com/d.mp3"},
		{name: "deeply nested off-key", raw: `{"data":{"items":[{"audio":"https://cdn.example.com/e.mp3"}]}}`, want: "https://cdn.example.com/e.mp3"},
		{name: "non URL string skipped", raw: `{"download":"processing","link":"https://cdn.example.com/f.mp3"}`, want: "https://cdn.example.com/f.mp3"},
		{name: "nothing found", raw: `{"status":"converting","progress":42}`, want: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var payload interface{}
			if err := json.Unmarshal([]byte(tc.raw), &payload); err != nil {
				t.Fatalf("unmarshal fixture: %v", err)
			}
			if got := FindDownloadURL(payload); got != tc.want {
				t.Fatalf("FindDownloadURL = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAPIProbeReturnsIDButNoMetadata(t *testing.T) {
	t.Parallel()

	a := NewAPI(APIConfig{Endpoint: "https://api.example.com/dl"})
	info, err := a.Probe(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if info.ID != "dQw4w9WgXcQ" {
		t.Fatalf("expected canonical id, got %+v", info)
	}
}

func TestAPIOpenStreamsResolvedAudio(t *testing.T) {
	t.Parallel()

	audio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3-payload"))
	}))
	t.Cleanup(audio.Close)

	var gotKey, gotHost, gotID string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-RapidAPI-Key")
		gotHost = r.Header.Get("X-RapidAPI-Host")
		gotID = r.URL.Query().Get("id")
		_ = json.NewEncoder(w).Encode(map[string]string{"link": audio.URL + "/track.mp3"})
	}))
	t.Cleanup(api.Close)

	a := NewAPI(APIConfig{Key: "secret", Endpoint: api.URL, Host: "converter.example.com"})
	stream, err := a.Open(context.Background(), "https://youtu.be/dQw4w9WgXcQ", 320)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = stream.Close() })

	if gotKey != "secret" || gotHost != "converter.example.com" || gotID != "dQw4w9WgXcQ" {
		t.Fatalf("unexpected api request: key=%q host=%q id=%q", gotKey, gotHost, gotID)
	}
	if !stream.Passthrough() {
		t.Fatal("audio/mpeg payload should be passthrough")
	}
	data, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if string(data) != "mp3-payload" {
		t.Fatalf("unexpected payload %q", data)
	}
}

func TestAPIOpenMapsStatusCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   error
	}{
		{status: http.StatusTooManyRequests, want: ErrRateLimited},
		{status: http.StatusForbidden, want: ErrAuthRequired},
		{status: http.StatusUnauthorized, want: ErrAuthRequired},
		{status: http.StatusBadGateway, want: ErrUnavailable},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		a := NewAPI(APIConfig{Endpoint: srv.URL})
		_, err := a.Open(context.Background(), "dQw4w9WgXcQ", 320)
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}
}

func TestAPIOpenRequiresEndpoint(t *testing.T) {
	t.Parallel()

	a := NewAPI(APIConfig{})
	if _, err := a.Open(context.Background(), "dQw4w9WgXcQ", 320); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable without endpoint, got %v", err)
	}
}

func TestAPIOpenRejectsResponseWithoutLink(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "processing"})
	}))
	t.Cleanup(srv.Close)

	a := NewAPI(APIConfig{Endpoint: srv.URL})
	if _, err := a.Open(context.Background(), "dQw4w9WgXcQ", 320); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for missing link, got %v", err)
	}
}

func TestAPIOpenMarksNonMP3AsTranscodeInput(t *testing.T) {
	t.Parallel()

	audio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("raw"))
	}))
	t.Cleanup(audio.Close)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"link": audio.URL + "/track.bin"})
	}))
	t.Cleanup(srv.Close)

	a := NewAPI(APIConfig{Endpoint: srv.URL})
	stream, err := a.Open(context.Background(), "dQw4w9WgXcQ", 320)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = stream.Close() })
	if stream.Passthrough() {
		t.Fatal("unknown content types must go through the encoder")
	}
}
