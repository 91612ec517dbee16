package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"yt2mp3/internal/observability/logging"
	"yt2mp3/internal/observability/metrics"
	"yt2mp3/internal/source"
)

// Request is a validated conversion request.
type Request struct {
	URL     string
	Bitrate int
}

// Config wires the pipeline's collaborators. Source and Encoder are
// required; Resolver may be nil when no metadata backend is configured.
type Config struct {
	Source   source.Source
	Encoder  Encoder
	Resolver *Resolver
	// Backend labels metrics and logs with the active source backend.
	Backend string
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Pipeline executes conversions: resolve metadata, open the audio source,
// feed it through the encoder, and relay MP3 bytes to the HTTP response. One
// pipeline serves all requests; per-request state lives in a run.
type Pipeline struct {
	cfg Config
}

func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Source == nil {
		return nil, errors.New("pipeline requires a source backend")
	}
	if cfg.Encoder == nil {
		return nil, errors.New("pipeline requires an encoder")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}
	return &Pipeline{cfg: cfg}, nil
}

// Serve runs one conversion against the response writer. It owns the
// response from this point on: exactly one terminal action is taken, whether
// that is the finished stream, a JSON error, or destroying the connection.
func (p *Pipeline) Serve(w http.ResponseWriter, r *http.Request, req Request) {
	id := uuid.NewString()
	ctx := logging.ContextWithConversionID(r.Context(), id)
	r = r.WithContext(ctx)
	logger := logging.WithContext(ctx, p.cfg.Logger).With("url", req.URL, "bitrate", req.Bitrate)

	c := &run{
		pipeline: p,
		w:        w,
		r:        r,
		log:      logger,
	}

	p.cfg.Metrics.ConversionStarted(p.cfg.Backend)
	// Finishing is deferred so mid-stream failures that unwind through a
	// panic still settle the gauge and land in the outcome counters.
	defer func() {
		p.cfg.Metrics.ConversionFinished(p.cfg.Backend, c.outcomeLabel(), c.bytesWritten())
	}()
	c.recordOutcome(c.execute(req))
}

// run tracks the per-request state machine. The responded flag enforces
// at-most-once terminal actions; startedStreaming records whether any body
// byte reached the client, after which failures can no longer be reported as
// JSON.
type run struct {
	pipeline *Pipeline
	w        http.ResponseWriter
	r        *http.Request
	log      *slog.Logger

	mu              sync.Mutex
	responded       bool
	startedStream   bool
	bytes           int64
	outcome         string
}

func (c *run) execute(req Request) string {
	ctx, cancel := context.WithCancel(c.r.Context())
	defer cancel()

	// Resolving. Metadata failure degrades to defaults unless it signals a
	// condition worth surfacing before any audio work starts.
	var meta Metadata
	if resolver := c.pipeline.cfg.Resolver; resolver != nil {
		var resolveErr error
		meta, resolveErr = resolver.Resolve(ctx, req.URL)
		if resolveErr != nil {
			var cerr *Error
			if errors.As(resolveErr, &cerr) && (cerr.Kind == KindAuthRequired || cerr.Kind == KindRateLimited) {
				c.fail(cerr)
				return string(cerr.Kind)
			}
		}
	} else {
		meta = Metadata{Title: "audio"}
	}

	// SourceOpening.
	stream, err := c.pipeline.cfg.Source.Open(ctx, req.URL, req.Bitrate)
	if err != nil {
		// The backend's own message carries the actionable detail, such
		// as the tool's last stderr line or a remote status.
		kind := classifySourceError(err)
		c.fail(newError(kind, err.Error(), err))
		return string(kind)
	}
	defer stream.Close()

	fallbackID, _ := source.VideoID(req.URL)
	filename := Filename(meta, fallbackID)
	header := c.w.Header()
	header.Set("Content-Type", "audio/mpeg")
	header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	// Streaming. The counting writer flips startedStreaming on the first
	// body byte; from then on headers are immutable.
	out := &responseRelay{run: c}
	var encodeErr error
	if stream.Passthrough() {
		if _, copyErr := io.Copy(out, stream); copyErr != nil && !errors.Is(copyErr, errResponseClosed) {
			encodeErr = newError(KindUnavailable, "passthrough stream interrupted", copyErr)
		}
	} else {
		encodeErr = c.pipeline.cfg.Encoder.Encode(ctx, stream, out, EncodeSpec{
			Bitrate:    req.Bitrate,
			Title:      meta.TagTitle(),
			Artist:     meta.TagArtist(),
			FormatHint: stream.FormatHint(),
		})
	}

	// Client disconnect is silent cleanup, never an error response. Both
	// child processes are already dying through context cancellation.
	if c.r.Context().Err() != nil {
		if c.tryRespond() {
			c.log.Info("client aborted conversion", "bytes", c.bytesWritten())
		}
		return string(KindClientAbort)
	}

	if encodeErr != nil {
		cerr := c.mergeStreamFailure(encodeErr, stream.Err())
		c.fail(cerr)
		return string(cerr.Kind)
	}

	// An encoder that exits cleanly without producing a single byte is a
	// failure: the source stream was empty, most commonly because the video
	// needed a signed-in session.
	if c.bytesWritten() == 0 {
		kind := KindEmptyOutput
		message := "conversion produced no audio; the source likely requires authentication"
		if streamErr := stream.Err(); streamErr != nil {
			kind = classifySourceError(streamErr)
			message = streamErr.Error()
		}
		c.fail(newError(kind, message, stream.Err()))
		return string(kind)
	}

	if c.tryRespond() {
		c.log.Info("conversion completed", "bytes", c.bytesWritten(), "filename", filename)
	}
	return "completed"
}

// mergeStreamFailure prefers the source's own failure over the encoder's
// when the source died mid-stream, since the source error names the real
// cause (the encoder just saw its stdin close).
func (c *run) mergeStreamFailure(encodeErr error, streamErr error) *Error {
	if streamErr != nil {
		return newError(classifySourceError(streamErr), streamErr.Error(), streamErr)
	}
	var cerr *Error
	if errors.As(encodeErr, &cerr) {
		return cerr
	}
	return newError(KindUnknown, encodeErr.Error(), encodeErr)
}

// tryRespond claims the single terminal action. The first caller wins; every
// later completion or failure signal becomes a no-op.
func (c *run) tryRespond() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.responded {
		return false
	}
	c.responded = true
	return true
}

// fail performs the terminal failure action: a structured JSON body while
// headers are still open, or tearing down the connection once binary data is
// in flight.
func (c *run) fail(cerr *Error) {
	if !c.tryRespond() {
		return
	}
	c.recordOutcome(string(cerr.Kind))
	c.log.Error("conversion failed",
		"kind", string(cerr.Kind),
		"error", cerr.Error(),
		"streamed", c.hasStarted())

	if c.hasStarted() {
		// A JSON error cannot be appended to an in-progress MP3 stream;
		// drop the connection so the client sees a truncated download.
		panic(http.ErrAbortHandler)
	}

	body := map[string]string{"error": cerr.Message}
	if code := cerr.Code(); code != "" {
		body["code"] = code
	}
	writeJSON(c.w, cerr.HTTPStatus(), body)
}

func (c *run) hasStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedStream
}

func (c *run) bytesWritten() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// recordOutcome keeps the first terminal outcome; later signals are no-ops,
// mirroring the responded flag.
func (c *run) recordOutcome(v string) {
	c.mu.Lock()
	if c.outcome == "" {
		c.outcome = v
	}
	c.mu.Unlock()
}

func (c *run) outcomeLabel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcome == "" {
		return string(KindUnknown)
	}
	return c.outcome
}

var errResponseClosed = errors.New("response already finalized")

// responseRelay counts bytes into the response and flushes eagerly so audio
// reaches the client as it is produced rather than in one buffered burst.
type responseRelay struct {
	run *run
}

func (rr *responseRelay) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	c := rr.run
	c.mu.Lock()
	if c.responded {
		c.mu.Unlock()
		return 0, errResponseClosed
	}
	c.startedStream = true
	c.bytes += int64(len(p))
	c.mu.Unlock()

	n, err := c.w.Write(p)
	if err == nil {
		if flusher, ok := c.w.(http.Flusher); ok {
			flusher.Flush()
		}
	}
	return n, err
}
