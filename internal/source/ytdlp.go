package source

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// LocalConfig configures the local extractor backend, which shells out to a
// yt-dlp binary for both metadata and audio streaming.
type LocalConfig struct {
	// BinaryPath overrides binary discovery with an explicit path.
	BinaryPath string
	// BinDir is where a vendored binary and materialized cookie files live.
	// Defaults to "bin".
	BinDir string
	// DownloadURL overrides the release asset used for on-demand download.
	DownloadURL string

	CookiesFile    string
	CookiesContent string
	CookiesBase64  bool
	DisableCookies bool

	// MetadataArgs and StreamArgs are extra CLI arguments appended to the
	// metadata and streaming invocations respectively. They are tokenized
	// with shell-style quoting.
	MetadataArgs string
	StreamArgs   string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Local runs a yt-dlp binary discovered once per process: explicit path, then
// system install, then a vendored copy, then an on-demand download. The
// discovered path is memoized for the process lifetime; concurrent first
// lookups are collapsed rather than locked out.
type Local struct {
	cfg    LocalConfig
	client *http.Client
	logger *slog.Logger

	group      singleflight.Group
	pathMu     sync.RWMutex
	cachedPath string

	cookieOnce sync.Once
	cookiePath string
	cookieErr  error
}

// NewLocal builds the local backend. Binary discovery is deferred until the
// first metadata or stream request.
func NewLocal(cfg LocalConfig) *Local {
	if strings.TrimSpace(cfg.BinDir) == "" {
		cfg.BinDir = "bin"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{cfg: cfg, client: client, logger: logger}
}

// Binary resolves the yt-dlp path, probing and downloading as needed. The
// first successful resolution wins and is reused for every later call.
func (l *Local) Binary(ctx context.Context) (string, error) {
	l.pathMu.RLock()
	cached := l.cachedPath
	l.pathMu.RUnlock()
	if cached != "" {
		return cached, nil
	}

	value, err, _ := l.group.Do("yt-dlp", func() (interface{}, error) {
		path, err := l.resolveBinary(ctx)
		if err != nil {
			return "", err
		}
		l.pathMu.Lock()
		if l.cachedPath == "" {
			l.cachedPath = path
		}
		l.pathMu.Unlock()
		return path, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

func (l *Local) resolveBinary(ctx context.Context) (string, error) {
	if explicit := strings.TrimSpace(l.cfg.BinaryPath); explicit != "" {
		if isExecutable(explicit) {
			return explicit, nil
		}
		return "", fmt.Errorf("%w: configured yt-dlp path %q is not executable", ErrUnavailable, explicit)
	}

	if system, err := exec.LookPath("yt-dlp"); err == nil {
		if probeVersion(ctx, system) == nil {
			return system, nil
		}
	}

	vendored := l.vendoredPath()
	if isExecutable(vendored) {
		return vendored, nil
	}

	if err := l.downloadBinary(ctx, vendored); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	l.logger.Info("downloaded yt-dlp", "path", vendored)
	return vendored, nil
}

func (l *Local) vendoredPath() string {
	name := "yt-dlp"
	if runtime.GOOS == "windows" {
		name = "yt-dlp.exe"
	}
	return filepath.Join(l.cfg.BinDir, name)
}

func (l *Local) downloadBinary(ctx context.Context, dest string) error {
	url := strings.TrimSpace(l.cfg.DownloadURL)
	if url == "" {
		url = releaseAssetURL(runtime.GOOS)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("prepare bin directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("download yt-dlp: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download yt-dlp: unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "yt-dlp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("write yt-dlp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

func releaseAssetURL(goos string) string {
	const base = "https://github.com/yt-dlp/yt-dlp/releases/latest/download/"
	switch goos {
	case "windows":
		return base + "yt-dlp.exe"
	case "darwin":
		return base + "yt-dlp_macos"
	default:
		return base + "yt-dlp"
	}
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0o111 != 0
}

func probeVersion(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, path, "--version")
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run()
}

// cookieArgs yields the --cookies flag when cookie material is configured,
// materializing inline content to a file under the bin directory on first use.
func (l *Local) cookieArgs() ([]string, error) {
	if l.cfg.DisableCookies {
		return nil, nil
	}
	if file := strings.TrimSpace(l.cfg.CookiesFile); file != "" {
		return []string{"--cookies", file}, nil
	}
	content := strings.TrimSpace(l.cfg.CookiesContent)
	if content == "" {
		return nil, nil
	}

	l.cookieOnce.Do(func() {
		data := []byte(content)
		if l.cfg.CookiesBase64 {
			decoded, err := base64.StdEncoding.DecodeString(content)
			if err != nil {
				l.cookieErr = fmt.Errorf("decode cookie content: %w", err)
				return
			}
			data = decoded
		}
		if err := os.MkdirAll(l.cfg.BinDir, 0o755); err != nil {
			l.cookieErr = fmt.Errorf("prepare bin directory: %w", err)
			return
		}
		path := filepath.Join(l.cfg.BinDir, fmt.Sprintf("cookies-%s.txt", uuid.NewString()))
		if err := os.WriteFile(path, data, 0o600); err != nil {
			l.cookieErr = fmt.Errorf("materialize cookies: %w", err)
			return
		}
		l.cookiePath = path
	})
	if l.cookieErr != nil {
		return nil, l.cookieErr
	}
	return []string{"--cookies", l.cookiePath}, nil
}

// Probe runs `yt-dlp -J` and extracts title, uploader, id, and duration.
func (l *Local) Probe(ctx context.Context, url string) (VideoInfo, error) {
	bin, err := l.Binary(ctx)
	if err != nil {
		return VideoInfo{}, err
	}
	args := []string{"-J", "--no-playlist", "--no-warnings"}
	cookies, err := l.cookieArgs()
	if err != nil {
		return VideoInfo{}, err
	}
	args = append(args, cookies...)
	args = append(args, SplitArgs(l.cfg.MetadataArgs)...)
	args = append(args, url)

	var stdout bytes.Buffer
	stderr := NewLineTail()
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return VideoInfo{}, wrapToolError("yt-dlp metadata", err, stderr.Last())
	}

	var payload struct {
		Title     string  `json:"title"`
		FullTitle string  `json:"fulltitle"`
		Uploader  string  `json:"uploader"`
		Channel   string  `json:"channel"`
		ID        string  `json:"id"`
		Duration  float64 `json:"duration"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &payload); err != nil {
		return VideoInfo{}, fmt.Errorf("parse yt-dlp metadata: %w", err)
	}
	info := VideoInfo{
		Title:    firstNonEmpty(payload.Title, payload.FullTitle),
		Uploader: firstNonEmpty(payload.Uploader, payload.Channel),
		ID:       payload.ID,
		Duration: payload.Duration,
	}
	return info, nil
}

// Open spawns yt-dlp streaming best available audio to stdout.
func (l *Local) Open(ctx context.Context, url string, bitrate int) (Stream, error) {
	bin, err := l.Binary(ctx)
	if err != nil {
		return nil, err
	}
	args := []string{"-f", "bestaudio/best", "-o", "-", "--no-playlist", "--quiet", "--no-warnings"}
	cookies, err := l.cookieArgs()
	if err != nil {
		return nil, err
	}
	args = append(args, cookies...)
	args = append(args, SplitArgs(l.cfg.StreamArgs)...)
	args = append(args, url)

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, bin, args...)
	stderr := NewLineTail()
	cmd.Stderr = stderr

	// Stdout goes through an in-process pipe rather than StdoutPipe. Wait
	// closes a StdoutPipe as soon as the child exits, which discards any
	// buffered audio a slow consumer has not drained yet; with an io.Pipe
	// the exec copier blocks until every byte is read, and Wait blocks on
	// the copier.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: start yt-dlp: %v", ErrUnavailable, err)
	}

	ps := &processStream{
		reader: pr,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		waitErr := cmd.Wait()
		if waitErr != nil && procCtx.Err() == nil {
			ps.setErr(wrapToolError("yt-dlp", waitErr, stderr.Last()))
		}
		close(ps.done)
		pw.Close()
	}()
	return ps, nil
}

// processStream adapts a child process stdout pipe to the Stream contract.
// Close is idempotent and forcefully terminates the process.
type processStream struct {
	reader io.ReadCloser
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func (p *processStream) Read(b []byte) (int, error) {
	n, err := p.reader.Read(b)
	if err == io.EOF {
		// Distinguish a clean end of stream from the producer dying.
		<-p.done
		if procErr := p.Err(); procErr != nil {
			return n, procErr
		}
	}
	return n, err
}

func (p *processStream) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		p.reader.Close()
		<-p.done
	})
	return nil
}

func (p *processStream) FormatHint() string { return "" }
func (p *processStream) Passthrough() bool  { return false }

func (p *processStream) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

func (p *processStream) setErr(err error) {
	p.errMu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.errMu.Unlock()
}

// wrapToolError folds a subprocess failure and its last stderr line into the
// backend error taxonomy.
func wrapToolError(tool string, err error, detail string) error {
	lowered := strings.ToLower(detail)
	message := detail
	if message == "" {
		message = err.Error()
	}
	switch {
	case strings.Contains(lowered, "sign in to confirm"),
		strings.Contains(lowered, "private video"),
		strings.Contains(lowered, "members-only"):
		return fmt.Errorf("%w: %s: %s", ErrAuthRequired, tool, message)
	case strings.Contains(lowered, "too many requests"),
		strings.Contains(lowered, "429"),
		strings.Contains(lowered, "quota"):
		return fmt.Errorf("%w: %s: %s", ErrRateLimited, tool, message)
	default:
		return fmt.Errorf("%w: %s: %s", ErrUnavailable, tool, message)
	}
}

// SplitArgs tokenizes extra CLI argument strings with shell-style single and
// double quoting, so configured passthrough flags survive embedded spaces.
func SplitArgs(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var (
		args    []string
		current strings.Builder
		quote   rune
		escaped bool
		pending bool
	)
	flush := func() {
		if pending {
			args = append(args, current.String())
			current.Reset()
			pending = false
		}
	}
	for _, r := range raw {
		switch {
		case escaped:
			current.WriteRune(r)
			pending = true
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			pending = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
			pending = true
		case r == '\'' || r == '"':
			quote = r
			pending = true
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			current.WriteRune(r)
			pending = true
		}
	}
	flush()
	return args
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
