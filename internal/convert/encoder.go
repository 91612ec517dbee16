package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"yt2mp3/internal/source"
)

// EncodeSpec describes a single MP3 encode.
type EncodeSpec struct {
	// Bitrate in kbps, already validated to [64, 320].
	Bitrate int
	Title   string
	Artist  string
	// FormatHint names the input demuxer when the source declares one.
	FormatHint string
}

// Encoder transcodes an audio stream to MP3, writing encoded bytes to output
// as they are produced. Implementations must stop promptly when ctx is
// cancelled.
type Encoder interface {
	Encode(ctx context.Context, input io.Reader, output io.Writer, spec EncodeSpec) error
}

// FFmpegEncoder shells out to ffmpeg, reading the source from stdin and
// relaying MP3 from stdout. Stderr is captured so failures carry the
// encoder's last complaint instead of a bare exit status.
type FFmpegEncoder struct {
	// Binary defaults to "ffmpeg".
	Binary string
}

func (e *FFmpegEncoder) binary() string {
	if strings.TrimSpace(e.Binary) != "" {
		return e.Binary
	}
	return "ffmpeg"
}

func (e *FFmpegEncoder) Encode(ctx context.Context, input io.Reader, output io.Writer, spec EncodeSpec) error {
	args := buildEncodeArgs(spec)
	cmd := exec.CommandContext(ctx, e.binary(), args...)
	cmd.Stdin = input
	cmd.Stdout = output
	stderr := source.NewLineTail()
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return newError(KindEncoder, "start encoder", err)
	}
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return newError(KindClientAbort, "encoder cancelled", ctx.Err())
		}
		detail := stderr.Last()
		if detail == "" {
			detail = err.Error()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return newError(KindEncoder, fmt.Sprintf("encoder exited %d: %s", exitErr.ExitCode(), detail), err)
		}
		return newError(KindEncoder, detail, err)
	}
	return nil
}

// buildEncodeArgs assembles the ffmpeg invocation: audio only, libmp3lame at
// the requested bitrate, title/artist tags, MP3 container on stdout.
func buildEncodeArgs(spec EncodeSpec) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if spec.FormatHint != "" {
		args = append(args, "-f", spec.FormatHint)
	}
	args = append(args,
		"-i", "pipe:0",
		"-vn",
		"-codec:a", "libmp3lame",
		"-b:a", fmt.Sprintf("%dk", spec.Bitrate),
		"-metadata", "title="+spec.Title,
		"-metadata", "artist="+spec.Artist,
		"-id3v2_version", "3",
		"-f", "mp3",
		"pipe:1",
	)
	return args
}
