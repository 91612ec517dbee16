package convert

import (
	"strings"
	"testing"
)

func TestBuildEncodeArgs(t *testing.T) {
	t.Parallel()

	args := buildEncodeArgs(EncodeSpec{Bitrate: 192, Title: "My Song", Artist: "Somebody"})
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-i pipe:0",
		"-vn",
		"-codec:a libmp3lame",
		"-b:a 192k",
		"-metadata title=My Song",
		"-metadata artist=Somebody",
		"-id3v2_version 3",
		"-f mp3 pipe:1",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected args to contain %q, got %q", want, joined)
		}
	}
	if strings.Contains(joined[:strings.Index(joined, "-i pipe:0")], "-f ") {
		t.Fatalf("no input demuxer should be forced without a hint: %q", joined)
	}
}

func TestBuildEncodeArgsWithFormatHint(t *testing.T) {
	t.Parallel()

	args := buildEncodeArgs(EncodeSpec{Bitrate: 320, Title: "t", Artist: "a", FormatHint: "webm"})
	joined := strings.Join(args, " ")
	hintIdx := strings.Index(joined, "-f webm")
	inputIdx := strings.Index(joined, "-i pipe:0")
	if hintIdx == -1 || inputIdx == -1 || hintIdx > inputIdx {
		t.Fatalf("expected input demuxer before -i, got %q", joined)
	}
}

