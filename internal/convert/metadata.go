package convert

import (
	"context"
	"log/slog"
	"strings"

	"yt2mp3/internal/source"
)

// Metadata is the best-effort video description used for tags and filenames.
// Zero values are legal; TagTitle and TagArtist supply the generic defaults.
type Metadata struct {
	Title    string
	Uploader string
	ID       string
	Duration float64
}

// TagTitle returns the ID3 title, defaulting to "audio".
func (m Metadata) TagTitle() string {
	if t := strings.TrimSpace(m.Title); t != "" {
		return t
	}
	return "audio"
}

// TagArtist returns the ID3 artist, defaulting to "YouTube".
func (m Metadata) TagArtist() string {
	if a := strings.TrimSpace(m.Uploader); a != "" {
		return a
	}
	return "YouTube"
}

// Resolver fetches metadata through the primary backend with at most one
// fallback attempt. Resolution failures never abort a conversion by
// themselves: the caller receives degraded defaults plus a classified error
// it may choose to act on before streaming starts.
type Resolver struct {
	Primary  source.Prober
	Fallback source.Prober
	Logger   *slog.Logger
}

// Resolve returns metadata for url. On total failure it returns the generic
// metadata object together with an *Error classifying the combined failure
// text; the error is advisory and the Metadata is always usable.
func (r *Resolver) Resolve(ctx context.Context, url string) (Metadata, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if r.Primary == nil && r.Fallback == nil {
		return Metadata{Title: "audio"}, nil
	}

	var failures []string
	if r.Primary != nil {
		info, err := r.Primary.Probe(ctx, url)
		if err == nil {
			return fromInfo(info), nil
		}
		failures = append(failures, err.Error())
		logger.Warn("primary metadata resolution failed", "error", err)
	}
	if r.Fallback != nil {
		info, err := r.Fallback.Probe(ctx, url)
		if err == nil {
			return fromInfo(info), nil
		}
		failures = append(failures, err.Error())
		logger.Warn("fallback metadata resolution failed", "error", err)
	}

	combined := strings.Join(failures, "; ")
	kind := Classify(combined)
	logger.Error("metadata resolution failed, proceeding with defaults", "classification", string(kind))
	return Metadata{Title: "audio"}, newError(kind, "metadata resolution failed", nil)
}

func fromInfo(info source.VideoInfo) Metadata {
	return Metadata{
		Title:    info.Title,
		Uploader: info.Uploader,
		ID:       info.ID,
		Duration: info.Duration,
	}
}
