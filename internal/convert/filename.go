package convert

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxBaseNameRunes = 120

// Filename derives a download file name from resolved metadata, in the form
// "Title - Uploader [id].mp3" with empty parts elided. The result is
// deterministic for equal inputs and safe for Content-Disposition headers and
// common filesystems.
func Filename(meta Metadata, fallbackID string) string {
	base := sanitizeBaseName(strings.TrimSpace(meta.Title))
	if uploader := sanitizeBaseName(strings.TrimSpace(meta.Uploader)); uploader != "" {
		if base != "" {
			base = base + " - " + uploader
		} else {
			base = uploader
		}
	}
	if base == "" {
		base = "audio"
	}
	base = truncateRunes(base, maxBaseNameRunes)

	id := strings.TrimSpace(meta.ID)
	if id == "" {
		id = strings.TrimSpace(fallbackID)
	}
	if id = sanitizeBaseName(id); id != "" {
		base = base + " [" + id + "]"
	}
	return base + ".mp3"
}

// sanitizeBaseName normalizes to NFKC and strips runes that are unsafe in
// file names or response headers, collapsing runs of whitespace.
func sanitizeBaseName(s string) string {
	s = norm.NFKC.String(s)
	var builder strings.Builder
	lastSpace := true
	for _, r := range s {
		switch {
		case r < 0x20 || r == 0x7f:
			continue
		case strings.ContainsRune(`/\:*?"<>|`, r):
			continue
		case unicode.IsSpace(r):
			if !lastSpace {
				builder.WriteByte(' ')
				lastSpace = true
			}
		default:
			builder.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.Trim(builder.String(), " .")
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimRight(string(runes[:limit]), " .")
}
