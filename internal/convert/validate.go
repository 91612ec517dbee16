package convert

import (
	"net/url"
	"strings"
)

// allowedHosts is the video-hosting domain allowlist. A hostname passes on an
// exact match or as a subdomain of an entry.
var allowedHosts = []string{
	"youtube.com",
	"youtu.be",
	"youtube-nocookie.com",
}

// ValidURL reports whether raw parses as an absolute http(s) URL whose host
// belongs to the allowlist. It never panics on malformed input.
func ValidURL(raw string) bool {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return false
	}
	for _, allowed := range allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}
