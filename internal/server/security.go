package server

import "net/http"

// The non-CSP headers are fixed: this service never serves embeddable or
// cross-origin documents, so only the Content-Security-Policy is tunable,
// for deployments that load front-page assets from another host.
type SecurityConfig struct {
	ContentSecurityPolicy string
}

const defaultContentSecurityPolicy = "default-src 'self'; " +
	"connect-src 'self'; " +
	"img-src 'self' data:; " +
	"script-src 'self'; " +
	"style-src 'self'; " +
	"object-src 'none'; " +
	"base-uri 'self'; " +
	"frame-ancestors 'none'; " +
	"form-action 'self'"

func (cfg SecurityConfig) policy() string {
	if cfg.ContentSecurityPolicy != "" {
		return cfg.ContentSecurityPolicy
	}
	return defaultContentSecurityPolicy
}

func securityHeadersMiddleware(cfg SecurityConfig, next http.Handler) http.Handler {
	policy := cfg.policy()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Content-Security-Policy", policy)
		header.Set("X-Frame-Options", "DENY")
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("Referrer-Policy", "no-referrer")
		header.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

		next.ServeHTTP(w, r)
	})
}
