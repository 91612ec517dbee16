// Package server hosts the conversion API and the embedded front page from a
// single HTTP server.
//
// The server builds a consistent middleware chain of request IDs, logging,
// metrics, rate limiting, CORS, and security headers so handlers all share
// common protections and instrumentation. Write timeouts are disabled because
// conversions stream audio for the lifetime of the request.
package server
