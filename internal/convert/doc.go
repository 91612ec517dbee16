// Package convert implements the conversion pipeline: URL validation,
// best-effort metadata resolution, filename derivation, and the orchestrator
// that wires an audio source into the MP3 encoder and relays the result to
// the HTTP response with at-most-once failure reporting.
package convert
