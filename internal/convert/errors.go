package convert

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"yt2mp3/internal/source"
)

// Kind classifies conversion failures for HTTP mapping and metrics labels.
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindAuthRequired Kind = "auth_required"
	KindRateLimited  Kind = "rate_limited"
	KindForbidden    Kind = "forbidden"
	KindUnavailable  Kind = "unavailable"
	KindEncoder      Kind = "encoder_failure"
	KindEmptyOutput  Kind = "empty_output"
	KindClientAbort  Kind = "client_abort"
	KindUnknown      Kind = "unknown"
)

// Error is a classified conversion failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the failure kind onto a response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindAuthRequired, KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the machine-readable error code included in JSON bodies for
// actionable failures, or "" when no code applies.
func (e *Error) Code() string {
	switch e.Kind {
	case KindAuthRequired:
		return "auth_required"
	case KindRateLimited:
		return "rate_limited"
	default:
		return ""
	}
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Classify buckets free-form failure text by case-insensitive substring
// match. It backs the metadata resolver's short-circuit decision and the
// empty-output diagnosis.
func Classify(text string) Kind {
	lowered := strings.ToLower(text)
	switch {
	case strings.Contains(lowered, "sign in to confirm"),
		strings.Contains(lowered, "private video"),
		strings.Contains(lowered, "members-only"):
		return KindAuthRequired
	case strings.Contains(lowered, "too many requests"),
		strings.Contains(lowered, "429"),
		strings.Contains(lowered, "quota"):
		return KindRateLimited
	case strings.Contains(lowered, "403"):
		return KindForbidden
	case strings.Contains(lowered, "unavailable"),
		strings.Contains(lowered, "not available"),
		strings.Contains(lowered, "removed"):
		return KindUnavailable
	default:
		return KindUnknown
	}
}

// classifySourceError maps backend sentinel errors onto conversion kinds,
// falling back to text classification for untyped failures.
func classifySourceError(err error) Kind {
	switch {
	case errors.Is(err, source.ErrAuthRequired):
		return KindAuthRequired
	case errors.Is(err, source.ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, source.ErrInvalidURL):
		return KindInvalidInput
	case errors.Is(err, source.ErrUnavailable):
		return KindUnavailable
	default:
		return Classify(err.Error())
	}
}
