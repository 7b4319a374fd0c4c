// Package errs defines the error taxonomy shared across the turn pipeline.
//
// Every failure that crosses a pipeline boundary is classified into a Kind.
// Tool and degraded errors are recovered locally by the agent loop; timeout,
// upstream, and storage errors terminate the turn.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind categorizes a failure for propagation and surfacing decisions.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindAuth        Kind = "auth"
	KindNotFound    Kind = "not_found"
	KindRateLimited Kind = "rate_limited"
	KindTimeout     Kind = "timeout"
	KindTool        Kind = "tool"
	KindUpstream    Kind = "upstream"
	KindStorage     Kind = "storage"
	KindDegraded    Kind = "degraded"
	KindCancelled   Kind = "cancelled"
)

// Error is a classified error. It wraps the underlying cause so callers can
// still match sentinel errors with errors.Is.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" && e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	if e.Message != "" {
		return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// New creates a classified error with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an existing error. Returns nil for a nil cause.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the kind of an error, classifying unwrapped errors by
// content the way the upstream providers report them.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return KindTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests"):
		return KindRateLimited
	case strings.Contains(msg, "not found"):
		return KindNotFound
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "validation"):
		return KindValidation
	}
	return KindUpstream
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Fatal reports whether the kind terminates the turn. Tool and degraded
// errors are handled inside the agent loop.
func (k Kind) Fatal() bool {
	switch k {
	case KindTool, KindDegraded:
		return false
	}
	return true
}

// Retryable reports whether a single jittered retry is worth attempting.
func (k Kind) Retryable() bool {
	switch k {
	case KindUpstream, KindTimeout, KindRateLimited:
		return true
	}
	return false
}

// HTTPStatus maps the kind onto a response status for non-streaming surfaces.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindCancelled:
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}
