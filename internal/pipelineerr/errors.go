// Package pipelineerr defines the tagged error taxonomy every pipeline
// component surfaces instead of a class hierarchy: a single sum-like Kind
// with a Retryable predicate, matching the house style of small enum types
// (see internal/breaker.State) rather than deep error trees.
package pipelineerr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for the Queue Engine's retry/dead-letter decision.
type Kind string

const (
	InvalidPayload       Kind = "invalid_payload"
	NotFound             Kind = "not_found"
	Conflict             Kind = "conflict"
	PreconditionFailed   Kind = "precondition_failed"
	UsageLimitExceeded   Kind = "usage_limit_exceeded"
	PostingLimitExceeded Kind = "posting_limit_exceeded"
	ProviderAuth         Kind = "provider_auth"
	ProviderRateLimited  Kind = "provider_rate_limited"
	ProviderTransient    Kind = "provider_transient"
	TranscoderTimeout    Kind = "transcoder_timeout"
	TranscoderFailed     Kind = "transcoder_failed"
	Cancelled            Kind = "cancelled"
	Internal             Kind = "internal"
)

// retryableByDefault holds the per-kind default. Handlers
// may override RemainingMS-driven retry timing (PostingLimitExceeded) but
// never override whether a kind is retryable in principle.
var retryableByDefault = map[Kind]bool{
	InvalidPayload:       false,
	NotFound:             false,
	Conflict:             false,
	PreconditionFailed:   false,
	UsageLimitExceeded:   false,
	PostingLimitExceeded: true,
	ProviderAuth:         false,
	ProviderRateLimited:  true,
	ProviderTransient:    true,
	TranscoderTimeout:    true,
	TranscoderFailed:     true,
	Cancelled:            true,
	Internal:             true,
}

// Error is the structured error every port/handler in the core returns.
type Error struct {
	Kind           Kind
	Message        string
	ProviderStatus int           // optional HTTP/provider status code
	ProviderCode   string        // optional provider-specific error code
	RemainingMS    time.Duration // set for PostingLimitExceeded: run_at = now + RemainingMS
	cause          error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the Queue Engine should requeue (true) or
// dead-letter (false) a job that failed with this error, independent of
// attempts remaining.
func (e *Error) Retryable() bool {
	return retryableByDefault[e.Kind]
}

// New builds a tagged error of the given kind wrapping cause.
func New(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Newf builds a tagged error with no wrapped cause.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithProviderStatus attaches a provider HTTP status/code to the error.
func (e *Error) WithProviderStatus(status int, code string) *Error {
	e.ProviderStatus = status
	e.ProviderCode = code
	return e
}

// WithRemaining attaches the remaining-wait duration (PostingLimitExceeded).
func (e *Error) WithRemaining(d time.Duration) *Error {
	e.RemainingMS = d
	return e
}

// As reports whether err is (or wraps) a *Error and returns it.
func As(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ClassifyProviderStatus maps an HTTP status code from an external
// publisher/transcriber call to the error taxonomy above.
func ClassifyProviderStatus(status int, cause error) *Error {
	switch {
	case status == 401 || status == 403:
		return New(ProviderAuth, cause, "provider authentication failed (status %d); reconnect account", status).WithProviderStatus(status, "")
	case status == 429:
		return New(ProviderRateLimited, cause, "provider rate limited (status %d)", status).WithProviderStatus(status, "")
	case status >= 500:
		return New(ProviderTransient, cause, "provider transient error (status %d)", status).WithProviderStatus(status, "")
	case status >= 400:
		return New(InvalidPayload, cause, "provider rejected request (status %d)", status).WithProviderStatus(status, "")
	default:
		return New(Internal, cause, "unexpected provider status %d", status).WithProviderStatus(status, "")
	}
}
