package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrorKind tags a provider failure so the router can decide whether to
// retry, fall back, or surface.
type ErrorKind string

const (
	ErrUnauthorised          ErrorKind = "unauthorised"
	ErrReAuthRequired        ErrorKind = "reauth_required"
	ErrRateLimited           ErrorKind = "rate_limited"
	ErrTimeout               ErrorKind = "timeout"
	ErrNetwork               ErrorKind = "network_error"
	ErrServer                ErrorKind = "server_error"
	ErrInvalidResponse       ErrorKind = "invalid_response"
	ErrContextLengthExceeded ErrorKind = "context_length_exceeded"
	ErrContentFiltered       ErrorKind = "content_filtered"
	ErrCancelled             ErrorKind = "cancelled"
)

// ProviderError is the tagged union bubbled out of every adapter. The
// message is user-safe; raw bodies are truncated to an excerpt.
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	Status     int           // HTTP status when applicable
	RetryAfter time.Duration // only for ErrRateLimited, zero if unknown
	Message    string
	cause      error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *ProviderError) Unwrap() error { return e.cause }

// Retryable reports whether the router may try the next candidate.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case ErrRateLimited, ErrTimeout, ErrNetwork, ErrServer:
		return true
	}
	return false
}

// NewProviderError builds a tagged error for an adapter.
func NewProviderError(provider string, kind ErrorKind, msg string) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Message: msg}
}

// WrapProviderError tags an underlying transport error, classifying
// context and net failures.
func WrapProviderError(provider string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	kind := ErrNetwork
	switch {
	case errors.Is(err, context.Canceled):
		kind = ErrCancelled
	case errors.Is(err, context.DeadlineExceeded):
		kind = ErrTimeout
	default:
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			kind = ErrTimeout
		}
	}
	return &ProviderError{Kind: kind, Provider: provider, Message: err.Error(), cause: err}
}

// errorFromStatus maps an HTTP status plus a body excerpt to a kind.
func errorFromStatus(provider string, status int, excerpt string) *ProviderError {
	const maxExcerpt = 240
	if len(excerpt) > maxExcerpt {
		excerpt = excerpt[:maxExcerpt]
	}
	e := &ProviderError{Provider: provider, Status: status, Message: excerpt}
	switch {
	case status == 401 || status == 403:
		e.Kind = ErrUnauthorised
	case status == 429:
		e.Kind = ErrRateLimited
	case status == 408 || status == 504:
		e.Kind = ErrTimeout
	case status == 413:
		e.Kind = ErrContextLengthExceeded
	case status >= 500:
		e.Kind = ErrServer
	default:
		e.Kind = ErrInvalidResponse
	}
	return e
}

// KindOf extracts the error kind, defaulting to network for untyped
// errors so callers always have something to record.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrNetwork
}
