package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies provider failures. The kind decides whether the
// fallback orchestrator penalizes the provider and whether the request can
// continue to the next candidate.
type ErrorKind string

const (
	// KindConfig marks missing or invalid credentials. Fatal for the
	// provider, not for the request.
	KindConfig ErrorKind = "config_error"
	// KindTimeout marks a provider that exceeded the time budget.
	KindTimeout ErrorKind = "timeout"
	// KindQuota marks rate/billing exhaustion. Trips the circuit breaker.
	KindQuota ErrorKind = "quota_exceeded"
	// KindEmpty marks a stream that completed without usable content.
	// Trips the circuit breaker.
	KindEmpty ErrorKind = "empty_response"
	// KindExhausted means every candidate model failed. Terminal.
	KindExhausted ErrorKind = "all_providers_exhausted"
	// KindUnknown covers transient errors that should not penalize the
	// provider.
	KindUnknown ErrorKind = "unknown"
)

// StreamError is a taxonomy-tagged provider failure.
type StreamError struct {
	Kind    ErrorKind
	Message string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewStreamError builds a tagged failure.
func NewStreamError(kind ErrorKind, format string, args ...any) *StreamError {
	return &StreamError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// StreamResult is the outcome of invoking a model: either an ordered,
// single-pass chunk stream annotated with the provider/model that produced
// it, or a tagged failure.
type StreamResult struct {
	Stream     <-chan *StreamChunk
	ProviderID string
	Model      string
	Err        *StreamError
}

// OK reports whether the invocation produced a stream.
func (r StreamResult) OK() bool { return r.Err == nil }

// Classify maps a raw provider error onto the failure taxonomy. Providers
// surface vendor errors as plain wrapped errors; classification is by
// status code and message shape, mirroring what the vendors actually
// return.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var se *StreamError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "quota"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "resource_exhausted"),
		strings.Contains(msg, "api error 429"):
		return KindQuota
	case strings.Contains(msg, "api key"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "api error 401"),
		strings.Contains(msg, "api error 403"):
		return KindConfig
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "empty response"):
		return KindEmpty
	default:
		return KindUnknown
	}
}
