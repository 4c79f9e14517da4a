package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies an RPC failure for retry and health-tracking decisions
type ErrorKind int

const (
	// KindProvider is a generic provider-side failure (5xx, unexpected error)
	KindProvider ErrorKind = iota
	// KindTimeout means the attempt exceeded its timeout budget
	KindTimeout
	// KindRateLimited means the provider signalled throttling (HTTP 429 or equivalent)
	KindRateLimited
	// KindRangeTooLarge means the requested block span exceeded the provider's limit
	KindRangeTooLarge
	// KindResponseTooLarge means the result set exceeded the provider's log limit
	KindResponseTooLarge
	// KindBadRequest is a malformed request or schema error; retrying cannot help
	KindBadRequest
	// KindNoEligibleEndpoint means no enabled endpoint met the selection requirements
	KindNoEligibleEndpoint
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindRangeTooLarge:
		return "range_too_large"
	case KindResponseTooLarge:
		return "response_too_large"
	case KindBadRequest:
		return "bad_request"
	case KindNoEligibleEndpoint:
		return "no_eligible_endpoint"
	default:
		return "provider"
	}
}

// Error is a classified RPC failure tied to the endpoint that produced it
type Error struct {
	Kind     ErrorKind
	Endpoint string
	Err      error
}

func (e *Error) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("rpc %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("rpc %s (%s): %v", e.Kind, e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later attempt (possibly against a different
// endpoint) could succeed. Bad requests and schema errors indicate a bug,
// not a transient condition.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindBadRequest:
		return false
	default:
		return true
	}
}

// NewError creates a classified error
func NewError(kind ErrorKind, endpoint string, err error) *Error {
	return &Error{Kind: kind, Endpoint: endpoint, Err: err}
}

// ErrNoEligibleEndpoint is returned by Pool.Select when no enabled endpoint
// meets the request's requirements
var ErrNoEligibleEndpoint = &Error{Kind: KindNoEligibleEndpoint, Err: errors.New("no eligible endpoint")}

// IsKind reports whether err carries the given classification
func IsKind(err error, kind ErrorKind) bool {
	var rpcErr *Error
	return errors.As(err, &rpcErr) && rpcErr.Kind == kind
}

// Retryable reports whether an arbitrary error is worth retrying. Classified
// errors answer for themselves; context cancellation is terminal; everything
// else is assumed to be a transient network condition.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Retryable()
	}
	return true
}

// Providers rarely return structured error codes over HTTP, so
// classification falls back to message patterns observed in the wild.
var (
	rateLimitPatterns = []string{
		"429",
		"rate limit",
		"too many requests",
		"quota",
		"daily request count",
	}
	rangePatterns = []string{
		"block range",
		"exceed",
		"too large",
		"range is too wide",
		"max is",
	}
	responsePatterns = []string{
		"response size",
		"too many logs",
		"more than 10000 results",
		"query returned more than",
	}
	badRequestPatterns = []string{
		"-32700", // parse error
		"-32600", // invalid request
		"-32601", // method not found
		"-32602", // invalid params
		"invalid argument",
		"invalid params",
		"method not found",
		"400 bad request",
		"401",
		"403",
		"404",
	}
)

// Classify wraps a raw provider error into a classified Error
func Classify(err error, endpoint string) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, endpoint, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(KindTimeout, endpoint, err)
	}

	msg := strings.ToLower(err.Error())

	if containsAny(msg, rateLimitPatterns) {
		return NewError(KindRateLimited, endpoint, err)
	}
	if containsAny(msg, responsePatterns) {
		return NewError(KindResponseTooLarge, endpoint, err)
	}
	if containsAny(msg, rangePatterns) {
		return NewError(KindRangeTooLarge, endpoint, err)
	}
	if containsAny(msg, badRequestPatterns) {
		return NewError(KindBadRequest, endpoint, err)
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") {
		return NewError(KindTimeout, endpoint, err)
	}

	return NewError(KindProvider, endpoint, err)
}

func containsAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
