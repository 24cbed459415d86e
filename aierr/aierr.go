package aierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind identifies a failure class. The zero value is KindUnknown.
type Kind int

const (
	// KindUnknown is the fallback for unclassified failures.
	KindUnknown Kind = iota
	// KindAuth marks authentication or authorization failures.
	KindAuth
	// KindValidation marks request-validation failures.
	KindValidation
	// KindNetwork marks transport failures and backend unavailability.
	KindNetwork
	// KindTimeout marks deadline and timeout failures.
	KindTimeout
	// KindRateLimit marks quota and throttling failures.
	KindRateLimit
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindRateLimit:
		return "rate_limit"
	default:
		return "unknown"
	}
}

// Error is a classified AI-call failure.
type Error struct {
	// Kind is the failure class.
	Kind Kind

	// Message describes the failure.
	Message string

	// RetryAfter is the server-declared minimum wait before another attempt.
	// Only meaningful for KindRateLimit; zero means no hint was given.
	RetryAfter time.Duration

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("aierr: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("aierr: %s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// RateLimited creates a rate-limit error carrying the server's minimum wait.
// A zero retryAfter means the server gave no hint.
func RateLimited(msg string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimit, Message: msg, RetryAfter: retryAfter}
}

// KindOf classifies an arbitrary error, walking wrap chains.
//
// Tagged errors report their own kind. Context deadline expiry and net.Error
// timeouts classify as KindTimeout, other net.Errors as KindNetwork.
// Everything else is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}

	return KindUnknown
}

// Is reports whether err classifies as the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// RetryAfterHint returns the server-declared minimum wait carried by err, if
// any. The second return is false when err carries no hint.
func RetryAfterHint(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return 0, false
}
