package aierr

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// FromResponse classifies a non-2xx provider response.
//
// Status mapping: 401/403 auth, 400/404/422 validation, 408 timeout, 429
// rate limit (with the Retry-After header as the wait hint), 5xx network.
// Anything else classifies as unknown. The body should already be read; only
// a trimmed excerpt is kept in the message, never credentials.
func FromResponse(provider string, status int, header http.Header, body []byte) *Error {
	msg := fmt.Sprintf("%s: status %d", provider, status)
	if excerpt := bodyExcerpt(body); excerpt != "" {
		msg += ": " + excerpt
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return New(KindAuth, msg)
	case status == http.StatusBadRequest ||
		status == http.StatusNotFound ||
		status == http.StatusUnprocessableEntity:
		return New(KindValidation, msg)
	case status == http.StatusRequestTimeout:
		return New(KindTimeout, msg)
	case status == http.StatusTooManyRequests:
		return RateLimited(msg, ParseRetryAfter(header.Get("Retry-After")))
	case status >= 500 && status <= 599:
		return New(KindNetwork, msg)
	default:
		return New(KindUnknown, msg)
	}
}

// ParseRetryAfter parses a Retry-After header value, either delta-seconds or
// an HTTP-date. Unparseable or past values return zero.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}

	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}

	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}

	return 0
}

const maxBodyExcerpt = 256

func bodyExcerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxBodyExcerpt {
		s = s[:maxBodyExcerpt]
	}
	return s
}
