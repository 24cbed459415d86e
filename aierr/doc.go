// Package aierr defines the error taxonomy for calls to AI backends.
//
// Every failure surfaced by an AI call is tagged with a Kind. The kinds are
// a closed set: the resilience layer uses them to decide whether a failure
// is retryable and how long to wait, so classification must never depend on
// matching error strings or runtime type names.
//
//	err := aierr.New(aierr.KindNetwork, "connection reset")
//	if aierr.KindOf(err) == aierr.KindNetwork {
//	    // retryable
//	}
//
// Rate-limit errors may carry a server-declared minimum wait:
//
//	err := aierr.RateLimited("quota exhausted", 5*time.Second)
//	wait, ok := aierr.RetryAfterHint(err) // 5s, true
//
// Errors of unknown provenance classify as KindUnknown, which callers treat
// as non-retryable unless explicitly configured otherwise.
package aierr
