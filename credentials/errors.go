package credentials

import "errors"

var (
	// ErrEmptyToken indicates a source produced an empty token.
	ErrEmptyToken = errors.New("credentials: empty token")

	// ErrNoFetcher indicates ServiceTokenConfig.Fetch is nil.
	ErrNoFetcher = errors.New("credentials: fetch function is required")

	// ErrTokenExpired indicates the cached token has hard-expired and
	// refresh is failing.
	ErrTokenExpired = errors.New("credentials: token expired and refresh failed")
)
