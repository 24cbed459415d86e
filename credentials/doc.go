// Package credentials supplies bearer tokens for outbound AI calls.
//
// Two sources are provided. Static wraps a fixed API key. ServiceToken
// fetches short-lived JWTs from a token endpoint, caches them until shortly
// before their exp claim, and deduplicates concurrent refreshes. A stale
// token is served when a refresh fails and the cached token has not yet
// hard-expired.
package credentials
