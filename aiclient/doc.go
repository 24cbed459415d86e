// Package aiclient is a chat-completions HTTP client for listing analysis.
//
// Every request is routed through a resilience.Gate, so quota admission and
// classified retries apply uniformly. Backend failures are translated into
// the aierr taxonomy: HTTP statuses through aierr.FromResponse, transport
// errors by wrapping, so the gate's retry allow-list sees stable kinds.
package aiclient
