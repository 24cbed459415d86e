package credentials

import (
	"context"
	"os"
	"strings"
)

// TokenSource supplies a bearer token for an outbound call.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Token must honor cancellation/deadlines.
// - Errors: a non-nil error means no usable token; callers should not retry
//   blindly, the source already handles its own refresh policy.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Static is a TokenSource wrapping a fixed API key.
type Static struct {
	token string
}

// NewStatic creates a static token source.
func NewStatic(token string) (*Static, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrEmptyToken
	}
	return &Static{token: token}, nil
}

// Token returns the wrapped key.
func (s *Static) Token(context.Context) (string, error) {
	return s.token, nil
}

// FromEnv creates a static source from an environment variable.
func FromEnv(name string) (*Static, error) {
	return NewStatic(os.Getenv(name))
}

var _ TokenSource = (*Static)(nil)
