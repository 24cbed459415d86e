package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/lotlens/aigate/aierr"
)

// Timeout bounds a single attempt with a deadline. The wrapped operation
// must honor its context; the deadline error surfaces as a taxonomy timeout
// so the retry executor can classify it.
type Timeout struct {
	limit time.Duration
}

// NewTimeout creates a timeout wrapper.
func NewTimeout(limit time.Duration) *Timeout {
	if limit <= 0 {
		limit = 30 * time.Second
	}
	return &Timeout{limit: limit}
}

// Limit returns the configured deadline.
func (t *Timeout) Limit() time.Duration {
	return t.limit
}

// Execute runs op under the deadline.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, t.limit)
	defer cancel()

	err := op(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == context.DeadlineExceeded {
		return aierr.Wrap(aierr.KindTimeout, "attempt exceeded deadline", err)
	}
	return err
}
