package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lotlens/aigate/aierr"
)

func TestNewTimeout(t *testing.T) {
	if got := NewTimeout(0).Limit(); got != 30*time.Second {
		t.Errorf("Limit() = %v, want default 30s", got)
	}
	if got := NewTimeout(time.Second).Limit(); got != time.Second {
		t.Errorf("Limit() = %v, want 1s", got)
	}
}

func TestTimeout_FastOperationPasses(t *testing.T) {
	to := NewTimeout(100 * time.Millisecond)

	err := to.Execute(context.Background(), func(context.Context) error { return nil })
	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}
}

func TestTimeout_SlowOperationClassifiesAsTimeout(t *testing.T) {
	to := NewTimeout(30 * time.Millisecond)

	err := to.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	if aierr.KindOf(err) != aierr.KindTimeout {
		t.Errorf("KindOf(err) = %v, want KindTimeout", aierr.KindOf(err))
	}
}

func TestTimeout_OperationErrorsPassThrough(t *testing.T) {
	to := NewTimeout(time.Second)

	opErr := errors.New("op failed")
	if err := to.Execute(context.Background(), func(context.Context) error { return opErr }); err != opErr {
		t.Errorf("Execute() error = %v, want original op error", err)
	}
}

func TestTimeout_CallerDeadlineNotReclassified(t *testing.T) {
	to := NewTimeout(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := to.Execute(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	// The caller's own deadline expired, not the attempt limit; the error
	// passes through untagged.
	var tagged *aierr.Error
	if errors.As(err, &tagged) {
		t.Errorf("Execute() error = %v, want plain context error", err)
	}
}
