package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"

	"github.com/lotlens/aigate/aierr"
)

func newTestGate(t *testing.T, rpm int, retryCfg RetryConfig, opts ...GateOption) *Gate {
	t.Helper()

	ac, err := NewAdmissionController(AdmissionConfig{RequestsPerMinute: rpm})
	if err != nil {
		t.Fatal(err)
	}
	re, err := NewRetryExecutor(retryCfg)
	if err != nil {
		t.Fatal(err)
	}
	g, err := NewGate(ac, re, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestNewGate(t *testing.T) {
	ac, err := NewAdmissionController(AdmissionConfig{RequestsPerMinute: 1})
	if err != nil {
		t.Fatal(err)
	}
	re, err := NewRetryExecutor(RetryConfig{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewGate(nil, re); err == nil {
		t.Error("NewGate(nil, re) error = nil, want error")
	}
	if _, err := NewGate(ac, nil); err == nil {
		t.Error("NewGate(ac, nil) error = nil, want error")
	}
	if _, err := NewGate(ac, re); err != nil {
		t.Errorf("NewGate() error = %v", err)
	}
}

func TestGate_SuccessRecordsAdmission(t *testing.T) {
	g := newTestGate(t, 5, fastRetryConfig(aierr.KindNetwork))

	err := g.Execute(context.Background(), func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if got := g.Status().RequestsInLastMinute; got != 1 {
		t.Errorf("RequestsInLastMinute = %d, want 1", got)
	}
}

func TestGate_RetriesReenterAdmission(t *testing.T) {
	g := newTestGate(t, 5, fastRetryConfig(aierr.KindNetwork))

	attempts := 0
	err := g.Execute(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return aierr.New(aierr.KindNetwork, "reset")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	// Only the successful attempt occupies quota; the failed attempts were
	// each admitted but never recorded.
	if got := g.Status().RequestsInLastMinute; got != 1 {
		t.Errorf("RequestsInLastMinute = %d, want 1", got)
	}
}

func TestGate_ErrorsPassThroughUnwrapped(t *testing.T) {
	g := newTestGate(t, 5, AIRetryConfig())

	authErr := aierr.New(aierr.KindAuth, "revoked key")
	attempts := 0
	got := g.Execute(context.Background(), func(context.Context) error {
		attempts++
		return authErr
	})

	if got != authErr {
		t.Errorf("Execute() error = %v, want the exact original error", got)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 for auth failure", attempts)
	}
	// Failed calls never consume quota.
	if got := g.Status().RequestsInLastMinute; got != 0 {
		t.Errorf("RequestsInLastMinute = %d, want 0", got)
	}
}

func TestGate_Introspection(t *testing.T) {
	g := newTestGate(t, 7, AIRetryConfig())

	if got := g.Status().RequestsRemaining; got != 7 {
		t.Errorf("RequestsRemaining = %d, want 7", got)
	}
	if got := g.RetryConfig().MaxAttempts; got != 3 {
		t.Errorf("RetryConfig().MaxAttempts = %d, want 3", got)
	}
}

func TestCall(t *testing.T) {
	g := newTestGate(t, 5, fastRetryConfig(aierr.KindNetwork))

	attempts := 0
	got, err := Call(g, context.Background(), func(context.Context) (string, error) {
		attempts++
		if attempts < 2 {
			return "", aierr.New(aierr.KindNetwork, "reset")
		}
		return "good deal", nil
	})

	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != "good deal" {
		t.Errorf("Call() = %q, want %q", got, "good deal")
	}
}

func TestGate_WithTimeout(t *testing.T) {
	cfg := fastRetryConfig(aierr.KindTimeout)
	cfg.MaxAttempts = 2
	g := newTestGate(t, 5, cfg, WithTimeout(30*time.Millisecond))

	attempts := 0
	err := g.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
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
	// Timeout is in the retry allow-list, so the slow attempt is retried.
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestGate_WithCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute})
	cfg := fastRetryConfig() // nothing retryable
	g := newTestGate(t, 10, cfg, WithCircuitBreaker(cb))

	ctx := context.Background()
	netErr := aierr.New(aierr.KindNetwork, "reset")

	for i := 0; i < 2; i++ {
		_ = g.Execute(ctx, func(context.Context) error { return netErr })
	}
	if cb.State() != BreakerOpen {
		t.Fatalf("State() = %v after %d failures, want open", cb.State(), 2)
	}

	attempts := 0
	err := g.Execute(ctx, func(context.Context) error {
		attempts++
		return nil
	})
	if err != ErrCircuitOpen {
		t.Errorf("Execute() error = %v, want ErrCircuitOpen", err)
	}
	if attempts != 0 {
		t.Errorf("attempts = %d while open, want 0", attempts)
	}
}

func TestGate_WithMaxInFlight(t *testing.T) {
	g := newTestGate(t, 10, fastRetryConfig(), WithMaxInFlight(1))

	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- g.Execute(ctx, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	if err := g.Execute(ctx, func(context.Context) error { return nil }); err != ErrMaxInFlight {
		t.Errorf("second Execute() error = %v, want ErrMaxInFlight", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("first Execute() error = %v", err)
	}
}

func TestNewGateFromConfig(t *testing.T) {
	t.Run("legacy knobs map onto retry policy", func(t *testing.T) {
		g, err := NewGateFromConfig(AdmissionConfig{
			RequestsPerMinute: 10,
			RetryAttempts:     4,
			RetryDelay:        250 * time.Millisecond,
		})
		if err != nil {
			t.Fatal(err)
		}

		cfg := g.RetryConfig()
		if cfg.MaxAttempts != 5 {
			t.Errorf("MaxAttempts = %d, want first try + 4 retries = 5", cfg.MaxAttempts)
		}
		if cfg.BaseDelay != 250*time.Millisecond {
			t.Errorf("BaseDelay = %v, want 250ms", cfg.BaseDelay)
		}
	})

	t.Run("zero knobs keep the preset", func(t *testing.T) {
		g, err := NewGateFromConfig(AdmissionConfig{RequestsPerMinute: 10})
		if err != nil {
			t.Fatal(err)
		}
		if got := g.RetryConfig().MaxAttempts; got != 3 {
			t.Errorf("MaxAttempts = %d, want preset 3", got)
		}
	})

	t.Run("invalid quota rejected", func(t *testing.T) {
		if _, err := NewGateFromConfig(AdmissionConfig{}); err == nil {
			t.Error("NewGateFromConfig() error = nil, want error")
		}
	})
}

func TestGate_ObserveRetries(t *testing.T) {
	g := newTestGate(t, 5, fastRetryConfig(aierr.KindNetwork))

	var events []RetryEvent
	g.ObserveRetries(func(e RetryEvent) { events = append(events, e) })

	attempts := 0
	err := g.Execute(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return aierr.New(aierr.KindNetwork, "reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 retried attempts", len(events))
	}
	if events[0].Attempt != 1 || events[1].Attempt != 2 {
		t.Errorf("attempts observed = %d, %d, want 1, 2", events[0].Attempt, events[1].Attempt)
	}
	if aierr.KindOf(events[0].Err) != aierr.KindNetwork {
		t.Errorf("KindOf(events[0].Err) = %v, want KindNetwork", aierr.KindOf(events[0].Err))
	}

	// Clearing the observer stops further events.
	g.ObserveRetries(nil)
	attempts = 0
	if err := g.Execute(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 2 {
			return aierr.New(aierr.KindNetwork, "reset")
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Errorf("events = %d after clearing, want unchanged 2", len(events))
	}
}

func TestGate_ObserveQueueWait(t *testing.T) {
	ac, err := NewAdmissionController(AdmissionConfig{RequestsPerMinute: 5})
	if err != nil {
		t.Fatal(err)
	}
	re, err := NewRetryExecutor(AIRetryConfig())
	if err != nil {
		t.Fatal(err)
	}
	g, err := NewGate(ac, re)
	if err != nil {
		t.Fatal(err)
	}

	g.ObserveQueueWait(func(time.Duration) {})
	if ac.Config().OnQueueWait == nil {
		t.Error("OnQueueWait = nil after ObserveQueueWait, want installed")
	}

	g.ObserveQueueWait(nil)
	if ac.Config().OnQueueWait != nil {
		t.Error("OnQueueWait != nil after clearing, want nil")
	}
}

func TestGate_RateLimitedAttemptStillQueuesBehindQuota(t *testing.T) {
	mock := quartz.NewMock(t)
	ac, err := NewAdmissionController(AdmissionConfig{RequestsPerMinute: 2, Clock: mock})
	if err != nil {
		t.Fatal(err)
	}
	re, err := NewRetryExecutor(fastRetryConfig(aierr.KindNetwork))
	if err != nil {
		t.Fatal(err)
	}
	g, err := NewGate(ac, re)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()

	// Fill the quota with successes, then confirm the gate reports it.
	for i := 0; i < 2; i++ {
		if err := g.Execute(ctx, func(context.Context) error { return nil }); err != nil {
			t.Fatal(err)
		}
	}

	status := g.Status()
	if status.RequestsRemaining != 0 {
		t.Errorf("RequestsRemaining = %d, want 0", status.RequestsRemaining)
	}
	if ac.CanAdmit() {
		t.Error("CanAdmit() = true with quota exhausted, want false")
	}
}
