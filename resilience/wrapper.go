package resilience

import (
	"context"
	"errors"
	"time"
)

// Gate wraps an arbitrary outbound operation with admission control and
// classified retries. The wrapped call keeps its input/output shape; the
// gate holds no state of its own beyond references to its components.
//
// Every call executes as retry(admission(op)): each retry attempt re-enters
// admission control, so a burst of retries cannot bypass the quota.
type Gate struct {
	admission *AdmissionController
	retry     *RetryExecutor
	circuit   *CircuitBreaker
	timeout   *Timeout
	bulkhead  *Bulkhead
}

// GateOption configures optional patterns on a Gate.
type GateOption func(*Gate)

// WithCircuitBreaker fails calls fast while the backend looks unhealthy.
// The breaker sits inside retry and outside admission, so an open circuit
// neither consumes a queue slot nor stops retry from observing it.
func WithCircuitBreaker(cb *CircuitBreaker) GateOption {
	return func(g *Gate) {
		g.circuit = cb
	}
}

// WithTimeout bounds each individual attempt.
func WithTimeout(limit time.Duration) GateOption {
	return func(g *Gate) {
		g.timeout = NewTimeout(limit)
	}
}

// WithMaxInFlight caps concurrent calls through the gate, queue wait
// included.
func WithMaxInFlight(n int64) GateOption {
	return func(g *Gate) {
		g.bulkhead = NewBulkhead(BulkheadConfig{MaxInFlight: n})
	}
}

// NewGate composes an already-built admission controller and retry executor.
func NewGate(admission *AdmissionController, retry *RetryExecutor, opts ...GateOption) (*Gate, error) {
	if admission == nil {
		return nil, errors.New("resilience: gate requires an admission controller")
	}
	if retry == nil {
		return nil, errors.New("resilience: gate requires a retry executor")
	}

	g := &Gate{admission: admission, retry: retry}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// NewGateFromConfig builds a gate from one rate-limit configuration. The
// retry policy starts from the AI preset; the config's legacy RetryAttempts
// and RetryDelay knobs, when set, override the preset's attempt budget
// (first try plus RetryAttempts retries) and base delay.
func NewGateFromConfig(cfg AdmissionConfig, opts ...GateOption) (*Gate, error) {
	admission, err := NewAdmissionController(cfg)
	if err != nil {
		return nil, err
	}

	rc := AIRetryConfig()
	rc.Clock = cfg.Clock
	if cfg.RetryAttempts > 0 {
		rc.MaxAttempts = cfg.RetryAttempts + 1
	}
	if cfg.RetryDelay > 0 {
		rc.BaseDelay = cfg.RetryDelay
	}

	retry, err := NewRetryExecutor(rc)
	if err != nil {
		return nil, err
	}

	return NewGate(admission, retry, opts...)
}

// Execute runs op through the gate. Errors pass through unwrapped: whatever
// the innermost layer ultimately returns is what the caller sees.
func (g *Gate) Execute(ctx context.Context, op func(context.Context) error) error {
	attempt := op
	if g.timeout != nil {
		inner := attempt
		attempt = func(ctx context.Context) error {
			return g.timeout.Execute(ctx, inner)
		}
	}

	admitted := func(ctx context.Context) error {
		return g.admission.Run(ctx, attempt)
	}

	guarded := admitted
	if g.circuit != nil {
		guarded = func(ctx context.Context) error {
			return g.circuit.Execute(ctx, admitted)
		}
	}

	retried := func(ctx context.Context) error {
		return g.retry.Execute(ctx, guarded)
	}

	if g.bulkhead != nil {
		return g.bulkhead.Execute(ctx, retried)
	}
	return retried(ctx)
}

// Call runs a value-returning operation through the gate.
func Call[T any](g *Gate, ctx context.Context, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := g.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// ObserveRetries installs fn as the retry executor's attempt observer.
// Each retried attempt invokes it with the failure and the scheduled
// backoff. Passing nil clears the observer.
func (g *Gate) ObserveRetries(fn func(RetryEvent)) {
	_ = g.retry.UpdateConfig(RetryConfigUpdate{OnRetry: &fn})
}

// ObserveQueueWait installs fn as the admission controller's queue wait
// observer. Passing nil clears the observer.
func (g *Gate) ObserveQueueWait(fn func(wait time.Duration)) {
	_ = g.admission.UpdateConfig(AdmissionConfigUpdate{OnQueueWait: &fn})
}

// Status exposes the admission controller's window snapshot.
func (g *Gate) Status() AdmissionStatus {
	return g.admission.Status()
}

// RetryConfig exposes the retry executor's current configuration.
func (g *Gate) RetryConfig() RetryConfig {
	return g.retry.Config()
}
