package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/lotlens/aigate/aierr"
)

// RetryEvent describes one failed attempt about to be retried.
type RetryEvent struct {
	// Attempt is the 1-based attempt that just failed.
	Attempt int

	// Err is the classified failure.
	Err error

	// Delay is the wait before the next attempt, floor already applied.
	Delay time.Duration
}

// RetryConfig configures the retry executor.
type RetryConfig struct {
	// MaxAttempts bounds the first try plus all retries.
	// Default: 3
	MaxAttempts int

	// BaseDelay is the backoff before the first retry.
	// Default: 1 second
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff. The server-declared retry-after
	// floor is authoritative and may exceed it.
	// Default: 30 seconds
	MaxDelay time.Duration

	// Multiplier grows the backoff per attempt.
	// Default: 2.0
	Multiplier float64

	// DisableJitter turns off the symmetric ±20% delay perturbation.
	DisableJitter bool

	// RetryableKinds is the allow-list of error kinds worth retrying.
	// Kinds not listed, including aierr.KindUnknown, fail fast.
	RetryableKinds []aierr.Kind

	// OnRetry observes failed attempts before the backoff wait. It must not
	// block; it cannot influence control flow.
	OnRetry func(RetryEvent)

	// Clock supplies time. Tests inject a mock; nil means the real clock.
	Clock quartz.Clock
}

// RetryConfigUpdate is a partial config change. Nil fields keep their
// current values; a nil RetryableKinds slice keeps the current allow-list.
type RetryConfigUpdate struct {
	MaxAttempts    *int
	BaseDelay      *time.Duration
	MaxDelay       *time.Duration
	Multiplier     *float64
	DisableJitter  *bool
	RetryableKinds []aierr.Kind

	// OnRetry replaces the current observer when non-nil. A pointer to a
	// nil func clears it.
	OnRetry *func(RetryEvent)
}

// RetryExecutor runs fallible operations with bounded, classified retries.
type RetryExecutor struct {
	clock quartz.Clock

	mu        sync.RWMutex
	cfg       RetryConfig
	retryable map[aierr.Kind]bool
}

// NewRetryExecutor creates a retry executor.
func NewRetryExecutor(cfg RetryConfig) (*RetryExecutor, error) {
	if cfg.MaxAttempts < 0 {
		return nil, fmt.Errorf("resilience: max attempts must be >= 1, got %d", cfg.MaxAttempts)
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay < 0 {
		return nil, fmt.Errorf("resilience: base delay must be >= 0, got %v", cfg.BaseDelay)
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		return nil, fmt.Errorf("resilience: max delay %v must be >= base delay %v", cfg.MaxDelay, cfg.BaseDelay)
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.Multiplier < 1 {
		return nil, fmt.Errorf("resilience: backoff multiplier must be >= 1, got %f", cfg.Multiplier)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}

	return &RetryExecutor{
		clock:     clock,
		cfg:       cfg,
		retryable: kindSet(cfg.RetryableKinds),
	}, nil
}

// Execute runs op with retry. On success it returns nil. On failure the
// error is classified through the aierr taxonomy: kinds outside the
// allow-list fail fast, and once attempts are exhausted the original error
// is returned unmodified. Each retry first waits out the backoff, honoring a
// server-declared retry-after hint as a floor.
func (r *RetryExecutor) Execute(ctx context.Context, op func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		r.mu.RLock()
		maxAttempts := r.cfg.MaxAttempts
		retryable := r.retryable[aierr.KindOf(err)]
		onRetry := r.cfg.OnRetry
		r.mu.RUnlock()

		if !retryable || attempt >= maxAttempts {
			return err
		}

		delay := r.nextDelay(attempt, err)

		if onRetry != nil {
			onRetry(RetryEvent{Attempt: attempt, Err: err, Delay: delay})
		}

		t := r.clock.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

// nextDelay computes the wait before the attempt after a failed one.
// Exponential growth capped at MaxDelay, jittered ±20%, then floored by the
// server-declared retry-after hint when the error carries one.
func (r *RetryExecutor) nextDelay(attempt int, err error) time.Duration {
	r.mu.RLock()
	cfg := r.cfg
	r.mu.RUnlock()

	backoff := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	delay := time.Duration(backoff)
	if delay > cfg.MaxDelay || delay < 0 {
		delay = cfg.MaxDelay
	}

	if !cfg.DisableJitter && delay > 0 {
		// Symmetric jitter desynchronizes concurrent retriers.
		// #nosec G404 -- timing variance, not cryptographic.
		delay = time.Duration(float64(delay) * (0.8 + 0.4*rand.Float64()))
	}

	if hint, ok := aierr.RetryAfterHint(err); ok && delay < hint {
		delay = hint
	}

	return delay
}

// Config returns a copy of the current configuration.
func (r *RetryExecutor) Config() RetryConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// UpdateConfig merges the update into the current configuration. Nil fields
// are untouched.
func (r *RetryExecutor) UpdateConfig(u RetryConfigUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u.MaxAttempts != nil {
		if *u.MaxAttempts < 1 {
			return fmt.Errorf("resilience: max attempts must be >= 1, got %d", *u.MaxAttempts)
		}
		r.cfg.MaxAttempts = *u.MaxAttempts
	}
	if u.BaseDelay != nil {
		if *u.BaseDelay < 0 {
			return fmt.Errorf("resilience: base delay must be >= 0, got %v", *u.BaseDelay)
		}
		r.cfg.BaseDelay = *u.BaseDelay
	}
	if u.MaxDelay != nil {
		r.cfg.MaxDelay = *u.MaxDelay
	}
	if r.cfg.MaxDelay < r.cfg.BaseDelay {
		return fmt.Errorf("resilience: max delay %v must be >= base delay %v", r.cfg.MaxDelay, r.cfg.BaseDelay)
	}
	if u.Multiplier != nil {
		if *u.Multiplier < 1 {
			return fmt.Errorf("resilience: backoff multiplier must be >= 1, got %f", *u.Multiplier)
		}
		r.cfg.Multiplier = *u.Multiplier
	}
	if u.DisableJitter != nil {
		r.cfg.DisableJitter = *u.DisableJitter
	}
	if u.RetryableKinds != nil {
		r.cfg.RetryableKinds = u.RetryableKinds
		r.retryable = kindSet(u.RetryableKinds)
	}
	if u.OnRetry != nil {
		r.cfg.OnRetry = *u.OnRetry
	}

	return nil
}

// Do runs a value-returning operation through the executor.
func Do[T any](r *RetryExecutor, ctx context.Context, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := r.Execute(ctx, func(ctx context.Context) error {
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

// AIRetryConfig is the preset for AI-backend calls: transient transport and
// quota failures retry, everything else fails fast.
func AIRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		RetryableKinds: []aierr.Kind{aierr.KindNetwork, aierr.KindTimeout, aierr.KindRateLimit},
	}
}

// NetworkRetryConfig is the preset for flaky transports.
func NetworkRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		RetryableKinds: []aierr.Kind{aierr.KindNetwork, aierr.KindTimeout},
	}
}

// RateLimitRetryConfig is the preset for quota-bound calls: few attempts,
// long base delay, rate-limit failures only.
func RateLimitRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    2,
		BaseDelay:      5 * time.Second,
		RetryableKinds: []aierr.Kind{aierr.KindRateLimit},
	}
}

func kindSet(kinds []aierr.Kind) map[aierr.Kind]bool {
	set := make(map[aierr.Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return set
}
