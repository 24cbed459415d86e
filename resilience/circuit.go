package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/lotlens/aigate/aierr"
)

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	// BreakerClosed means calls flow normally.
	BreakerClosed BreakerState = iota
	// BreakerOpen means calls are refused without reaching the backend.
	BreakerOpen
	// BreakerHalfOpen means a probe call is testing recovery.
	BreakerHalfOpen
)

// String returns the string representation of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the consecutive-failure threshold that opens the circuit.
	// Default: 5
	MaxFailures int

	// ResetTimeout is how long the circuit stays open before probing.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(from, to BreakerState)

	// TripsBreaker decides whether a failure counts toward opening the
	// circuit. The default counts transient failures only: auth and
	// validation errors indicate a caller defect, not backend sickness, and
	// never trip the breaker.
	TripsBreaker func(err error) bool

	// Clock supplies time. Tests inject a mock; nil means the real clock.
	Clock quartz.Clock
}

// CircuitBreaker fails calls fast while the AI backend looks unhealthy.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	clock  quartz.Clock

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	probing     bool
}

// NewCircuitBreaker creates a circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.TripsBreaker == nil {
		config.TripsBreaker = defaultTripsBreaker
	}

	clock := config.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}

	return &CircuitBreaker{
		config: config,
		clock:  clock,
		state:  BreakerClosed,
	}
}

func defaultTripsBreaker(err error) bool {
	if err == nil {
		return false
	}
	switch aierr.KindOf(err) {
	case aierr.KindAuth, aierr.KindValidation:
		return false
	default:
		return true
	}
}

// Execute runs op through the circuit breaker. While open it returns
// ErrCircuitOpen without invoking op.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	err := op(ctx)
	cb.afterCall(err)
	return err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

// Reset closes the circuit and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = BreakerClosed
	cb.failures = 0
	cb.probing = false
	cb.mu.Unlock()

	if from != BreakerClosed && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, BreakerClosed)
	}
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.stateLocked() {
	case BreakerOpen:
		return ErrCircuitOpen
	case BreakerHalfOpen:
		// One probe at a time.
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	from := cb.state
	counts := cb.config.TripsBreaker(err)

	switch cb.state {
	case BreakerClosed:
		if err == nil {
			cb.failures = 0
		} else if counts {
			cb.failures++
			cb.lastFailure = cb.clock.Now()
			if cb.failures >= cb.config.MaxFailures {
				cb.state = BreakerOpen
			}
		}

	case BreakerHalfOpen:
		cb.probing = false
		if err == nil {
			cb.state = BreakerClosed
			cb.failures = 0
		} else if counts {
			cb.lastFailure = cb.clock.Now()
			cb.state = BreakerOpen
		}
	}

	to := cb.state
	cb.mu.Unlock()

	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

// stateLocked resolves the open-to-half-open transition lazily.
func (cb *CircuitBreaker) stateLocked() BreakerState {
	if cb.state == BreakerOpen && cb.clock.Since(cb.lastFailure) >= cb.config.ResetTimeout {
		cb.state = BreakerHalfOpen
		cb.probing = false
		if cb.config.OnStateChange != nil {
			// Called with the lock held; state-change observers must be fast.
			cb.config.OnStateChange(BreakerOpen, BreakerHalfOpen)
		}
	}
	return cb.state
}
