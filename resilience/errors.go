package resilience

import "errors"

// Sentinel errors for gated execution.
var (
	// ErrAdmissionReset is delivered to queued callers when the admission
	// controller is reset underneath them.
	ErrAdmissionReset = errors.New("resilience: admission controller reset")

	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrMaxInFlight is returned when the in-flight cap is reached.
	ErrMaxInFlight = errors.New("resilience: too many calls in flight")
)
