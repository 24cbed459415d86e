// Package resilience gates outbound AI calls behind admission control and
// classified retries.
//
// The AI backends this module talks to enforce per-minute quotas and fail
// intermittently. This package provides the pieces that absorb both:
//
//   - Admission Controller: a sliding-window quota tracker. Calls over the
//     window's budget are queued, not rejected, and released strictly in
//     arrival order once the window advances.
//
//   - Retry Executor: bounded attempts with exponential backoff and jitter.
//     Retryability is an allow-list over the aierr taxonomy; a server-declared
//     "retry after" wait is honored as a floor that local backoff never
//     shortens.
//
//   - Gate: the composition of the two. Every attempt re-enters admission
//     control, so retries cannot bypass the quota.
//
// # Usage
//
//	ac, err := resilience.NewAdmissionController(resilience.AdmissionConfig{
//	    RequestsPerMinute: 10,
//	})
//	re, err := resilience.NewRetryExecutor(resilience.AIRetryConfig())
//	gate, err := resilience.NewGate(ac, re)
//
//	result, err := resilience.Call(gate, ctx, func(ctx context.Context) (string, error) {
//	    return client.Analyze(ctx, prompt)
//	})
//
// Optional patterns from the same family compose in with gate options:
// a taxonomy-aware circuit breaker, a per-attempt timeout, and an in-flight
// concurrency cap.
//
// A Gate and its two components are owned by one call site. Quota state is
// per-instance; independently constructed controllers know nothing about each
// other.
package resilience
