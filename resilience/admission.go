package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
)

// Drain-loop polling bounds. Polling trades exact wake-ups for robustness
// against clock adjustments and config changes made mid-wait.
const (
	minDrainPoll = time.Second
	maxDrainPoll = 5 * time.Second
)

// AdmissionConfig configures the admission controller.
type AdmissionConfig struct {
	// RequestsPerMinute is the quota for one trailing window. Required, >= 1.
	RequestsPerMinute int

	// RetryAttempts is the legacy retry knob carried alongside the quota in
	// rate-limit configuration. Zero means "use the retry preset"; a gate
	// built from this config maps a non-zero value onto the retry policy.
	RetryAttempts int

	// RetryDelay is the legacy base-delay knob paired with RetryAttempts.
	RetryDelay time.Duration

	// Window is the trailing accounting interval.
	// Default: 1 minute
	Window time.Duration

	// OnQueueWait observes how long a queued caller waited for its slot.
	// Callers admitted immediately do not report. It must not block.
	OnQueueWait func(wait time.Duration)

	// Clock supplies time. Tests inject a mock; nil means the real clock.
	Clock quartz.Clock
}

// AdmissionConfigUpdate is a partial config change. Nil fields keep their
// current values.
type AdmissionConfigUpdate struct {
	RequestsPerMinute *int
	RetryAttempts     *int
	RetryDelay        *time.Duration

	// OnQueueWait replaces the current observer when non-nil. A pointer to
	// a nil func clears it.
	OnQueueWait *func(wait time.Duration)
}

// AdmissionStatus is a point-in-time view of the window.
type AdmissionStatus struct {
	// RequestsInLastMinute counts admissions recorded inside the window.
	RequestsInLastMinute int

	// RequestsRemaining is the unused part of the quota, never negative.
	RequestsRemaining int

	// ResetTime is when the oldest recorded admission leaves the window,
	// or now if the window is empty.
	ResetTime time.Time
}

// requestRecord is one recorded admission. Records are never mutated after
// creation and are pruned once older than the window.
type requestRecord struct {
	at time.Time
	n  int
}

// waiter is one suspended caller. The controller owns the entry from enqueue
// until it sends the release verdict; release is buffered so delivery never
// blocks the drain loop.
type waiter struct {
	release chan error
}

// AdmissionController enforces an N-requests-per-window sliding quota.
// Excess demand queues rather than failing; queued callers are released
// strictly in arrival order.
type AdmissionController struct {
	clock quartz.Clock

	mu       sync.Mutex
	cfg      AdmissionConfig
	records  []requestRecord
	waiters  []*waiter
	draining bool
}

// NewAdmissionController creates an admission controller.
// The configured quota must be at least one request per window.
func NewAdmissionController(cfg AdmissionConfig) (*AdmissionController, error) {
	if cfg.RequestsPerMinute < 1 {
		return nil, fmt.Errorf("resilience: requests per minute must be >= 1, got %d", cfg.RequestsPerMinute)
	}
	if cfg.RetryAttempts < 0 {
		return nil, fmt.Errorf("resilience: retry attempts must be >= 0, got %d", cfg.RetryAttempts)
	}
	if cfg.RetryDelay < 0 {
		return nil, fmt.Errorf("resilience: retry delay must be >= 0, got %v", cfg.RetryDelay)
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	clock := cfg.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}

	return &AdmissionController{
		clock: clock,
		cfg:   cfg,
	}, nil
}

// CanAdmit reports whether a call may proceed right now. Its only side
// effect is pruning expired records.
func (c *AdmissionController) CanAdmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canAdmitLocked()
}

// Await blocks until quota is available. Callers already inside the quota
// and not behind queued waiters return immediately; everyone else joins a
// FIFO queue serviced by a single drain loop.
//
// A cancelled context removes the caller from the queue, unless release
// already happened, in which case the granted slot is honored.
func (c *AdmissionController) Await(ctx context.Context) error {
	c.mu.Lock()
	if len(c.waiters) == 0 && c.canAdmitLocked() {
		c.mu.Unlock()
		return nil
	}

	w := &waiter{release: make(chan error, 1)}
	c.waiters = append(c.waiters, w)
	c.startDrainLocked()
	enqueued := c.clock.Now()
	c.mu.Unlock()

	select {
	case err := <-w.release:
		if err == nil {
			c.reportQueueWait(c.clock.Now().Sub(enqueued))
		}
		return err
	case <-ctx.Done():
		if c.abandon(w) {
			return ctx.Err()
		}
		// The drain released this waiter before cancellation landed.
		err := <-w.release
		if err == nil {
			c.reportQueueWait(c.clock.Now().Sub(enqueued))
		}
		return err
	}
}

// reportQueueWait invokes the configured queue wait observer, if any,
// outside the controller lock.
func (c *AdmissionController) reportQueueWait(wait time.Duration) {
	c.mu.Lock()
	hook := c.cfg.OnQueueWait
	c.mu.Unlock()

	if hook != nil {
		hook(wait)
	}
}

// Run awaits admission, invokes op, and records the admission only when op
// succeeds. Failed calls never count against the quota, so the window
// reflects successful throughput.
func (c *AdmissionController) Run(ctx context.Context, op func(context.Context) error) error {
	if err := c.Await(ctx); err != nil {
		return err
	}

	if err := op(ctx); err != nil {
		return err
	}

	c.recordAdmission()
	return nil
}

// Status computes a snapshot of the window.
func (c *AdmissionController) Status() AdmissionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneLocked()

	used := c.usedLocked()
	remaining := c.cfg.RequestsPerMinute - used
	if remaining < 0 {
		remaining = 0
	}

	reset := c.clock.Now()
	if len(c.records) > 0 {
		reset = c.records[0].at.Add(c.cfg.Window)
	}

	return AdmissionStatus{
		RequestsInLastMinute: used,
		RequestsRemaining:    remaining,
		ResetTime:            reset,
	}
}

// Reset clears the window and fails every queued waiter with
// ErrAdmissionReset. It exists for test isolation and operator intervention,
// not for normal operation.
func (c *AdmissionController) Reset() {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.records = nil
	c.mu.Unlock()

	for _, w := range waiters {
		w.release <- ErrAdmissionReset
	}
}

// Config returns a copy of the current configuration.
func (c *AdmissionController) Config() AdmissionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// UpdateConfig merges the update into the current configuration. Nil fields
// are untouched; the change is effective immediately, including for callers
// already queued.
func (c *AdmissionController) UpdateConfig(u AdmissionConfigUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if u.RequestsPerMinute != nil {
		if *u.RequestsPerMinute < 1 {
			return fmt.Errorf("resilience: requests per minute must be >= 1, got %d", *u.RequestsPerMinute)
		}
		c.cfg.RequestsPerMinute = *u.RequestsPerMinute
	}
	if u.RetryAttempts != nil {
		if *u.RetryAttempts < 0 {
			return fmt.Errorf("resilience: retry attempts must be >= 0, got %d", *u.RetryAttempts)
		}
		c.cfg.RetryAttempts = *u.RetryAttempts
	}
	if u.RetryDelay != nil {
		if *u.RetryDelay < 0 {
			return fmt.Errorf("resilience: retry delay must be >= 0, got %v", *u.RetryDelay)
		}
		c.cfg.RetryDelay = *u.RetryDelay
	}
	if u.OnQueueWait != nil {
		c.cfg.OnQueueWait = *u.OnQueueWait
	}

	return nil
}

// recordAdmission appends a record timestamped now.
func (c *AdmissionController) recordAdmission() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, requestRecord{at: c.clock.Now(), n: 1})
}

func (c *AdmissionController) canAdmitLocked() bool {
	c.pruneLocked()
	return c.usedLocked() < c.cfg.RequestsPerMinute
}

func (c *AdmissionController) usedLocked() int {
	used := 0
	for _, r := range c.records {
		used += r.n
	}
	return used
}

// pruneLocked drops records older than the trailing window. Records are
// appended in time order, so the survivors are a suffix.
func (c *AdmissionController) pruneLocked() {
	cutoff := c.clock.Now().Add(-c.cfg.Window)
	i := 0
	for i < len(c.records) && !c.records[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		c.records = append([]requestRecord(nil), c.records[i:]...)
	}
}

// startDrainLocked launches the queue drain unless one is already running.
// The single-flight flag keeps concurrent drains from violating FIFO order.
func (c *AdmissionController) startDrainLocked() {
	if c.draining || len(c.waiters) == 0 {
		return
	}
	c.draining = true
	go c.drain()
}

// drain releases queued waiters oldest-first whenever quota is available,
// and otherwise sleeps a bounded interval before rechecking. Waiters are
// never released before availability; arrival order is preserved.
func (c *AdmissionController) drain() {
	for {
		c.mu.Lock()
		if len(c.waiters) == 0 {
			c.draining = false
			c.mu.Unlock()
			return
		}

		if c.canAdmitLocked() {
			w := c.waiters[0]
			c.waiters = c.waiters[1:]
			c.mu.Unlock()
			w.release <- nil
			continue
		}

		wait := c.nextPollLocked()
		c.mu.Unlock()

		t := c.clock.NewTimer(wait)
		<-t.C
	}
}

// nextPollLocked bounds the drain sleep to [minDrainPoll, maxDrainPoll],
// aiming at the moment the oldest record leaves the window.
func (c *AdmissionController) nextPollLocked() time.Duration {
	wait := maxDrainPoll
	if len(c.records) > 0 {
		reset := c.records[0].at.Add(c.cfg.Window)
		if until := reset.Sub(c.clock.Now()); until < wait {
			wait = until
		}
	}
	if wait < minDrainPoll {
		wait = minDrainPoll
	}
	return wait
}

// abandon removes w from the queue. It returns false when w was already
// released by the drain.
func (c *AdmissionController) abandon(w *waiter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, q := range c.waiters {
		if q == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return true
		}
	}
	return false
}
