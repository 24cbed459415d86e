package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// BulkheadConfig configures the in-flight cap.
type BulkheadConfig struct {
	// MaxInFlight is the maximum number of concurrent gated calls.
	// Default: 10
	MaxInFlight int64

	// MaxWait is how long a call may wait for a slot.
	// Default: 0 (fail immediately)
	MaxWait time.Duration
}

// Bulkhead caps concurrent calls so a slow backend cannot pile up
// goroutines behind the gate.
type Bulkhead struct {
	config BulkheadConfig
	sem    *semaphore.Weighted

	mu        sync.Mutex
	active    int64
	maxActive int64
	rejected  int64
}

// NewBulkhead creates a bulkhead.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = 10
	}

	return &Bulkhead{
		config: config,
		sem:    semaphore.NewWeighted(config.MaxInFlight),
	}
}

// Acquire claims a slot. It returns ErrMaxInFlight when none frees up
// within MaxWait, and the context error on cancellation.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	if b.sem.TryAcquire(1) {
		b.noteAcquired()
		return nil
	}

	if b.config.MaxWait <= 0 {
		b.noteRejected()
		return ErrMaxInFlight
	}

	waitCtx, cancel := context.WithTimeout(ctx, b.config.MaxWait)
	defer cancel()

	if err := b.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.noteRejected()
		return ErrMaxInFlight
	}

	b.noteAcquired()
	return nil
}

// Release returns a slot.
func (b *Bulkhead) Release() {
	b.mu.Lock()
	b.active--
	b.mu.Unlock()
	b.sem.Release(1)
}

// Execute runs op inside the bulkhead.
func (b *Bulkhead) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()

	return op(ctx)
}

// BulkheadMetrics contains bulkhead statistics.
type BulkheadMetrics struct {
	Active      int64
	MaxActive   int64
	MaxInFlight int64
	Rejected    int64
}

// Metrics returns current bulkhead statistics.
func (b *Bulkhead) Metrics() BulkheadMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BulkheadMetrics{
		Active:      b.active,
		MaxActive:   b.maxActive,
		MaxInFlight: b.config.MaxInFlight,
		Rejected:    b.rejected,
	}
}

func (b *Bulkhead) noteAcquired() {
	b.mu.Lock()
	b.active++
	if b.active > b.maxActive {
		b.maxActive = b.active
	}
	b.mu.Unlock()
}

func (b *Bulkhead) noteRejected() {
	b.mu.Lock()
	b.rejected++
	b.mu.Unlock()
}
