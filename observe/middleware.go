package observe

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/lotlens/aigate/aierr"
	"github.com/lotlens/aigate/resilience"
)

// CallFunc is the unit the middleware wraps: one gated call against the AI
// backend.
type CallFunc func(ctx context.Context) error

// Middleware decorates AI calls with spans, metrics, and logs, and builds
// the observers that plug into the gate's retry and queue-wait slots. Any
// of the three components may be absent.
type Middleware struct {
	tracer  *Tracer
	metrics *Metrics
	logger  Logger
}

// NewMiddleware composes the given components. A nil tracer or metrics
// disables that signal; a nil logger is replaced with a silent one.
func NewMiddleware(tracer *Tracer, metrics *Metrics, logger Logger) *Middleware {
	if logger == nil {
		logger = NewLoggerWithWriter("error", io.Discard)
	}
	return &Middleware{tracer: tracer, metrics: metrics, logger: logger}
}

// Wrap decorates fn. Errors pass through unchanged.
func (m *Middleware) Wrap(meta CallMeta, fn CallFunc) CallFunc {
	log := m.logger.WithCall(meta)
	return func(ctx context.Context) error {
		var span trace.Span
		if m.tracer != nil {
			ctx, span = m.tracer.Start(ctx, meta)
		}

		start := time.Now()
		err := fn(ctx)
		duration := time.Since(start)

		if m.tracer != nil {
			m.tracer.End(span, err)
		}
		m.metrics.RecordCall(ctx, meta, duration, err)

		fields := []Field{
			{Key: "duration_ms", Value: float64(duration.Milliseconds())},
		}
		if err != nil {
			fields = append(fields,
				Field{Key: "error", Value: err.Error()},
				Field{Key: "error_kind", Value: aierr.KindOf(err).String()},
			)
			log.Error(ctx, "ai call failed", fields...)
		} else {
			log.Info(ctx, "ai call completed", fields...)
		}

		return err
	}
}

// RetryRecorder returns an observer for the gate's retry slot
// (resilience.RetryConfig.OnRetry or Gate.ObserveRetries). Each retried
// attempt bumps the retry counter, labeled with the kind of the error that
// caused it, and logs the scheduled attempt.
func (m *Middleware) RetryRecorder(meta CallMeta) func(resilience.RetryEvent) {
	log := m.logger.WithCall(meta)
	return func(e resilience.RetryEvent) {
		ctx := context.Background()
		kind := aierr.KindOf(e.Err)
		m.metrics.RecordRetry(ctx, meta, kind)
		log.Warn(ctx, "ai call retrying",
			Field{Key: "attempt", Value: e.Attempt},
			Field{Key: "error_kind", Value: kind.String()},
			Field{Key: "delay_ms", Value: float64(e.Delay.Milliseconds())},
		)
	}
}

// QueueWaitRecorder returns an observer for the admission controller's
// queue-wait slot (resilience.AdmissionConfig.OnQueueWait or
// Gate.ObserveQueueWait).
func (m *Middleware) QueueWaitRecorder(meta CallMeta) func(wait time.Duration) {
	log := m.logger.WithCall(meta)
	return func(wait time.Duration) {
		ctx := context.Background()
		m.metrics.RecordQueueWait(ctx, meta, wait)
		log.Debug(ctx, "ai call waited for admission",
			Field{Key: "wait_ms", Value: float64(wait.Milliseconds())},
		)
	}
}
