package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lotlens/aigate/aierr"
)

// Metrics records gate telemetry for outbound AI calls: totals, failures
// by taxonomy kind, retried attempts, call latency, and admission queue
// waits. A nil *Metrics is a valid no-op receiver.
type Metrics struct {
	calls     metric.Int64Counter
	failures  metric.Int64Counter
	retries   metric.Int64Counter
	latency   metric.Float64Histogram
	queueWait metric.Float64Histogram
}

// NewMetrics registers the call instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	calls, err := meter.Int64Counter(
		"ai.call.total",
		metric.WithDescription("Total number of AI calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter(
		"ai.call.errors",
		metric.WithDescription("Total number of failed AI calls"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter(
		"ai.call.retries",
		metric.WithDescription("Total number of retried attempts"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	latency, err := meter.Float64Histogram(
		"ai.call.duration_ms",
		metric.WithDescription("AI call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	queueWait, err := meter.Float64Histogram(
		"ai.call.queue_wait_ms",
		metric.WithDescription("Time spent waiting for an admission slot in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		calls:     calls,
		failures:  failures,
		retries:   retries,
		latency:   latency,
		queueWait: queueWait,
	}, nil
}

// RecordCall counts one completed call and its duration. Failures are
// additionally counted with the taxonomy kind as a label, so dashboards
// can split quota pressure from genuine backend trouble.
func (m *Metrics) RecordCall(ctx context.Context, meta CallMeta, duration time.Duration, err error) {
	if m == nil {
		return
	}

	opt := metric.WithAttributes(meta.attrs()...)
	m.calls.Add(ctx, 1, opt)
	m.latency.Record(ctx, float64(duration.Milliseconds()), opt)

	if err != nil {
		m.failures.Add(ctx, 1, metric.WithAttributes(append(meta.attrs(),
			attribute.String("ai.error_kind", aierr.KindOf(err).String()))...))
	}
}

// RecordRetry counts one retried attempt, labeled with the error kind that
// triggered it.
func (m *Metrics) RecordRetry(ctx context.Context, meta CallMeta, kind aierr.Kind) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(append(meta.attrs(),
		attribute.String("ai.error_kind", kind.String()))...))
}

// RecordQueueWait records how long a call waited for an admission slot.
func (m *Metrics) RecordQueueWait(ctx context.Context, meta CallMeta, wait time.Duration) {
	if m == nil {
		return
	}
	m.queueWait.Record(ctx, float64(wait.Milliseconds()), metric.WithAttributes(meta.attrs()...))
}
