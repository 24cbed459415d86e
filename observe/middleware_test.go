package observe

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/lotlens/aigate/aierr"
	"github.com/lotlens/aigate/resilience"
)

func TestMiddleware_WrapSuccess(t *testing.T) {
	tracer, spans := newTestTracer(t)
	metrics, reader := newTestMetrics(t)
	var buf bytes.Buffer
	mw := NewMiddleware(tracer, metrics, NewLoggerWithWriter("info", &buf))

	meta := CallMeta{Provider: "openai", Operation: "analyze"}
	called := false
	wrapped := mw.Wrap(meta, func(ctx context.Context) error {
		called = true
		return nil
	})

	if err := wrapped(context.Background()); err != nil {
		t.Fatalf("wrapped() error = %v", err)
	}
	if !called {
		t.Fatal("inner function never ran")
	}

	ended := spans.Ended()
	if len(ended) != 1 {
		t.Fatalf("spans = %d, want 1", len(ended))
	}
	if ended[0].Name() != "ai.call.openai.analyze" {
		t.Errorf("span name = %q, want ai.call.openai.analyze", ended[0].Name())
	}
	if ended[0].Status().Code == codes.Error {
		t.Error("span marked as error on success")
	}

	if found := findMetric(collect(t, reader), "ai.call.total"); found == nil {
		t.Error("ai.call.total not recorded")
	}

	if !strings.Contains(buf.String(), "ai call completed") {
		t.Errorf("log output = %q, want completion line", buf.String())
	}
}

func TestMiddleware_WrapError(t *testing.T) {
	tracer, spans := newTestTracer(t)
	metrics, reader := newTestMetrics(t)
	var buf bytes.Buffer
	mw := NewMiddleware(tracer, metrics, NewLoggerWithWriter("info", &buf))

	callErr := aierr.New(aierr.KindRateLimit, "throttled")
	wrapped := mw.Wrap(CallMeta{Provider: "openai"}, func(ctx context.Context) error {
		return callErr
	})

	if err := wrapped(context.Background()); !errors.Is(err, callErr) {
		t.Fatalf("wrapped() error = %v, want the inner error", err)
	}

	if spans.Ended()[0].Status().Code != codes.Error {
		t.Error("span not marked as error")
	}

	found := findMetric(collect(t, reader), "ai.call.errors")
	if found == nil {
		t.Fatal("ai.call.errors not recorded")
	}
	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("errors = %+v, want one data point of 1", found.Data)
	}

	out := buf.String()
	if !strings.Contains(out, "ai call failed") {
		t.Errorf("log output = %q, want failure line", out)
	}
	if !strings.Contains(out, "rate_limit") {
		t.Errorf("log output = %q, want error kind", out)
	}
}

func TestMiddleware_NilComponents(t *testing.T) {
	mw := NewMiddleware(nil, nil, nil)

	called := false
	wrapped := mw.Wrap(CallMeta{Provider: "openai"}, func(ctx context.Context) error {
		called = true
		return nil
	})
	if err := wrapped(context.Background()); err != nil {
		t.Fatalf("wrapped() error = %v", err)
	}
	if !called {
		t.Error("inner function never ran")
	}

	// Recorders stay safe with every component absent.
	mw.RetryRecorder(CallMeta{Provider: "openai"})(resilience.RetryEvent{
		Attempt: 1,
		Err:     aierr.New(aierr.KindNetwork, "reset"),
		Delay:   time.Second,
	})
	mw.QueueWaitRecorder(CallMeta{Provider: "openai"})(time.Second)
}

func TestMiddleware_RetryRecorder(t *testing.T) {
	metrics, reader := newTestMetrics(t)
	var buf bytes.Buffer
	mw := NewMiddleware(nil, metrics, NewLoggerWithWriter("warn", &buf))

	hook := mw.RetryRecorder(CallMeta{Provider: "openai", Operation: "analyze"})
	hook(resilience.RetryEvent{
		Attempt: 1,
		Err:     aierr.New(aierr.KindRateLimit, "throttled"),
		Delay:   250 * time.Millisecond,
	})
	hook(resilience.RetryEvent{
		Attempt: 2,
		Err:     aierr.New(aierr.KindRateLimit, "throttled"),
		Delay:   500 * time.Millisecond,
	})

	found := findMetric(collect(t, reader), "ai.call.retries")
	if found == nil {
		t.Fatal("ai.call.retries not recorded")
	}
	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 2 {
		t.Fatalf("retries = %+v, want one data point of 2", found.Data)
	}

	var kind string
	for iter := sum.DataPoints[0].Attributes.Iter(); iter.Next(); {
		if kv := iter.Attribute(); string(kv.Key) == "ai.error_kind" {
			kind = kv.Value.AsString()
		}
	}
	if kind != "rate_limit" {
		t.Errorf("ai.error_kind = %q, want rate_limit", kind)
	}

	if !strings.Contains(buf.String(), "ai call retrying") {
		t.Errorf("log output = %q, want retry line", buf.String())
	}
}

func TestMiddleware_QueueWaitRecorder(t *testing.T) {
	metrics, reader := newTestMetrics(t)
	mw := NewMiddleware(nil, metrics, nil)

	mw.QueueWaitRecorder(CallMeta{Provider: "openai"})(150 * time.Millisecond)

	found := findMetric(collect(t, reader), "ai.call.queue_wait_ms")
	if found == nil {
		t.Fatal("ai.call.queue_wait_ms not recorded")
	}
	hist, ok := found.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 || hist.DataPoints[0].Sum != 150 {
		t.Errorf("queue wait = %+v, want 150ms", found.Data)
	}
}

func TestMiddleware_GateObserversEndToEnd(t *testing.T) {
	metrics, reader := newTestMetrics(t)
	mw := NewMiddleware(nil, metrics, nil)
	meta := CallMeta{Provider: "openai", Operation: "analyze"}

	ac, err := resilience.NewAdmissionController(resilience.AdmissionConfig{RequestsPerMinute: 5})
	if err != nil {
		t.Fatal(err)
	}
	re, err := resilience.NewRetryExecutor(resilience.RetryConfig{
		MaxAttempts:    3,
		BaseDelay:      time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
		DisableJitter:  true,
		RetryableKinds: []aierr.Kind{aierr.KindNetwork},
	})
	if err != nil {
		t.Fatal(err)
	}
	gate, err := resilience.NewGate(ac, re)
	if err != nil {
		t.Fatal(err)
	}
	gate.ObserveRetries(mw.RetryRecorder(meta))
	gate.ObserveQueueWait(mw.QueueWaitRecorder(meta))

	calls := 0
	err = gate.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return aierr.New(aierr.KindNetwork, "reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	found := findMetric(collect(t, reader), "ai.call.retries")
	if found == nil {
		t.Fatal("ai.call.retries not recorded through the gate")
	}
	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("retries = %+v, want one data point of 1", found.Data)
	}
}
