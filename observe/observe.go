package observe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config selects which telemetry subsystems run and where they export.
// An empty exporter or level leaves that subsystem off, so the zero value
// (plus a ServiceName) is a valid all-quiet configuration.
type Config struct {
	// ServiceName identifies this process in exported telemetry (required).
	ServiceName string

	// Version is reported alongside the service name.
	Version string

	// TraceExporter is "stdout" or "otlp"; empty disables tracing.
	TraceExporter string

	// SampleRatio is the fraction of traces to keep, in (0, 1]. Zero means
	// sample everything.
	SampleRatio float64

	// MetricExporter is "stdout", "otlp", or "prometheus"; empty disables
	// metrics.
	MetricExporter string

	// LogLevel is "debug", "info", "warn", or "error"; empty disables
	// logging.
	LogLevel string

	// LogWriter receives log lines. Default: os.Stderr.
	LogWriter io.Writer
}

// Observer owns the telemetry providers for one process. Subsystems left
// unconfigured stay nil; every consumer of these fields tolerates that.
type Observer struct {
	Tracer  *Tracer
	Metrics *Metrics
	Log     Logger

	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// NewObserver builds providers for each configured subsystem and registers
// them as the process-wide OpenTelemetry defaults.
func NewObserver(ctx context.Context, cfg Config) (*Observer, error) {
	if cfg.ServiceName == "" {
		return nil, ErrMissingServiceName
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSampleRatio, cfg.SampleRatio)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	obs := &Observer{}

	if cfg.TraceExporter != "" {
		exp, err := newTraceExporter(ctx, cfg.TraceExporter)
		if err != nil {
			return nil, err
		}
		ratio := cfg.SampleRatio
		if ratio == 0 {
			ratio = 1
		}
		obs.tp = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.TraceIDRatioBased(ratio)),
			sdktrace.WithBatcher(exp),
		)
		otel.SetTracerProvider(obs.tp)
		obs.Tracer = NewTracer(obs.tp.Tracer(cfg.ServiceName))
	}

	if cfg.MetricExporter != "" {
		reader, err := newMetricReader(ctx, cfg.MetricExporter)
		if err != nil {
			return nil, err
		}
		obs.mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		)
		otel.SetMeterProvider(obs.mp)
		m, err := NewMetrics(obs.mp.Meter(cfg.ServiceName))
		if err != nil {
			return nil, err
		}
		obs.Metrics = m
	}

	if cfg.LogLevel != "" {
		lvl, ok := ParseLevel(cfg.LogLevel)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownLogLevel, cfg.LogLevel)
		}
		w := cfg.LogWriter
		if w == nil {
			w = os.Stderr
		}
		obs.Log = newJSONLogger(lvl, w)
	}

	return obs, nil
}

// Middleware returns call-wrapping middleware over whatever subsystems are
// enabled. Disabled subsystems drop out as no-ops.
func (o *Observer) Middleware() *Middleware {
	return NewMiddleware(o.Tracer, o.Metrics, o.Log)
}

// Shutdown flushes and stops the providers. Safe to call more than once.
func (o *Observer) Shutdown(ctx context.Context) error {
	var errs []error
	if o.tp != nil {
		if err := o.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("observe: trace shutdown: %w", err))
		}
	}
	if o.mp != nil {
		if err := o.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("observe: metric shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func newTraceExporter(ctx context.Context, name string) (sdktrace.SpanExporter, error) {
	switch name {
	case "stdout":
		return stdouttrace.New()
	case "otlp":
		if !otlpEndpointSet("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT") {
			return nil, fmt.Errorf("%w: set OTEL_EXPORTER_OTLP_ENDPOINT", ErrEndpointNotConfigured)
		}
		return otlptracegrpc.New(ctx)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, name)
	}
}

func newMetricReader(ctx context.Context, name string) (sdkmetric.Reader, error) {
	switch name {
	case "stdout":
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	case "otlp":
		if !otlpEndpointSet("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT") {
			return nil, fmt.Errorf("%w: set OTEL_EXPORTER_OTLP_ENDPOINT", ErrEndpointNotConfigured)
		}
		exp, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	case "prometheus":
		exp, err := prometheus.New()
		if err != nil {
			return nil, err
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, name)
	}
}

func otlpEndpointSet(signalVar string) bool {
	return os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" || os.Getenv(signalVar) != ""
}
