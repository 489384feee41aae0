// Package telemetry owns the tracing and metrics state of the service. It is
// constructed once at startup and handed to the middleware pipeline; nothing
// here touches the otel globals.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/shenshouer/ai-api"
	defaultQueueSize    = 2048
)

// Config controls tracing behaviour.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// SampleRatio is applied to root spans; children follow their parent.
	SampleRatio float64
	// QueueSize bounds the number of ended spans awaiting export.
	QueueSize int
	OTLP      OTLPConfig
}

// OTLPConfig describes the OTLP/gRPC collector. Export is disabled when
// Endpoint is empty.
type OTLPConfig struct {
	Endpoint     string
	Timeout      time.Duration
	Token        string
	Organization string
	Stream       string
}

// Enabled reports whether spans should be exported.
func (c OTLPConfig) Enabled() bool {
	return c.Endpoint != ""
}

// Telemetry bundles the tracer provider, propagator and metrics registry.
type Telemetry struct {
	provider   *sdktrace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	metrics    *Metrics
}

type options struct {
	exporter   sdktrace.SpanExporter
	processors []sdktrace.SpanProcessor
	registry   *prometheus.Registry
}

// Option customises New.
type Option func(*options)

// WithExporter replaces the OTLP exporter, for example with an in-memory one.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.exporter = exp }
}

// WithSpanProcessor registers an extra synchronous span processor.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(o *options) { o.processors = append(o.processors, sp) }
}

// WithRegistry makes Metrics register into reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// New builds the tracer provider and metrics. Spans are always recorded so
// requests are correlated even when no collector is configured.
func New(ctx context.Context, cfg Config, opts ...Option) (*Telemetry, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.ServiceName == "" {
		return nil, errors.New("telemetry: service name is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	metrics := NewMetrics(o.registry)

	res := newResource(cfg)
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SampleRatio)),
	}

	exp := o.exporter
	if exp == nil && cfg.OTLP.Enabled() {
		otlp, err := newExporter(ctx, cfg.OTLP)
		if err != nil {
			return nil, fmt.Errorf("telemetry: create otlp exporter: %w", err)
		}
		exp = newBreakerExporter(otlp, metrics)
	}
	if exp != nil {
		batch := sdktrace.NewBatchSpanProcessor(exp)
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(newQueueProcessor(batch, cfg.QueueSize, metrics)))
	}
	for _, sp := range o.processors {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(sp))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	return &Telemetry{
		provider: tp,
		tracer:   tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(cfg.ServiceVersion)),
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
		metrics: metrics,
	}, nil
}

func newResource(cfg Config) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)
}

// newSampler samples root spans by trace id ratio and follows the parent's
// decision otherwise. A ratio >= 1 samples everything.
func newSampler(ratio float64) sdktrace.Sampler {
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// Tracer returns the service tracer.
func (t *Telemetry) Tracer() trace.Tracer { return t.tracer }

// Propagator returns the W3C trace context + baggage propagator.
func (t *Telemetry) Propagator() propagation.TextMapPropagator { return t.propagator }

// Metrics returns the request metrics.
func (t *Telemetry) Metrics() *Metrics { return t.metrics }

// ForceFlush exports every span ended so far.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	return t.provider.ForceFlush(ctx)
}

// Shutdown flushes pending spans and stops the exporter.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}
