package telemetry

import (
	"context"
	"crypto/tls"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"
)

// newExporter builds the OTLP/gRPC span exporter. The endpoint may carry a
// scheme: https selects TLS, anything else is plaintext.
func newExporter(ctx context.Context, cfg OTLPConfig) (sdktrace.SpanExporter, error) {
	endpoint, secure := splitEndpoint(cfg.Endpoint)
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{
			Enabled:         true,
			InitialInterval: time.Second,
			MaxInterval:     5 * time.Second,
			MaxElapsedTime:  30 * time.Second,
		}),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.Timeout))
	}
	if headers := exporterHeaders(cfg); headers != nil {
		opts = append(opts, otlptracegrpc.WithHeaders(headers))
	}
	if secure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(
			credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}),
		))
	} else {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func splitEndpoint(raw string) (string, bool) {
	if !strings.Contains(raw, "://") {
		return raw, false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw, false
	}
	return u.Host, u.Scheme == "https"
}

// exporterHeaders returns the collector metadata. It is sent only when token,
// organization and stream are all configured.
func exporterHeaders(cfg OTLPConfig) map[string]string {
	if cfg.Token == "" || cfg.Organization == "" || cfg.Stream == "" {
		return nil
	}
	return map[string]string{
		"authorization": "Basic " + cfg.Token,
		"organization":  cfg.Organization,
		"stream-name":   cfg.Stream,
	}
}

// breakerExporter stops calling an unhealthy collector for a while. Batches
// rejected by the open breaker are counted as dropped rather than retried.
type breakerExporter struct {
	next    sdktrace.SpanExporter
	cb      *gobreaker.CircuitBreaker
	metrics *Metrics
}

func newBreakerExporter(next sdktrace.SpanExporter, m *Metrics) *breakerExporter {
	return &breakerExporter{
		next:    next,
		metrics: m,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "otlp-exporter",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (e *breakerExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	_, err := e.cb.Execute(func() (any, error) {
		return nil, e.next.ExportSpans(ctx, spans)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		e.metrics.SpansDropped(dropBreakerOpen, len(spans))
		return nil
	}
	return err
}

func (e *breakerExporter) Shutdown(ctx context.Context) error {
	return e.next.Shutdown(ctx)
}
