package telemetry

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/shenshouer/ai-api/internal/platform/redact"
)

type ctxStartKey struct{}

// RoutePattern returns the matched chi route template, or the raw path when
// nothing matched. It is only complete once routing has run.
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// StartTime returns when the request entered the tracing stage.
func StartTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(ctxStartKey{}).(time.Time)
	return t, ok
}

// Tracing opens the server span before any later stage runs. Incoming W3C
// trace context is honoured. The span is renamed to "METHOD route" once
// routing is known; 5xx marks it as an error.
func Tracing(t *Telemetry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := t.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx = context.WithValue(ctx, ctxStartKey{}, start)

			attrs := []attribute.KeyValue{
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			}
			if id := chimiddleware.GetReqID(ctx); id != "" {
				attrs = append(attrs, attribute.String("http.request_id", id))
			}
			attrs = append(attrs, headerAttributes("http.request.header.", redact.Header(ctx, r.Header))...)

			ctx, span := t.tracer.Start(ctx, r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithTimestamp(start),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := RoutePattern(r)
			span.SetName(r.Method + " " + route)
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.response.status_code", status),
			)
			span.SetAttributes(headerAttributes("http.response.header.", redact.Header(ctx, ww.Header()))...)
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
		})
	}
}

func headerAttributes(prefix string, h http.Header) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(h))
	for k, vals := range h {
		attrs = append(attrs, attribute.StringSlice(prefix+strings.ToLower(k), vals))
	}
	return attrs
}

type timeoutReporter interface {
	TimedOut() bool
}

type timeoutNotifier interface {
	OnTimeout(func(route string))
}

// findWriter walks the writer chain for the first writer implementing T.
func findWriter[T any](w http.ResponseWriter) (T, bool) {
	for w != nil {
		if t, ok := w.(T); ok {
			return t, true
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			break
		}
		w = u.Unwrap()
	}
	var zero T
	return zero, false
}

// timedOut reports whether a timeout stage already answered the request.
func timedOut(w http.ResponseWriter) bool {
	tr, ok := findWriter[timeoutReporter](w)
	return ok && tr.TimedOut()
}

// RecordMetrics observes each request exactly once. Latency is measured from
// pipeline entry when the tracing stage ran. A request answered by the
// timeout stage is recorded with its 408 as soon as the timeout is decided,
// even if the handler never returns; the handler's own completion is then
// not recorded again.
func RecordMetrics(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start, ok := StartTime(r.Context())
			if !ok {
				start = time.Now()
			}
			var once sync.Once
			record := func(route string, status int) {
				once.Do(func() {
					m.RecordRequest(r.Method, route, status, time.Since(start))
				})
			}
			if n, ok := findWriter[timeoutNotifier](w); ok {
				n.OnTimeout(func(route string) {
					record(route, http.StatusRequestTimeout)
				})
			}

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if timedOut(w) {
				status = http.StatusRequestTimeout
			}
			record(RoutePattern(r), status)
		})
	}
}
