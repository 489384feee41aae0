package logging

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/shenshouer/ai-api/internal/platform/redact"
	"github.com/shenshouer/ai-api/internal/platform/telemetry"
)

// RequestLogger enriches the request context with a logger carrying the
// request id and trace identifiers. When a span is recording, the logger is
// teed into it so every record also lands as a span event. It must run after
// the request id and tracing stages.
func RequestLogger(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := base
			if logger == nil {
				logger = Logger()
			}
			ctx := r.Context()
			span := trace.SpanFromContext(ctx)
			logger = TeeSpan(logger, span).With(correlationFields(r)...)
			next.ServeHTTP(w, r.WithContext(WithLogger(ctx, logger)))
		})
	}
}

func correlationFields(r *http.Request) []zap.Field {
	var fields []zap.Field
	if id := chimiddleware.GetReqID(r.Context()); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	sc := trace.SpanContextFromContext(r.Context())
	if sc.HasTraceID() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	}
	if sc.HasSpanID() {
		fields = append(fields, zap.String("span_id", sc.SpanID().String()))
	}
	return fields
}

// AccessLogger writes one structured summary per request using the
// request-scoped logger. Sensitive headers are redacted.
func AccessLogger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ctx := r.Context()
			LoggerFromContext(ctx).Info(
				"request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", telemetry.RoutePattern(r)),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Int64("duration_us", time.Since(start).Microseconds()),
				Headers("request_headers", redact.Header(ctx, r.Header)),
				Headers("response_headers", redact.Header(ctx, ww.Header())),
			)
		})
	}
}
