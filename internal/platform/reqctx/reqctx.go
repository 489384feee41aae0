// Package reqctx builds the per-request correlation identity that every
// response envelope and log record echoes back.
package reqctx

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoRequestID reports that extraction ran before request id resolution.
// It is a wiring defect in the middleware pipeline, not a client error.
var ErrNoRequestID = errors.New("reqctx: no request id in context, RequestID middleware must run first")

// RequestContext is the correlation identity of a single request.
//
// It is built once per request and is read-only afterwards, with one
// exception: TraceID may be nil at construction and is filled in later by
// Correlate once a span is active. Correlate is idempotent.
type RequestContext struct {
	URI       string  `json:"uri"`
	RequestID string  `json:"request_id"`
	TraceID   *string `json:"trace_id"`
}

// New assembles a RequestContext from values the pipeline already resolved.
// It never blocks. The trace id is populated when ctx carries a span.
func New(ctx context.Context, uri string) (RequestContext, error) {
	id := chimiddleware.GetReqID(ctx)
	if id == "" {
		return RequestContext{}, ErrNoRequestID
	}
	rc := RequestContext{URI: uri, RequestID: id}
	rc.Correlate(ctx)
	return rc, nil
}

// Lenient is the form used by error renderers that must always produce an
// envelope, even for requests that bypassed the pipeline. A missing request
// id is left empty.
func Lenient(ctx context.Context, uri string) RequestContext {
	rc := RequestContext{URI: uri, RequestID: chimiddleware.GetReqID(ctx)}
	rc.Correlate(ctx)
	return rc
}

// FromRequest is Lenient for an *http.Request.
func FromRequest(r *http.Request) RequestContext {
	return Lenient(r.Context(), r.URL.RequestURI())
}

// Correlate backfills TraceID from the span active in ctx. It reports whether
// the context is correlated after the call. Once set, TraceID never changes.
func (c *RequestContext) Correlate(ctx context.Context) bool {
	if c.TraceID != nil {
		return true
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return false
	}
	id := sc.TraceID().String()
	c.TraceID = &id
	return true
}

// TraceIDString returns the trace id or an empty string when uncorrelated.
func (c RequestContext) TraceIDString() string {
	if c.TraceID == nil {
		return ""
	}
	return *c.TraceID
}

// Resolve lets huma inject the RequestContext into operation inputs before
// the handler runs. A missing request id panics: the router is miswired and
// the recoverer renders it as an internal error.
func (c *RequestContext) Resolve(hctx huma.Context) []error {
	u := hctx.URL()
	rc, err := New(hctx.Context(), u.RequestURI())
	if err != nil {
		panic(err)
	}
	*c = rc
	return nil
}
