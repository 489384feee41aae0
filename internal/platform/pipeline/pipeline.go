// Package pipeline composes the ordered middleware stages every request
// passes through before route dispatch.
package pipeline

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	applog "github.com/shenshouer/ai-api/internal/platform/logging"
	appmiddleware "github.com/shenshouer/ai-api/internal/platform/middleware"
	"github.com/shenshouer/ai-api/internal/platform/openapi"
	"github.com/shenshouer/ai-api/internal/platform/redact"
	"github.com/shenshouer/ai-api/internal/platform/respond"
	"github.com/shenshouer/ai-api/internal/platform/telemetry"
)

const (
	DefaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// Stage is one named layer of the request pipeline.
type Stage struct {
	Name string
	Wrap func(http.Handler) http.Handler
}

// Pipeline is an ordered list of stages, outermost first.
type Pipeline []Stage

// Then wraps h so the first stage sees the request first.
func (p Pipeline) Then(h http.Handler) http.Handler {
	for i := len(p) - 1; i >= 0; i-- {
		h = p[i].Wrap(h)
	}
	return h
}

// Middlewares returns the stages in chi's Use order.
func (p Pipeline) Middlewares() []func(http.Handler) http.Handler {
	out := make([]func(http.Handler) http.Handler, len(p))
	for i, s := range p {
		out[i] = s.Wrap
	}
	return out
}

// Names lists the stage names in order.
func (p Pipeline) Names() []string {
	out := make([]string, len(p))
	for i, s := range p {
		out[i] = s.Name
	}
	return out
}

// Options carries what the stages are built from.
type Options struct {
	Logger    *zap.Logger
	Telemetry *telemetry.Telemetry
	Timeout   time.Duration
	// RedactHeaders overrides redact.DefaultHeaders when set.
	RedactHeaders []string
}

// New returns the service pipeline. Header redaction is configured before
// anything logs, identity is resolved before the span opens, and the span
// opens before the request logger so every record is correlated. The
// timeout sits outside metrics so a timed-out request is still recorded.
func New(opts Options) Pipeline {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return Pipeline{
		{Name: "redact", Wrap: redact.Middleware(opts.RedactHeaders...)},
		{Name: "request_id", Wrap: appmiddleware.RequestID()},
		{Name: "tracing", Wrap: telemetry.Tracing(opts.Telemetry)},
		{Name: "request_logger", Wrap: applog.RequestLogger(opts.Logger)},
		{Name: "access_log", Wrap: applog.AccessLogger()},
		{Name: "security", Wrap: appmiddleware.Security(openapi.DocsPath)},
		{Name: "request_size", Wrap: chimiddleware.RequestSize(maxBodyBytes)},
		{Name: "compress", Wrap: appmiddleware.Compress()},
		{Name: "timeout", Wrap: appmiddleware.Timeout(timeout)},
		{Name: "metrics", Wrap: telemetry.RecordMetrics(opts.Telemetry.Metrics())},
		{Name: "cors", Wrap: appmiddleware.CORS()},
		{Name: "recoverer", Wrap: respond.Recoverer()},
	}
}
