// Package testutil builds an instrumented router for handler tests.
package testutil

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/shenshouer/ai-api/internal/api"
	"github.com/shenshouer/ai-api/internal/platform/openapi"
	"github.com/shenshouer/ai-api/internal/platform/pipeline"
	"github.com/shenshouer/ai-api/internal/platform/respond"
	"github.com/shenshouer/ai-api/internal/platform/telemetry"
)

// Harness is a router running the service pipeline, with spans captured in
// memory.
type Harness struct {
	Router    chi.Router
	API       huma.API
	Spans     *tracetest.SpanRecorder
	Telemetry *telemetry.Telemetry
}

// NewHarness builds the harness and lets register add operations to it.
func NewHarness(t testing.TB, register func(huma.API)) *Harness {
	t.Helper()
	spans := tracetest.NewSpanRecorder()
	tel, err := telemetry.New(context.Background(), telemetry.Config{
		ServiceName: "test",
		SampleRatio: 1,
	}, telemetry.WithSpanProcessor(spans), telemetry.WithRegistry(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("telemetry: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	router := chi.NewRouter()
	router.NotFound(respond.NotFoundHandler())
	router.MethodNotAllowed(respond.NotFoundHandler())
	router.Use(pipeline.New(pipeline.Options{Logger: zap.NewNop(), Telemetry: tel}).Middlewares()...)
	humaAPI := openapi.New(router, openapi.Config("Test", "test"))
	if register != nil {
		register(humaAPI)
	}
	return &Harness{Router: router, API: humaAPI, Spans: spans, Telemetry: tel}
}

// Do serves one request. headers are name/value pairs.
func (h *Harness) Do(method, target string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp := httptest.NewRecorder()
	h.Router.ServeHTTP(resp, req)
	return resp
}

// Decode unmarshals a JSON envelope with payload type T.
func Decode[T any](t testing.TB, resp *httptest.ResponseRecorder) api.Response[T] {
	t.Helper()
	var env api.Response[T]
	if err := json.Unmarshal(resp.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %q)", err, resp.Body.String())
	}
	return env
}

// RequireStatus fails the test when resp has an unexpected status.
func RequireStatus(t testing.TB, resp *httptest.ResponseRecorder, want int) {
	t.Helper()
	if resp.Code != want {
		t.Fatalf("expected %d %s, got %d (body %s)", want, http.StatusText(want), resp.Code, resp.Body.String())
	}
}
