package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shenshouer/ai-api/internal/api"
	"github.com/shenshouer/ai-api/internal/platform/telemetry"
	"github.com/shenshouer/ai-api/internal/testutil"
)

type fixture struct {
	router chi.Router
	spans  *tracetest.SpanRecorder
	logs   *observer.ObservedLogs
	reg    *prometheus.Registry
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	spans := tracetest.NewSpanRecorder()
	reg := prometheus.NewRegistry()
	tel, err := telemetry.New(context.Background(), telemetry.Config{
		ServiceName: "ai-api-test",
		SampleRatio: 1,
	}, telemetry.WithSpanProcessor(spans), telemetry.WithRegistry(reg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	core, logs := observer.New(zapcore.DebugLevel)
	router, _ := NewRouter(Options{
		Version:   "test",
		Logger:    zap.New(core),
		Telemetry: tel,
		Timeout:   timeout,
	})
	return &fixture{router: router, spans: spans, logs: logs, reg: reg}
}

func (f *fixture) do(method, target string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

// requestCount sums http_requests_total for the given label values.
func (f *fixture) requestCount(t *testing.T, method, path, status string) float64 {
	t.Helper()
	families, err := f.reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != "http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["method"] == method && labels["path"] == path && labels["status"] == status {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func TestRequestIDAndTracePropagateEndToEnd(t *testing.T) {
	f := newFixture(t, time.Second)

	resp := f.do(http.MethodGet, "/api/v1/hello?lang=en",
		chimiddleware.RequestIDHeader, "client-req-1",
		"traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	)
	testutil.RequireStatus(t, resp, http.StatusOK)

	assert.Equal(t, "client-req-1", resp.Header().Get(chimiddleware.RequestIDHeader))
	env := testutil.Decode[string](t, resp)
	assert.Equal(t, "client-req-1", env.RequestID)
	assert.Equal(t, "/api/v1/hello?lang=en", env.URI)
	require.NotNil(t, env.TraceID)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", *env.TraceID)
	require.NotNil(t, env.Data)
	assert.Equal(t, "Hello, World!", *env.Data)

	spans := f.spans.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, *env.TraceID, spans[0].SpanContext().TraceID().String())
	assert.Equal(t, "GET /api/v1/hello", spans[0].Name())

	entries := f.logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "client-req-1", fields["request_id"])
	assert.Equal(t, *env.TraceID, fields["trace_id"])
	assert.Equal(t, "/api/v1/hello", fields["route"])
}

func TestSynthesizedRequestIDsAreDistinct(t *testing.T) {
	f := newFixture(t, time.Second)

	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		resp := f.do(http.MethodGet, "/healthz")
		env := testutil.Decode[api.Unit](t, resp)
		require.NotEmpty(t, env.RequestID)
		require.Equal(t, env.RequestID, resp.Header().Get(chimiddleware.RequestIDHeader))
		seen[env.RequestID] = struct{}{}
	}
	assert.Len(t, seen, 200)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, time.Second)

	resp := f.do(http.MethodGet, "/healthz")
	testutil.RequireStatus(t, resp, http.StatusOK)
	body := resp.Body.String()
	assert.Contains(t, body, `"code":0`)
	assert.Contains(t, body, `"data":null`)
	assert.Contains(t, body, `"error":null`)
	assert.Contains(t, body, `"uri":"/healthz"`)
	assert.Equal(t, float64(1), f.requestCount(t, http.MethodGet, "/healthz", "200"))
}

func TestUnmatchedRouteIsNotFound(t *testing.T) {
	f := newFixture(t, time.Second)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/does/not/exist"},
		{http.MethodDelete, "/api/v1/hello"},
	} {
		resp := f.do(tc.method, tc.path)
		testutil.RequireStatus(t, resp, http.StatusNotFound)
		env := testutil.Decode[api.Unit](t, resp)
		assert.Equal(t, 404, env.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "not found", *env.Error)
		assert.Nil(t, env.Data)
		assert.NotEmpty(t, env.RequestID)
		assert.NotNil(t, env.TraceID)
	}
	assert.Equal(t, float64(1), f.requestCount(t, http.MethodGet, "/does/not/exist", "404"))
}

func TestCBORNegotiation(t *testing.T) {
	f := newFixture(t, time.Second)

	resp := f.do(http.MethodGet, "/api/v1/hello", "Accept", "application/cbor")
	testutil.RequireStatus(t, resp, http.StatusOK)
	assert.Equal(t, "application/cbor", resp.Header().Get("Content-Type"))

	var env api.Response[string]
	require.NoError(t, cbor.Unmarshal(resp.Body.Bytes(), &env))
	require.NotNil(t, env.Data)
	assert.Equal(t, "Hello, World!", *env.Data)

	resp = f.do(http.MethodGet, "/nowhere", "Accept", "application/cbor")
	testutil.RequireStatus(t, resp, http.StatusNotFound)
	assert.Equal(t, "application/cbor", resp.Header().Get("Content-Type"))
}

func TestSensitiveHeadersNeverReachTelemetry(t *testing.T) {
	f := newFixture(t, time.Second)

	const secret = "s3cr3t-value"
	resp := f.do(http.MethodGet, "/api/v1/hello",
		"Authorization", "Bearer "+secret,
		"Cookie", "session="+secret,
	)
	testutil.RequireStatus(t, resp, http.StatusOK)

	spans := f.spans.Ended()
	require.NotEmpty(t, spans)
	for _, s := range spans {
		for _, kv := range s.Attributes() {
			assert.NotContains(t, kv.Value.Emit(), secret, "span attribute %s", kv.Key)
		}
		for _, ev := range s.Events() {
			for _, kv := range ev.Attributes {
				assert.NotContains(t, kv.Value.Emit(), secret, "event %s attribute %s", ev.Name, kv.Key)
			}
		}
	}
	for _, entry := range f.logs.All() {
		assert.NotContains(t, fmt.Sprint(entry.ContextMap()), secret, "log %q", entry.Message)
	}

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Contains(t, attrs["http.request.header.authorization"], "[REDACTED]")
	assert.Contains(t, attrs["http.request.header.cookie"], "[REDACTED]")
}

func TestTimeoutRecordsOneObservation(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	f.router.Get("/slow", func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		w.WriteHeader(http.StatusOK)
	})

	resp := f.do(http.MethodGet, "/slow", chimiddleware.RequestIDHeader, "slow-1")
	testutil.RequireStatus(t, resp, http.StatusRequestTimeout)

	env := testutil.Decode[api.Unit](t, resp)
	assert.Equal(t, 408, env.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "slow-1", env.RequestID)

	assert.Equal(t, float64(1), f.requestCount(t, http.MethodGet, "/slow", "408"))
	assert.Equal(t, float64(0), f.requestCount(t, http.MethodGet, "/slow", "200"))
}

func TestTimeoutWithStuckHandler(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	release := make(chan struct{})
	exited := make(chan struct{})
	f.router.Get("/stuck/{id}", func(w http.ResponseWriter, _ *http.Request) {
		defer close(exited)
		<-release
		w.WriteHeader(http.StatusOK)
	})

	resp := f.do(http.MethodGet, "/stuck/9", chimiddleware.RequestIDHeader, "stuck-1")
	testutil.RequireStatus(t, resp, http.StatusRequestTimeout)

	assert.Equal(t, float64(1), f.requestCount(t, http.MethodGet, "/stuck/{id}", "408"))
	spans := f.spans.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /stuck/{id}", spans[0].Name())

	close(release)
	<-exited
	assert.Equal(t, float64(1), f.requestCount(t, http.MethodGet, "/stuck/{id}", "408"))
	assert.Equal(t, float64(0), f.requestCount(t, http.MethodGet, "/stuck/{id}", "200"))
}

func TestPanicIsRecoveredAndRecorded(t *testing.T) {
	f := newFixture(t, time.Second)
	f.router.Get("/panic", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	resp := f.do(http.MethodGet, "/panic")
	testutil.RequireStatus(t, resp, http.StatusInternalServerError)
	env := testutil.Decode[api.Unit](t, resp)
	assert.Equal(t, 500, env.Code)

	assert.Equal(t, float64(1), f.requestCount(t, http.MethodGet, "/panic", "500"))
	spans := f.spans.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "Error", spans[0].Status().Code.String())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, time.Second)
	f.do(http.MethodGet, "/api/v1/items/item-001")

	resp := f.do(http.MethodGet, MetricsPath)
	testutil.RequireStatus(t, resp, http.StatusOK)
	body := resp.Body.String()
	assert.Contains(t, body, `http_requests_total{method="GET",path="/api/v1/items/{id}",status="200"} 1`)
	assert.Contains(t, body, "http_requests_duration_seconds_bucket")
	assert.Contains(t, body, "otel_spans_dropped_total")
}

func TestOpenAPIDocumentServed(t *testing.T) {
	f := newFixture(t, time.Second)

	resp := f.do(http.MethodGet, "/openapi.json")
	testutil.RequireStatus(t, resp, http.StatusOK)
	body := resp.Body.String()
	assert.Contains(t, body, `"/api/v1/items/{id}"`)
	assert.Contains(t, body, `"application/cbor"`)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	tel, err := telemetry.New(context.Background(), telemetry.Config{ServiceName: "t"},
		telemetry.WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	router, _ := NewRouter(Options{Telemetry: tel, Logger: zap.NewNop()})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := New(ln.Addr().String(), router, tel, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var serveErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		serveErr = srv.Serve(ctx, ln)
	}()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + ln.Addr().String() + "/healthz")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `"code":0`))

	cancel()
	wg.Wait()
	assert.NoError(t, serveErr)
}

func TestRunReportsBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := New(ln.Addr().String(), http.NotFoundHandler(), nil, time.Second)
	err = srv.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
}
