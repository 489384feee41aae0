package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shenshouer/ai-api/internal/platform/telemetry"
)

type envelope struct {
	RequestID string  `json:"request_id"`
	URI       string  `json:"uri"`
	Code      int     `json:"code"`
	Error     *string `json:"error"`
}

func TestTimeoutAnswersWithTimeoutEnvelope(t *testing.T) {
	m := telemetry.NewMetrics(prometheus.NewRegistry())
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("too late"))
	})
	h := RequestID()(Timeout(20 * time.Millisecond)(telemetry.RecordMetrics(m)(slow)))

	req := httptest.NewRequest(http.MethodGet, "/slow?x=1", nil)
	req.Header.Set(chimiddleware.RequestIDHeader, "timeout-1")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	if resp.Code != http.StatusRequestTimeout {
		t.Fatalf("expected 408, got %d", resp.Code)
	}
	var env envelope
	if err := json.Unmarshal(resp.Body.Bytes(), &env); err != nil {
		t.Fatalf("json unmarshal: %v (body %q)", err, resp.Body.String())
	}
	if env.Code != 408 || env.Error == nil || *env.Error != msgTimeout {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.RequestID != "timeout-1" || env.URI != "/slow?x=1" {
		t.Fatalf("expected correlation fields, got %+v", env)
	}

	count, err := testutil.GatherAndCount(m.Registry(), "http_requests_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one request series, got %d", count)
	}
}

func TestTimeoutRecordsSingleObservation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	h := Timeout(10 * time.Millisecond)(telemetry.RecordMetrics(m)(slow))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/slow", nil))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	var status string
	for _, mf := range families {
		if mf.GetName() != "http_requests_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			total += metric.GetCounter().GetValue()
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "status" {
					status = lp.GetValue()
				}
			}
		}
	}
	if total != 1 {
		t.Fatalf("expected one observation, got %v", total)
	}
	if status != "408" {
		t.Fatalf("expected status label 408, got %q", status)
	}
}

func TestTimeoutPassesFastResponses(t *testing.T) {
	h := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Handler", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	if resp.Body.String() != "ok" {
		t.Fatalf("expected body 'ok', got %q", resp.Body.String())
	}
	if resp.Header().Get("X-Handler") != "yes" {
		t.Fatalf("expected handler header to be copied")
	}
}

func TestTimeoutKeepsStartedResponse(t *testing.T) {
	h := Timeout(20 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		<-r.Context().Done()
	}))

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected handler status to win once written, got %d", resp.Code)
	}
}

func TestTimeoutRendersPanicAsInternal(t *testing.T) {
	h := Timeout(time.Second)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	var env envelope
	if err := json.Unmarshal(resp.Body.Bytes(), &env); err != nil {
		t.Fatalf("json unmarshal: %v", err)
	}
	if env.Code != 500 {
		t.Fatalf("expected code 500, got %d", env.Code)
	}
}

// stuckRouter serves /stuck/{id} with a handler that ignores cancellation
// until release is closed, and /fast with an immediate 200. Every request's
// route pattern, as seen outside the timeout stage, is sent on seen.
func stuckRouter(m *telemetry.Metrics, release <-chan struct{}, exited *sync.WaitGroup, params chan<- string, seen chan<- string) chi.Router {
	r := chi.NewRouter()
	r.Use(
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req)
				seen <- telemetry.RoutePattern(req)
			})
		},
		RequestID(),
		Timeout(20*time.Millisecond),
		telemetry.RecordMetrics(m),
	)
	r.Get("/stuck/{id}", func(w http.ResponseWriter, req *http.Request) {
		defer exited.Done()
		<-release
		params <- chi.URLParam(req, "id")
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/fast", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func TestTimeoutRecordsBeforeStuckHandlerReturns(t *testing.T) {
	m := telemetry.NewMetrics(prometheus.NewRegistry())
	release := make(chan struct{})
	var exited sync.WaitGroup
	params := make(chan string, 1)
	seen := make(chan string, 1)
	r := stuckRouter(m, release, &exited, params, seen)

	exited.Add(1)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/stuck/7", nil))
	if resp.Code != http.StatusRequestTimeout {
		t.Fatalf("expected 408, got %d", resp.Code)
	}
	if got := <-seen; got != "/stuck/{id}" {
		t.Fatalf("expected outer stages to see the route pattern, got %q", got)
	}

	reg := m.Registry()
	if got := requestCount(t, reg, "/stuck/{id}", "408"); got != 1 {
		t.Fatalf("expected the 408 recorded while the handler is still running, got %v", got)
	}

	close(release)
	exited.Wait()
	if got := <-params; got != "7" {
		t.Fatalf("expected handler to keep its route params, got %q", got)
	}
	count, err := testutil.GatherAndCount(reg, "http_requests_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single series after the handler returned, got %d", count)
	}
	if got := requestCount(t, reg, "/stuck/{id}", "408"); got != 1 {
		t.Fatalf("expected exactly one observation, got %v", got)
	}
}

func TestTimeoutIsolatesAbandonedRouteContext(t *testing.T) {
	m := telemetry.NewMetrics(prometheus.NewRegistry())
	release := make(chan struct{})
	var exited sync.WaitGroup
	params := make(chan string, 2)
	seen := make(chan string, 8)
	r := stuckRouter(m, release, &exited, params, seen)

	var served sync.WaitGroup
	for _, id := range []string{"1", "2"} {
		exited.Add(1)
		served.Add(1)
		go func(id string) {
			defer served.Done()
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/stuck/"+id, nil))
			if resp.Code != http.StatusRequestTimeout {
				t.Errorf("expected 408 for %s, got %d", id, resp.Code)
			}
		}(id)
	}
	served.Wait()

	// Route contexts returned to chi's pool are reused while the abandoned
	// handlers still run.
	for i := 0; i < 5; i++ {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/fast", nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200 from /fast, got %d", resp.Code)
		}
	}

	close(release)
	exited.Wait()
	close(seen)
	close(params)

	var patterns []string
	for p := range seen {
		patterns = append(patterns, p)
	}
	stuckSeen := 0
	for _, p := range patterns {
		if p == "/stuck/{id}" {
			stuckSeen++
		} else if p != "/fast" {
			t.Fatalf("unexpected route pattern %q", p)
		}
	}
	if stuckSeen != 2 {
		t.Fatalf("expected two stuck patterns, got %v", patterns)
	}
	got := map[string]bool{}
	for p := range params {
		got[p] = true
	}
	if !got["1"] || !got["2"] {
		t.Fatalf("expected each handler to keep its own id, got %v", got)
	}
	if v := requestCount(t, m.Registry(), "/stuck/{id}", "408"); v != 2 {
		t.Fatalf("expected two timeouts recorded, got %v", v)
	}
	if v := requestCount(t, m.Registry(), "/fast", "200"); v != 5 {
		t.Fatalf("expected five fast requests recorded, got %v", v)
	}
}

func TestTimeoutResponseCarriesCORSHeaders(t *testing.T) {
	h := RequestID()(Timeout(10 * time.Millisecond)(CORS()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))))

	req := httptest.NewRequest(http.MethodGet, "/slow", nil)
	req.Header.Set("Origin", "https://app.example.com")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	if resp.Code != http.StatusRequestTimeout {
		t.Fatalf("expected 408, got %d", resp.Code)
	}
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected allow origin on the timeout response, got %q", got)
	}
	if got := resp.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(got, chimiddleware.RequestIDHeader) {
		t.Fatalf("expected request id exposed, got %q", got)
	}
	if resp.Header().Get(chimiddleware.RequestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

// requestCount sums http_requests_total for GET path status.
func requestCount(t *testing.T, reg *prometheus.Registry, path, status string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != "http_requests_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["method"] == http.MethodGet && labels["path"] == path && labels["status"] == status {
				total += metric.GetCounter().GetValue()
			}
		}
	}
	return total
}
