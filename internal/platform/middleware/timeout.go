package middleware

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shenshouer/ai-api/internal/api"
	applog "github.com/shenshouer/ai-api/internal/platform/logging"
	"github.com/shenshouer/ai-api/internal/platform/reqctx"
	"github.com/shenshouer/ai-api/internal/platform/respond"
)

// timeoutGrace bounds how long a timed-out handler may keep running before
// its writer is closed.
const timeoutGrace = 100 * time.Millisecond

const msgTimeout = "request timed out"

// Timeout cancels the request context after d. If the handler has not started
// its response by then, the request is answered with the Timeout envelope and
// any later writes from the handler are discarded. Inner stages can learn the
// outcome through the writer's TimedOut method, or register with OnTimeout to
// hear about it as soon as it is decided.
//
// The handler runs on its own chi route context, so a handler that outlives
// the grace period never touches the one the router returns to its pool. The
// route is matched up front for outer stages and adopted from the handler's
// context once it finishes.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			r = r.WithContext(ctx)

			inner := r
			outer := chi.RouteContext(ctx)
			var routed *chi.Context
			if outer != nil {
				routed = isolateRoute(outer)
				inner = r.WithContext(context.WithValue(ctx, chi.RouteCtxKey, routed))
				matchRoute(outer, r)
			}

			tw := &timeoutWriter{w: w, h: make(http.Header), ctx: ctx, route: routeLabel(outer, r)}
			done := make(chan struct{})
			var panicVal any

			go func() {
				defer close(done)
				defer func() {
					panicVal = recover()
				}()
				next.ServeHTTP(tw, inner)
			}()

			select {
			case <-done:
				adoptRoute(outer, routed)
				switch {
				case panicVal == http.ErrAbortHandler:
					panic(panicVal)
				case panicVal != nil:
					applog.LogError(ctx, "panic in timed handler", respond.PanicError(panicVal))
					if tw.claimPanic() {
						respond.WriteError(w, r, api.Internal(reqctx.FromRequest(r), "internal server error"))
					}
				case tw.TimedOut():
					tw.fire()
					writeTimeout(w, r, d)
				}
			case <-ctx.Done():
				if tw.TimedOut() {
					tw.fire()
					writeTimeout(w, r, d)
				}
				select {
				case <-done:
					adoptRoute(outer, routed)
				case <-time.After(timeoutGrace):
					applog.LogWarn(ctx, "handler still running after timeout", zap.Duration("grace", timeoutGrace))
				}
				tw.close()
			}
		})
	}
}

// writeTimeout answers with the Timeout envelope. The CORS policy is applied
// again because the handler's buffered headers are discarded.
func writeTimeout(w http.ResponseWriter, r *http.Request, d time.Duration) {
	applog.LogWarn(r.Context(), "request deadline exceeded", zap.Duration("timeout", d))
	corsPolicy.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond.WriteError(w, r, api.Timeout(reqctx.FromRequest(r), msgTimeout))
	})).ServeHTTP(w, r)
}

// isolateRoute returns a route context for the handler goroutine that starts
// where outer stands now.
func isolateRoute(outer *chi.Context) *chi.Context {
	rc := chi.NewRouteContext()
	rc.Routes = outer.Routes
	rc.RoutePath = outer.RoutePath
	rc.RouteMethod = outer.RouteMethod
	rc.RoutePatterns = append([]string(nil), outer.RoutePatterns...)
	rc.URLParams.Keys = append([]string(nil), outer.URLParams.Keys...)
	rc.URLParams.Values = append([]string(nil), outer.URLParams.Values...)
	return rc
}

// matchRoute records on outer the pattern the router will dispatch r to.
func matchRoute(outer *chi.Context, r *http.Request) {
	if outer.Routes == nil {
		return
	}
	path := outer.RoutePath
	if path == "" {
		path = r.URL.RawPath
	}
	if path == "" {
		path = r.URL.Path
	}
	probe := chi.NewRouteContext()
	if outer.Routes.Match(probe, r.Method, path) {
		outer.RoutePatterns = append(outer.RoutePatterns, probe.RoutePatterns...)
	}
}

// adoptRoute copies the handler's routing result back once it has returned.
func adoptRoute(outer, routed *chi.Context) {
	if outer == nil || routed == nil {
		return
	}
	outer.RoutePatterns = routed.RoutePatterns
	outer.URLParams = routed.URLParams
}

func routeLabel(rctx *chi.Context, r *http.Request) string {
	if rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// timeoutWriter forwards handler writes until the deadline. Headers are
// buffered so the timeout response never races with the handler goroutine.
type timeoutWriter struct {
	w     http.ResponseWriter
	h     http.Header
	ctx   context.Context
	route string

	mu          sync.Mutex
	wroteHeader bool
	timedOut    bool
	closed      bool
	fired       bool
	hooks       []func(route string)
}

// Header returns the handler's private header map.
func (tw *timeoutWriter) Header() http.Header {
	return tw.h
}

// claimLocked decides, once the deadline passed, that the timeout response
// owns the connection. It must be called with mu held.
func (tw *timeoutWriter) claimLocked() bool {
	if !tw.timedOut && !tw.wroteHeader && errors.Is(tw.ctx.Err(), context.DeadlineExceeded) {
		tw.timedOut = true
	}
	return tw.timedOut
}

// TimedOut reports whether the request is answered by the timeout response.
// The answer is stable once it returns true.
func (tw *timeoutWriter) TimedOut() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.claimLocked()
}

// OnTimeout registers fn to run once the timeout response is decided. fn
// runs immediately when that already happened. It receives the matched
// route pattern, or the raw path when nothing matched.
func (tw *timeoutWriter) OnTimeout(fn func(route string)) {
	tw.mu.Lock()
	if !tw.fired {
		tw.hooks = append(tw.hooks, fn)
		tw.mu.Unlock()
		return
	}
	tw.mu.Unlock()
	fn(tw.route)
}

// fire runs the OnTimeout hooks once, after the timeout has been claimed.
func (tw *timeoutWriter) fire() {
	tw.mu.Lock()
	if tw.fired || !tw.timedOut {
		tw.mu.Unlock()
		return
	}
	tw.fired = true
	hooks := tw.hooks
	tw.hooks = nil
	tw.mu.Unlock()
	for _, fn := range hooks {
		fn(tw.route)
	}
}

func (tw *timeoutWriter) claimPanic() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.wroteHeader || tw.timedOut {
		return false
	}
	tw.closed = true
	return true
}

func (tw *timeoutWriter) blockedLocked() bool {
	return tw.closed || tw.claimLocked()
}

func (tw *timeoutWriter) writeHeaderLocked(code int) {
	if tw.wroteHeader {
		return
	}
	dst := tw.w.Header()
	for k, vals := range tw.h {
		dst[k] = append([]string(nil), vals...)
	}
	tw.w.WriteHeader(code)
	tw.wroteHeader = true
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.blockedLocked() {
		return
	}
	tw.writeHeaderLocked(code)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.blockedLocked() {
		return 0, http.ErrHandlerTimeout
	}
	tw.writeHeaderLocked(http.StatusOK)
	return tw.w.Write(b)
}

func (tw *timeoutWriter) Flush() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.closed || tw.timedOut || !tw.wroteHeader {
		return
	}
	if f, ok := tw.w.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (tw *timeoutWriter) Unwrap() http.ResponseWriter {
	return tw.w
}

func (tw *timeoutWriter) close() {
	tw.mu.Lock()
	tw.closed = true
	tw.mu.Unlock()
}
