// Package respond renders every response, success or failure, through the
// shared api.Response envelope.
package respond

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/shenshouer/ai-api/internal/api"
	applog "github.com/shenshouer/ai-api/internal/platform/logging"
	"github.com/shenshouer/ai-api/internal/platform/reqctx"
)

const (
	msgNotFound           = "not found"
	msgInternalServerErr  = "internal server error"
	contentTypeJSON       = "application/json; charset=utf-8"
	contentTypeCBOR       = "application/cbor"
	fallbackErrorMessage  = "request failed"
	validationDetailsJoin = "; "
)

var installOnce sync.Once

// Install routes errors raised by huma itself (validation, negotiation,
// body parsing) into the api error taxonomy so they render with the shared
// envelope.
func Install() {
	installOnce.Do(func() {
		huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
			return statusError(context.Background(), reqctx.RequestContext{}, status, msg, errs)
		}

		huma.NewErrorWithContext = func(hctx huma.Context, status int, msg string, errs ...error) huma.StatusError {
			ctx := context.Background()
			var rc reqctx.RequestContext
			if hctx != nil {
				ctx = hctx.Context()
				u := hctx.URL()
				rc = reqctx.Lenient(ctx, u.RequestURI())
			}
			return statusError(ctx, rc, status, msg, errs)
		}
	})
}

// Body is the huma output wrapper for enveloped responses.
type Body[T any] struct {
	Body api.Response[T]
}

// Success wraps data in a success envelope for huma handlers.
func Success[T any](rc reqctx.RequestContext, data T) *Body[T] {
	return &Body[T]{Body: api.Success(rc, data)}
}

// Write serializes an envelope directly to the ResponseWriter, as CBOR when
// the request's Accept header prefers it and JSON otherwise.
func Write[T any](w http.ResponseWriter, r *http.Request, status int, env api.Response[T]) error {
	h := w.Header()
	ensureVary(h, "Accept")
	if r != nil && selectFormat(r.Header.Get("Accept")) {
		b, err := cbor.Marshal(env)
		if err != nil {
			return err
		}
		h.Set("Content-Type", contentTypeCBOR)
		w.WriteHeader(status)
		_, err = w.Write(b)
		return err
	}
	h.Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(env)
}

// WriteError logs e and renders its envelope with the kind's status.
func WriteError(w http.ResponseWriter, r *http.Request, e *api.Error) {
	logWithStatus(r.Context(), e.GetStatus(), e.Message, nil, errorFields(e)...)
	if err := Write(w, r, e.GetStatus(), e.Envelope()); err != nil {
		applog.LogError(r.Context(), "failed to render error envelope", err)
	}
}

// NotFoundHandler answers unrouted requests. It also serves chi's
// method-not-allowed case: a path without the requested method is not found.
func NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, api.NotFound(reqctx.FromRequest(r), msgNotFound))
	}
}

// Recoverer converts panics into Internal envelopes. The panic value and
// stack are logged, never sent to the client.
func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				err := PanicError(rec)
				applog.LogError(r.Context(), "panic recovered", err, zap.ByteString("stack", debug.Stack()))
				WriteError(w, r, api.Internal(reqctx.FromRequest(r), msgInternalServerErr))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// PanicError turns a recovered value into an error.
func PanicError(rec any) error {
	if err, ok := rec.(error); ok {
		return err
	}
	return fmt.Errorf("%v", rec)
}

func statusError(ctx context.Context, rc reqctx.RequestContext, status int, msg string, errs []error) huma.StatusError {
	e := api.NewError(api.KindForStatus(status), rc, message(status, msg, errs))
	if status >= http.StatusBadRequest {
		logWithStatus(ctx, status, e.Message, joinErrors(errs), errorFields(e)...)
	}
	return e
}

// message appends huma's per-field details to msg.
func message(status int, msg string, errs []error) string {
	if strings.TrimSpace(msg) == "" {
		msg = http.StatusText(status)
	}
	if msg == "" {
		msg = fallbackErrorMessage
	}
	details := make([]string, 0, len(errs))
	for _, err := range errs {
		if err == nil {
			continue
		}
		text := err.Error()
		var detailer huma.ErrorDetailer
		if errors.As(err, &detailer) {
			if d := detailer.ErrorDetail(); d != nil {
				text = d.Message
				if d.Location != "" {
					text = d.Location + ": " + d.Message
				}
			}
		}
		details = append(details, text)
	}
	if len(details) == 0 {
		return msg
	}
	return msg + ": " + strings.Join(details, validationDetailsJoin)
}

func errorFields(e *api.Error) []zap.Field {
	return []zap.Field{
		zap.Int("status", e.GetStatus()),
		zap.Int("code", e.Kind.Code()),
		zap.String("kind", e.Kind.String()),
	}
}

func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errors.Join(errs...)
	}
}

func logWithStatus(ctx context.Context, status int, msg string, err error, fields ...zap.Field) {
	if ctx == nil {
		ctx = context.Background()
	}
	if msg == "" {
		msg = fallbackErrorMessage
	}
	switch {
	case status >= http.StatusInternalServerError:
		applog.LogError(ctx, msg, err, fields...)
	case status >= http.StatusBadRequest:
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		applog.LogWarn(ctx, msg, fields...)
	default:
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		applog.LogInfo(ctx, msg, fields...)
	}
}
