package middleware

import (
	"context"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// maxRequestIDLength limits request ID size to prevent unbounded memory usage.
const maxRequestIDLength = 128

// isValidRequestID accepts 1..128 bytes of printable ASCII (0x20-0x7E). Control
// characters, newlines and high bytes are rejected to prevent log injection.
func isValidRequestID(id string) bool {
	if len(id) == 0 || len(id) > maxRequestIDLength {
		return false
	}
	for i := range len(id) {
		if c := id[i]; c < 0x20 || c > 0x7E {
			return false
		}
	}
	return true
}

// RequestID resolves the correlation id for each request. A valid inbound
// X-Request-Id is propagated verbatim; anything else is replaced with a fresh
// UUIDv4. The id is stored under chi's RequestIDKey and echoed on the response.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(chimiddleware.RequestIDHeader)
			if !isValidRequestID(id) {
				id = uuid.NewString()
			}
			ctx := context.WithValue(r.Context(), chimiddleware.RequestIDKey, id)
			w.Header().Set(chimiddleware.RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
