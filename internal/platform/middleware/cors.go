package middleware

import (
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// corsPolicy holds permissive API defaults. Correlation and pagination
// headers are exposed so browser clients can read them.
var corsPolicy = cors.New(cors.Options{
	AllowedOrigins: []string{"*"},
	AllowedMethods: []string{
		http.MethodGet,
		http.MethodHead,
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
		http.MethodOptions,
	},
	AllowedHeaders: []string{
		"Accept",
		"Authorization",
		"Content-Type",
		chimiddleware.RequestIDHeader,
		"Traceparent",
		"Tracestate",
		"Baggage",
	},
	ExposedHeaders: []string{"Link", chimiddleware.RequestIDHeader},
	MaxAge:         300,
})

// CORS applies corsPolicy.
func CORS() func(http.Handler) http.Handler {
	return corsPolicy.Handler
}

// Compress negotiates gzip or deflate for textual responses.
func Compress() func(http.Handler) http.Handler {
	return chimiddleware.Compress(5,
		"application/json",
		"application/cbor",
		"application/openmetrics-text",
		"text/plain",
		"text/html",
	)
}
