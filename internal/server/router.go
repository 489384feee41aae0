package server

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/shenshouer/ai-api/internal/http/v1/routes"
	"github.com/shenshouer/ai-api/internal/platform/openapi"
	"github.com/shenshouer/ai-api/internal/platform/respond"
)

// MetricsPath serves the Prometheus exposition.
const MetricsPath = "/metrics"

// NewRouter builds the chi router with the pipeline, the metrics endpoint
// and every API operation. Unmatched paths and methods render NotFound.
func NewRouter(opts Options) (chi.Router, huma.API) {
	router := chi.NewRouter()
	router.NotFound(respond.NotFoundHandler())
	router.MethodNotAllowed(respond.NotFoundHandler())
	router.Use(NewPipeline(opts).Middlewares()...)

	router.Method(http.MethodGet, MetricsPath, opts.Telemetry.Metrics().Handler())

	title := opts.Title
	if title == "" {
		title = "ai-api"
	}
	api := openapi.New(router, openapi.Config(title, opts.Version))
	routes.Register(api)
	return router, api
}
