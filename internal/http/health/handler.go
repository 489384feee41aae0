package health

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/shenshouer/ai-api/internal/api"
	"github.com/shenshouer/ai-api/internal/platform/reqctx"
	"github.com/shenshouer/ai-api/internal/platform/respond"
)

// Path is where the liveness probe is served.
const Path = "/healthz"

// Input carries only the request context.
type Input struct {
	RequestContext reqctx.RequestContext
}

// Register adds the health check to api.
func Register(humaAPI huma.API) {
	huma.Register(humaAPI, huma.Operation{
		OperationID: "healthz",
		Method:      http.MethodGet,
		Path:        Path,
		Summary:     "Liveness probe",
		Tags:        []string{"Health"},
	}, Handler)
}

// Handler reports liveness with an empty success envelope.
func Handler(_ context.Context, in *Input) (*respond.Body[api.Unit], error) {
	return respond.Success(in.RequestContext, api.Unit{}), nil
}
