package hello

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	applog "github.com/shenshouer/ai-api/internal/platform/logging"
	"github.com/shenshouer/ai-api/internal/platform/respond"
)

// Register wires hello routes into the provided API router.
func Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-hello",
		Method:      http.MethodGet,
		Path:        "/hello",
		Summary:     "Default greeting",
		Tags:        []string{"Hello"},
	}, getHandler)

	huma.Register(api, huma.Operation{
		OperationID: "create-hello",
		Method:      http.MethodPost,
		Path:        "/hello",
		Summary:     "Create a personalized greeting",
		Tags:        []string{"Hello"},
	}, createHandler)
}

func getHandler(ctx context.Context, in *GetInput) (*respond.Body[string], error) {
	applog.LogInfo(ctx, "hello get")
	return respond.Success(in.RequestContext, Greeting("")), nil
}

func createHandler(ctx context.Context, in *CreateInput) (*respond.Body[string], error) {
	applog.LogInfo(ctx, "hello post", zap.String("name", in.Body.Name))
	return respond.Success(in.RequestContext, Greeting(in.Body.Name)), nil
}
