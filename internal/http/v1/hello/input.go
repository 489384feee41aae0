package hello

import "github.com/shenshouer/ai-api/internal/platform/reqctx"

// GetInput carries only the request context.
type GetInput struct {
	RequestContext reqctx.RequestContext
}

// CreateInput is the request body for creating a greeting.
type CreateInput struct {
	RequestContext reqctx.RequestContext
	Body           struct {
		Name string `json:"name" doc:"Name to greet" example:"World" minLength:"1" maxLength:"100"`
	}
}
