// Package openapi builds the huma API the service registers its operations on.
package openapi

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor"
	"github.com/go-chi/chi/v5"

	"github.com/shenshouer/ai-api/internal/platform/respond"
)

const (
	DocsPath    = "/api-docs"
	OpenAPIPath = "/openapi"
)

// Config returns huma's default config with the docs UI at DocsPath. The
// $schema link transformer is removed: responses are envelopes whose
// correlation fields must stay flat.
func Config(title, version string) huma.Config {
	cfg := huma.DefaultConfig(title, version)
	cfg.DocsPath = DocsPath
	cfg.OpenAPIPath = OpenAPIPath
	cfg.CreateHooks = nil
	return cfg
}

// New mounts an API on router. Errors huma raises itself are rendered
// through the shared envelope, and every JSON body is documented as CBOR too.
func New(router chi.Router, cfg huma.Config) huma.API {
	respond.Install()
	api := humachi.New(router, cfg)
	api.OpenAPI().OnAddOperation = append(api.OpenAPI().OnAddOperation, addCBORContent)
	return api
}

func addCBORContent(_ *huma.OpenAPI, op *huma.Operation) {
	if op.RequestBody != nil && op.RequestBody.Content != nil {
		if jsonContent, ok := op.RequestBody.Content["application/json"]; ok {
			op.RequestBody.Content["application/cbor"] = jsonContent
		}
	}
	for _, resp := range op.Responses {
		if resp.Content == nil {
			continue
		}
		if jsonContent, ok := resp.Content["application/json"]; ok {
			resp.Content["application/cbor"] = jsonContent
		}
	}
}
