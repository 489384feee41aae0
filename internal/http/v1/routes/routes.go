package routes

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/shenshouer/ai-api/internal/http/health"
	"github.com/shenshouer/ai-api/internal/http/v1/hello"
	"github.com/shenshouer/ai-api/internal/http/v1/items"
)

// Prefix is the mount point of the versioned API.
const Prefix = "/api/v1"

// Register wires all HTTP routes into the provided API router. The health
// check stays at the root so probes do not depend on the API version.
func Register(api huma.API) {
	health.Register(api)

	v1 := huma.NewGroup(api, Prefix)
	hello.Register(v1)
	items.Register(v1, Prefix)
}
