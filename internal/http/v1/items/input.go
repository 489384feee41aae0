package items

import (
	"github.com/shenshouer/ai-api/internal/platform/pagination"
	"github.com/shenshouer/ai-api/internal/platform/reqctx"
)

// ListInput defines query parameters for listing items.
type ListInput struct {
	RequestContext reqctx.RequestContext
	pagination.Params
	Category string `query:"category" doc:"Filter by category" example:"electronics" enum:"electronics,tools,accessories,robotics,power,components"`
}

// GetInput selects one item.
type GetInput struct {
	RequestContext reqctx.RequestContext
	ID             string `path:"id" doc:"Item identifier" example:"item-001"`
}
