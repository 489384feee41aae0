package items

import (
	"context"
	"net/http"
	"net/url"
	"slices"

	"github.com/danielgtaylor/huma/v2"

	"github.com/shenshouer/ai-api/internal/api"
	"github.com/shenshouer/ai-api/internal/platform/pagination"
	"github.com/shenshouer/ai-api/internal/platform/respond"
)

const msgItemNotFound = "item not found"

// Register wires item routes into the provided API router. prefix is the
// path the API group is mounted under, used to build Link URLs.
func Register(humaAPI huma.API, prefix string) {
	huma.Register(humaAPI, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/items",
		Summary:     "List items with page-based pagination",
		Description: "Returns one page of the catalog. Navigation links are in the Link header.",
		Tags:        []string{"Items"},
	}, func(ctx context.Context, in *ListInput) (*ListOutput, error) {
		return list(ctx, in, prefix)
	})

	huma.Register(humaAPI, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/items/{id}",
		Summary:     "Get an item by id",
		Tags:        []string{"Items"},
	}, get)
}

func list(_ context.Context, in *ListInput, prefix string) (*ListOutput, error) {
	filtered := filterItems(catalog, in.Category)
	page, size := in.PageOrDefault(), in.SizeOrDefault()

	env, err := api.SuccessWithPage(
		in.RequestContext,
		pagination.Window(filtered, page, size),
		int64(len(filtered)),
		page,
		size,
	)
	if err != nil {
		return nil, api.Internal(in.RequestContext, err.Error())
	}

	query := url.Values{}
	if in.Category != "" {
		query.Set("category", in.Category)
	}
	return &ListOutput{
		Link: pagination.BuildLinkHeader(prefix+"/items", query, page, size, env.Data.TotalPages),
		Body: env,
	}, nil
}

func get(_ context.Context, in *GetInput) (*respond.Body[Item], error) {
	i := slices.IndexFunc(catalog, func(item Item) bool { return item.ID == in.ID })
	if i < 0 {
		return nil, api.NotFound(in.RequestContext, msgItemNotFound)
	}
	return respond.Success(in.RequestContext, catalog[i]), nil
}

func filterItems(items []Item, category string) []Item {
	if category == "" {
		return items
	}
	return slices.DeleteFunc(slices.Clone(items), func(item Item) bool {
		return item.Category != category
	})
}
