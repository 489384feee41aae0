package items

import "github.com/shenshouer/ai-api/internal/api"

// ListOutput is a page envelope with RFC 8288 navigation links.
type ListOutput struct {
	Link string `header:"Link" doc:"RFC 8288 pagination links"`
	Body api.Response[api.PageResponse[Item]]
}
