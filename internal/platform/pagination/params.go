package pagination

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Params embeds into Huma input structs for offset pagination.
type Params struct {
	Page     int `query:"page"      doc:"1-based page number"    default:"1"  minimum:"1"`
	PageSize int `query:"page_size" doc:"Maximum items per page" default:"20" minimum:"1" maximum:"100"`
}

// PageOrDefault returns the page, defaulting to 1 if not positive.
func (p Params) PageOrDefault() int {
	if p.Page <= 0 {
		return 1
	}
	return p.Page
}

// SizeOrDefault returns the page size, defaulting to DefaultPageSize if zero
// or negative and capped at MaxPageSize.
func (p Params) SizeOrDefault() int {
	switch {
	case p.PageSize <= 0:
		return DefaultPageSize
	case p.PageSize > MaxPageSize:
		return MaxPageSize
	default:
		return p.PageSize
	}
}
