package pagination

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// BuildLinkHeader constructs an RFC 8288 Link header with first, prev, next
// and last relations, preserving existing query params. totalPages of zero
// yields only the first relation.
func BuildLinkHeader(baseURL string, query url.Values, page, pageSize int, totalPages int64) string {
	link := func(p int64, rel string) string {
		q := cloneValues(query)
		q.Set("page", strconv.FormatInt(p, 10))
		q.Set("page_size", strconv.Itoa(pageSize))
		return fmt.Sprintf("<%s?%s>; rel=%q", baseURL, q.Encode(), rel)
	}

	links := []string{link(1, "first")}
	current := int64(page)
	if current > 1 && totalPages > 0 {
		links = append(links, link(min(current-1, totalPages), "prev"))
	}
	if current < totalPages {
		links = append(links, link(current+1, "next"))
	}
	if totalPages > 0 {
		links = append(links, link(totalPages, "last"))
	}
	return strings.Join(links, ", ")
}

// Window returns the slice of items for page (1-based) of size pageSize.
// Pages past the end are empty.
func Window[T any](items []T, page, pageSize int) []T {
	if page < 1 || pageSize < 1 {
		return []T{}
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := min(start+pageSize, len(items))
	return items[start:end]
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return make(url.Values)
	}
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
