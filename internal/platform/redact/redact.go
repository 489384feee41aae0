// Package redact masks sensitive header values before they reach span
// attributes or log records. Requests themselves are never modified.
package redact

import (
	"context"
	"net/http"
	"sort"
	"strings"
)

// Placeholder replaces every value of a sensitive header.
const Placeholder = "[REDACTED]"

// DefaultHeaders are masked when no explicit list is configured.
var DefaultHeaders = []string{"Authorization", "Cookie", "Set-Cookie", "Proxy-Authorization"}

type ctxKey struct{}

// Set is a set of canonical header names.
type Set map[string]struct{}

var defaultSet = NewSet(DefaultHeaders...)

// NewSet builds a Set from header names in any case.
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		s[http.CanonicalHeaderKey(n)] = struct{}{}
	}
	return s
}

// Contains reports whether name is sensitive.
func (s Set) Contains(name string) bool {
	_, ok := s[http.CanonicalHeaderKey(name)]
	return ok
}

// Header returns a copy of h with sensitive values replaced by Placeholder.
func (s Set) Header(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vals := range h {
		if s.Contains(k) {
			masked := make([]string, len(vals))
			for i := range masked {
				masked[i] = Placeholder
			}
			out[k] = masked
			continue
		}
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// Names returns the sorted header names in the set.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Middleware records the sensitive header set on the request context so
// every later stage redacts the same names. No names means DefaultHeaders.
func Middleware(names ...string) func(http.Handler) http.Handler {
	set := defaultSet
	if len(names) > 0 {
		set = NewSet(names...)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), ctxKey{}, set)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext returns the set installed by Middleware, or the default set.
func FromContext(ctx context.Context) Set {
	if ctx != nil {
		if s, ok := ctx.Value(ctxKey{}).(Set); ok {
			return s
		}
	}
	return defaultSet
}

// Header redacts h with the set carried by ctx.
func Header(ctx context.Context, h http.Header) http.Header {
	return FromContext(ctx).Header(h)
}
