package respond

import (
	"net/http"
	"strconv"
	"strings"
)

type mediaRange struct {
	typ     string
	subtype string
	q       float64
}

// parseAccept splits an Accept header into media ranges. Malformed or out
// of range q values count as 1; a bare type means type/*.
func parseAccept(accept string) []mediaRange {
	var ranges []mediaRange
	for part := range strings.SplitSeq(accept, ",") {
		params := strings.Split(part, ";")
		mt := strings.ToLower(strings.TrimSpace(params[0]))
		if mt == "" {
			continue
		}
		typ, subtype, ok := strings.Cut(mt, "/")
		if !ok {
			subtype = "*"
		}
		mr := mediaRange{typ: strings.TrimSpace(typ), subtype: strings.TrimSpace(subtype), q: 1}
		for _, p := range params[1:] {
			k, v, ok := strings.Cut(p, "=")
			if !ok || strings.TrimSpace(strings.ToLower(k)) != "q" {
				continue
			}
			q, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil || q < 0 || q > 1 {
				q = 1
			}
			mr.q = q
		}
		ranges = append(ranges, mr)
	}
	return ranges
}

// quality returns the q of the most specific range matching
// application/<subtype>, or -1 when none matches.
func quality(ranges []mediaRange, subtype string) float64 {
	best, q := -1, -1.0
	for _, r := range ranges {
		rank := -1
		switch {
		case r.typ == "application" && r.subtype == subtype:
			rank = 3
		case r.typ == "application" && r.subtype == "*+"+subtype:
			rank = 2
		case r.typ == "application" && r.subtype == "*":
			rank = 1
		case r.typ == "*" && r.subtype == "*":
			rank = 0
		}
		if rank > best {
			best, q = rank, r.q
		}
	}
	return q
}

// selectFormat reports whether CBOR should be used for accept. JSON wins
// ties and is the default when neither format is acceptable.
func selectFormat(accept string) bool {
	if strings.TrimSpace(accept) == "" {
		return false
	}
	ranges := parseAccept(accept)
	c := quality(ranges, "cbor")
	return c > 0 && c > quality(ranges, "json")
}

// ensureVary adds values to the Vary header unless already listed.
func ensureVary(h http.Header, values ...string) {
	existing := map[string]struct{}{}
	for _, line := range h.Values("Vary") {
		for v := range strings.SplitSeq(line, ",") {
			if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
				existing[v] = struct{}{}
			}
		}
	}
	for _, v := range values {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := existing[key]; ok {
			continue
		}
		existing[key] = struct{}{}
		h.Add("Vary", v)
	}
}
