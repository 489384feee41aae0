package timeutil

import (
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/fxamacker/cbor/v2"
)

// RFC3339Millis is RFC 3339 UTC with fixed millisecond precision, used for API payloads.
const RFC3339Millis = "2006-01-02T15:04:05.000Z"

// RFC3339Micros is RFC 3339 UTC with fixed microsecond precision, used for log timestamps.
const RFC3339Micros = "2006-01-02T15:04:05.000000Z"

// Time renders as a fixed-precision RFC 3339 UTC string in both JSON and CBOR.
type Time struct {
	time.Time
}

// String formats t with millisecond precision.
func (t Time) String() string {
	return t.UTC().Format(RFC3339Millis)
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// MarshalCBOR implements cbor.Marshaler as a text string.
func (t Time) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(t.String())
}

// Schema documents Time as a date-time string.
func (Time) Schema(huma.Registry) *huma.Schema {
	return &huma.Schema{Type: huma.TypeString, Format: "date-time"}
}

// Date is a shorthand for a UTC Time at the given instant.
func Date(year int, month time.Month, day, hour, minute int) Time {
	return Time{Time: time.Date(year, month, day, hour, minute, 0, 0, time.UTC)}
}
