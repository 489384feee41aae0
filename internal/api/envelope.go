package api

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/shenshouer/ai-api/internal/platform/reqctx"
)

// ErrInvalidPageSize reports a pagination request that violates the caller
// contract (non-positive page size or negative total).
var ErrInvalidPageSize = errors.New("api: page size must be positive and total non-negative")

// Response is the envelope wrapping every response body.
// The request context is flattened so correlation fields sit next to the
// payload fields:
//
//	{"uri":..., "request_id":..., "trace_id":..., "code":0, "error":null, "data":...}
//
// code 0 means success and carries data; any other code carries error.
type Response[T any] struct {
	reqctx.RequestContext
	Code  int     `json:"code"`
	Error *string `json:"error"`
	Data  *T      `json:"data"`
}

// Valid reports whether exactly one of Error/Data is set and Code agrees.
func (r Response[T]) Valid() bool {
	hasData := r.Data != nil
	hasErr := r.Error != nil
	return hasData != hasErr && (r.Code == 0) == hasData
}

// Unit is the payload of successful responses without data. It renders as null.
type Unit struct{}

// MarshalJSON implements json.Marshaler.
func (Unit) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// MarshalCBOR implements cbor.Marshaler. 0xf6 is the CBOR null simple value.
func (Unit) MarshalCBOR() ([]byte, error) {
	return []byte{0xf6}, nil
}

// Schema documents Unit as JSON null.
func (Unit) Schema(huma.Registry) *huma.Schema {
	return &huma.Schema{Type: "null"}
}

// Success constructs a success envelope.
func Success[T any](rc reqctx.RequestContext, data T) Response[T] {
	d := data
	return Response[T]{
		RequestContext: rc,
		Code:           0,
		Data:           &d,
	}
}

// Fail constructs an error envelope with no data. The envelope is transport
// agnostic: code is the logical code, the HTTP status is chosen by the caller.
// A zero code would make the envelope indistinguishable from success and
// panics.
func Fail[T any](rc reqctx.RequestContext, code int, msg string) Response[T] {
	if code == 0 {
		panic("api: error envelope requires a non-zero code")
	}
	m := msg
	return Response[T]{
		RequestContext: rc,
		Code:           code,
		Error:          &m,
	}
}

// PageInfo holds pagination metadata.
type PageInfo struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int64 `json:"total_pages"`
}

// PageResponse wraps one page of items with its metadata flattened alongside.
type PageResponse[T any] struct {
	Items []T `json:"items"`
	PageInfo
}

// NewPage computes total_pages = ceil(total / pageSize).
func NewPage[T any](items []T, total int64, page, pageSize int) (PageResponse[T], error) {
	if pageSize <= 0 || total < 0 {
		return PageResponse[T]{}, ErrInvalidPageSize
	}
	if items == nil {
		items = []T{}
	}
	size := int64(pageSize)
	return PageResponse[T]{
		Items: items,
		PageInfo: PageInfo{
			Total:      total,
			Page:       page,
			PageSize:   pageSize,
			TotalPages: (total + size - 1) / size,
		},
	}, nil
}

// SuccessWithPage constructs a success envelope around a page of items.
func SuccessWithPage[T any](
	rc reqctx.RequestContext,
	items []T,
	total int64,
	page, pageSize int,
) (Response[PageResponse[T]], error) {
	p, err := NewPage(items, total, page, pageSize)
	if err != nil {
		return Response[PageResponse[T]]{}, err
	}
	return Success(rc, p), nil
}
