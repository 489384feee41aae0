package api

import (
	"encoding/json"
	"net/http"
	"reflect"

	"github.com/danielgtaylor/huma/v2"
	"github.com/fxamacker/cbor/v2"

	"github.com/shenshouer/ai-api/internal/platform/reqctx"
)

// Kind is the closed set of failure kinds a request can end in.
type Kind uint8

const (
	KindInternal Kind = iota
	KindNotFound
	KindBadRequest
	KindUnauthorized
	KindTimeout
)

type kindMapping struct {
	status int
	code   int
	name   string
}

// kindTable maps each kind to its transport status and logical code.
// KindInternal is the zero value so an unset kind never renders as success.
var kindTable = [...]kindMapping{
	KindInternal:     {http.StatusInternalServerError, 500, "internal"},
	KindNotFound:     {http.StatusNotFound, 404, "not_found"},
	KindBadRequest:   {http.StatusBadRequest, 400, "bad_request"},
	KindUnauthorized: {http.StatusUnauthorized, 401, "unauthorized"},
	KindTimeout:      {http.StatusRequestTimeout, 408, "timeout"},
}

func (k Kind) mapping() kindMapping {
	if int(k) < len(kindTable) {
		return kindTable[k]
	}
	return kindTable[KindInternal]
}

// Status returns the HTTP status the kind is rendered with.
func (k Kind) Status() int { return k.mapping().status }

// Code returns the logical code carried in the envelope.
func (k Kind) Code() int { return k.mapping().code }

func (k Kind) String() string { return k.mapping().name }

// KindForStatus folds an arbitrary HTTP status into the taxonomy. It is used
// for errors raised by the framework rather than by handlers.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusNotFound || status == http.StatusMethodNotAllowed:
		return KindNotFound
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 400 && status < 500:
		return KindBadRequest
	default:
		return KindInternal
	}
}

// Error is a failure bound to the request it happened in. Handlers construct
// it at the failure site; the huma adapter or respond.WriteError maps it to a
// status and renders its envelope.
type Error struct {
	Kind    Kind
	Message string
	Context reqctx.RequestContext
}

// NewError binds a failure kind to the request context.
func NewError(kind Kind, rc reqctx.RequestContext, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Context: rc}
}

// NotFound returns a KindNotFound error.
func NotFound(rc reqctx.RequestContext, msg string) *Error {
	return NewError(KindNotFound, rc, msg)
}

// BadRequest returns a KindBadRequest error.
func BadRequest(rc reqctx.RequestContext, msg string) *Error {
	return NewError(KindBadRequest, rc, msg)
}

// Internal returns a KindInternal error.
func Internal(rc reqctx.RequestContext, msg string) *Error {
	return NewError(KindInternal, rc, msg)
}

// Unauthorized returns a KindUnauthorized error.
func Unauthorized(rc reqctx.RequestContext, msg string) *Error {
	return NewError(KindUnauthorized, rc, msg)
}

// Timeout returns a KindTimeout error.
func Timeout(rc reqctx.RequestContext, msg string) *Error {
	return NewError(KindTimeout, rc, msg)
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Message
}

// GetStatus implements huma.StatusError.
func (e *Error) GetStatus() int {
	return e.Kind.Status()
}

// Envelope renders the error through the shared response envelope.
func (e *Error) Envelope() Response[Unit] {
	return Fail[Unit](e.Context, e.Kind.Code(), e.Message)
}

// MarshalJSON renders the envelope, not the error struct, so huma writes the
// shared shape when a handler returns an *Error.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Envelope())
}

// MarshalCBOR mirrors MarshalJSON for CBOR clients.
func (e *Error) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(e.Envelope())
}

// Schema documents the rendered envelope instead of the Go struct.
func (e *Error) Schema(r huma.Registry) *huma.Schema {
	return r.Schema(reflect.TypeOf(Response[Unit]{}), true, "ErrorResponse")
}
