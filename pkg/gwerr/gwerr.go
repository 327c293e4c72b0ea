// Package gwerr defines the gateway's closed error-kind taxonomy.
//
// Every stage of the request pipeline aborts with one of these kinds
// rather than a bare error, so transports can render a consistent
// shape (RFC 7807 for plain HTTP, JSON-RPC error objects, tRPC's
// {error:{json:{...}}}, MCP tool-error content) from one source.
package gwerr

import "fmt"

// Kind is a user-visible error classification.
type Kind string

const (
	InvalidArgument     Kind = "InvalidArgument"
	Unauthenticated      Kind = "Unauthenticated"
	Forbidden            Kind = "Forbidden"
	NoCredential         Kind = "NoCredential"
	InsufficientBalance  Kind = "InsufficientBalance"
	DecryptAuthFailed    Kind = "DecryptAuthFailed"
	Upstream             Kind = "Upstream"
	RateLimited          Kind = "RateLimited"
	InvalidPath          Kind = "InvalidPath"
	Conflict             Kind = "Conflict"
	Internal             Kind = "Internal"
)

// UpstreamKind sub-classifies an Upstream error, matching the provider
// adapter contract's ProviderError.kind enum.
type UpstreamKind string

const (
	UpstreamAuth        UpstreamKind = "auth"
	UpstreamRateLimited UpstreamKind = "rateLimited"
	UpstreamBadRequest  UpstreamKind = "badRequest"
	UpstreamServerError UpstreamKind = "serverError"
	UpstreamTimeout     UpstreamKind = "timeout"
	UpstreamCancelled   UpstreamKind = "cancelled"
)

// httpStatus maps each Kind to the status code plain-HTTP transport uses.
var httpStatus = map[Kind]int{
	InvalidArgument:     400,
	Unauthenticated:     401,
	Forbidden:           403,
	NoCredential:        403,
	InsufficientBalance: 402,
	DecryptAuthFailed:   401,
	Upstream:            502,
	RateLimited:         429,
	InvalidPath:         400,
	Conflict:            409,
	Internal:            500,
}

// Error is the gateway's structured error type. It carries enough
// detail for a transport to render the user-facing shape without
// re-deriving it, while never embedding secret material.
type Error struct {
	Kind     Kind
	Upstream UpstreamKind // only meaningful when Kind == Upstream
	Message  string
	// Fields carries kind-specific structured detail, e.g.
	// InsufficientBalance's {required, available}.
	Fields map[string]any
	cause  error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the status code a plain-HTTP transport should use.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return 500
}

// New builds an Error of the given kind with a message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Internal error that chains to cause without leaking its
// text to callers; transports render only Message, never err.Error().
// pkg/api.WriteInternal logs the error via slog; the dispatch shells do
// not log it.
func Wrap(cause error, context string) *Error {
	return &Error{Kind: Internal, Message: context, cause: cause}
}

// WithFields attaches structured detail and returns the same Error for
// chaining, e.g. gwerr.New(gwerr.InsufficientBalance, "...").WithFields(...).
func (e *Error) WithFields(fields map[string]any) *Error {
	e.Fields = fields
	return e
}

// WithUpstream tags an Upstream error with its provider-side sub-kind.
func (e *Error) WithUpstream(kind UpstreamKind) *Error {
	e.Upstream = kind
	return e
}

// As extracts a *Error from err if present.
func As(err error) (*Error, bool) {
	var ge *Error
	if ok := asError(err, &ge); ok {
		return ge, true
	}
	return nil, false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if ge, ok := err.(*Error); ok {
			*target = ge
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
