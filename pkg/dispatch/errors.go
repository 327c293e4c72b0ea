package dispatch

import (
	"errors"

	"github.com/vectorgate/gateway/pkg/gwerr"
)

// classify normalizes any error returned from Registry.Invoke into a
// gwerr.Error so every wire shell renders the same HTTP status and
// message for the same failure, regardless of which transport carried
// it (spec.md §4.9, §7's error taxonomy).
func classify(err error) *gwerr.Error {
	if ge, ok := gwerr.As(err); ok {
		return ge
	}
	var ge2 *gwerr.Error
	if errors.As(err, &ge2) {
		return ge2
	}
	return gwerr.Wrap(err, "dispatch: unclassified procedure error")
}

// jsonRPCErrorCode maps a gwerr.Kind to a JSON-RPC 2.0 error code,
// reusing the standard -32xxx range for protocol-level faults and a
// gateway-specific range for domain errors.
func jsonRPCErrorCode(kind gwerr.Kind) int {
	switch kind {
	case gwerr.InvalidArgument, gwerr.InvalidPath:
		return -32602 // Invalid params
	case gwerr.Unauthenticated:
		return -32001
	case gwerr.Forbidden:
		return -32002
	case gwerr.NoCredential:
		return -32003
	case gwerr.InsufficientBalance:
		return -32004
	case gwerr.DecryptAuthFailed:
		return -32005
	case gwerr.Upstream:
		return -32006
	case gwerr.RateLimited:
		return -32007
	case gwerr.Conflict:
		return -32008
	default:
		return -32603 // Internal error
	}
}
