package hostfuncs

import (
	"context"
	"encoding/json"
)

// HostFunc is the typed shape of a host function: a context plus a request
// struct in, a response struct out. Failures travel inside the response as
// an ErrorDetail, never as a Go error, so the guest always gets a payload
// it can decode.
type HostFunc[Req any, Resp any] func(context.Context, Req) Resp

// ByteHandler is the raw-bytes form every transport dispatches through.
// The sandbox reads the request out of guest memory and hands the reply
// back the same way; runtime commands pass their payloads directly.
type ByteHandler func(context.Context, []byte) ([]byte, error)

// NewJSONHandler adapts a typed HostFunc to the ByteHandler the registry
// stores, framing the request and response as JSON. A payload that does not
// unmarshal yields a structured VALIDATION_ERROR reply, and a response that
// does not marshal yields an INTERNAL_ERROR one, so the transport always
// has bytes to hand back.
func NewJSONHandler[Req any, Resp any](fn HostFunc[Req, Resp]) ByteHandler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var req Req
		if err := json.Unmarshal(payload, &req); err != nil {
			return NewValidationError("failed to unmarshal request: " + err.Error()).ToJSON(), nil
		}

		out, err := json.Marshal(fn(ctx, req))
		if err != nil {
			return NewInternalError("failed to marshal response: " + err.Error()).ToJSON(), nil
		}
		return out, nil
	}
}
