// Package wasmcontext carries call metadata across the guest/host boundary.
// The packed ABI moves opaque bytes only, so deadline, cancellation and
// request correlation travel inside each host call request as a ContextWire.
package wasmcontext

import (
	"context"
	"time"

	"github.com/gantry-dev/gantry/domain/entities"
)

type contextKey string

// requestIDKey stores the correlation id for the in-flight dispatch.
const requestIDKey contextKey = "request_id"

// WithRequestID tags the context with a correlation id. The dispatch loop
// sets it from the session id of the incoming envelope.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID reports the correlation id, or empty when untagged.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ToWire captures the context state a host call should observe: remaining
// deadline, cancellation and the correlation id.
func ToWire(ctx context.Context) entities.ContextWire {
	wire := entities.ContextWire{RequestID: RequestID(ctx)}

	if deadline, ok := ctx.Deadline(); ok {
		wire.Deadline = &deadline
		if remaining := time.Until(deadline); remaining > 0 {
			wire.TimeoutMs = remaining.Milliseconds()
		}
	}

	select {
	case <-ctx.Done():
		wire.Canceled = true
	default:
	}

	return wire
}
