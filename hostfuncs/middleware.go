package hostfuncs

import (
	"context"
	"log/slog"
	"time"
)

// Middleware wraps a ByteHandler with cross-cutting behavior. Registered
// middleware forms an onion around every handler: the first one added sees
// the call first.
//
//	timing := func(next ByteHandler) ByteHandler {
//	    return func(ctx context.Context, payload []byte) ([]byte, error) {
//	        start := time.Now()
//	        defer func() { observe(time.Since(start)) }()
//	        return next(ctx, payload)
//	    }
//	}
type Middleware func(next ByteHandler) ByteHandler

// PanicRecoveryMiddleware converts handler panics into structured error
// payloads so one misbehaving host function cannot take down the runtime.
func PanicRecoveryMiddleware() Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				// The extension still gets a decodable reply.
				resp, err = NewPanicError(r).ToJSON(), nil
			}()
			return next(ctx, payload)
		}
	}
}

// LoggingMiddleware returns a middleware that logs every host function
// invocation with its outcome and duration. A nil logger uses slog.Default.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			funcName := "unknown"
			if hc, ok := ctx.(HostContext); ok {
				funcName = hc.FunctionName()
			}
			log := logger
			if caller, ok := ExtensionNameFromContext(ctx); ok {
				log = logger.With("extension", caller)
			}
			start := time.Now()
			resp, err := next(ctx, payload)
			if err != nil {
				log.Error("host function failed",
					"function", funcName,
					"duration", time.Since(start),
					"error", err)
			} else {
				log.Debug("host function completed",
					"function", funcName,
					"duration", time.Since(start))
			}
			return resp, err
		}
	}
}
