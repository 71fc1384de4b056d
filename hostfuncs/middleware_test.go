package hostfuncs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPanicRecoveryMiddleware_RecoversToErrorPayload(t *testing.T) {
	wrapped := PanicRecoveryMiddleware()(func(ctx context.Context, payload []byte) ([]byte, error) {
		panic("boom")
	})

	resp, err := wrapped(context.Background(), []byte("{}"))
	require.NoError(t, err, "a panic must not surface as a Go error")

	var er ErrorResponse
	require.NoError(t, json.Unmarshal(resp, &er))
	assert.Equal(t, "INTERNAL_ERROR", er.Error)
	assert.Equal(t, 500, er.Code)
	assert.Contains(t, er.Message, "panic: boom")
}

func TestPanicRecoveryMiddleware_PassesThroughResults(t *testing.T) {
	wrapped := PanicRecoveryMiddleware()(func(ctx context.Context, payload []byte) ([]byte, error) {
		return []byte(`{"result":"ok"}`), nil
	})

	resp, err := wrapped(context.Background(), []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, `{"result":"ok"}`, string(resp))

	failing := PanicRecoveryMiddleware()(func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, errors.New("plain failure")
	})
	_, err = failing(context.Background(), nil)
	assert.EqualError(t, err, "plain failure", "ordinary errors are not rewritten")
}

func TestMiddleware_SharesCallScopeWithHandler(t *testing.T) {
	type stampKey struct{}

	stamping := func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			if hc, ok := ctx.(HostContext); ok {
				hc.SetValue(stampKey{}, hc.FunctionName())
			}
			return next(ctx, payload)
		}
	}

	var sawStamp any
	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		if hc, ok := ctx.(HostContext); ok {
			sawStamp, _ = hc.GetValue(stampKey{})
		}
		return nil, nil
	}

	reg, err := NewRegistry(
		WithMiddleware(stamping),
		WithByteHandler("alpha", handler),
	)
	require.NoError(t, err)

	_, err = reg.Invoke(context.Background(), "alpha", nil)
	require.NoError(t, err)
	assert.Equal(t, "alpha", sawStamp)
}

func TestMiddleware_WrapsEveryHandler(t *testing.T) {
	seen := make(map[string]int)
	counting := func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			if hc, ok := ctx.(HostContext); ok {
				seen[hc.FunctionName()]++
			}
			return next(ctx, payload)
		}
	}

	okHandler := func(ctx context.Context, payload []byte) ([]byte, error) { return nil, nil }

	reg, err := NewRegistry(
		WithMiddleware(counting),
		WithByteHandler("first", okHandler),
		WithByteHandler("second", okHandler),
	)
	require.NoError(t, err)

	_, _ = reg.Invoke(context.Background(), "first", nil)
	_, _ = reg.Invoke(context.Background(), "second", nil)
	_, _ = reg.Invoke(context.Background(), "second", nil)

	assert.Equal(t, map[string]int{"first": 1, "second": 2}, seen)
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		return []byte("ok"), nil
	}

	reg, err := NewRegistry(
		WithMiddleware(LoggingMiddleware(logger)),
		WithByteHandler("test", handler),
	)
	require.NoError(t, err)

	_, err = reg.Invoke(context.Background(), "test", nil)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "host function completed")
	assert.Contains(t, out, "function=test")
}

func TestLoggingMiddleware_RecordsFailuresAndCaller(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	failing := LoggingMiddleware(logger)(func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, errors.New("socket closed")
	})

	ctx := HostContextFrom(WithExtensionName(context.Background(), "weather"), "http_fetch")
	_, err := failing(ctx, nil)
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, "host function failed")
	assert.Contains(t, out, "function=http_fetch")
	assert.Contains(t, out, "extension=weather")
	assert.Contains(t, out, "socket closed")
}

func TestLoggingMiddleware_NilLoggerDefaults(t *testing.T) {
	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		return []byte("ok"), nil
	}

	wrapped := LoggingMiddleware(nil)(handler)
	resp, err := wrapped(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp))
}
