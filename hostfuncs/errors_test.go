package hostfuncs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorResponse_WireShape(t *testing.T) {
	got := NewValidationError("invalid JSON").ToJSON()
	require.NotNil(t, got)
	assert.JSONEq(t, `{"error":"VALIDATION_ERROR","message":"invalid JSON","code":400}`, string(got))
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name string
		resp ErrorResponse
		kind string
		msg  string
		code int
	}{
		{
			name: "validation",
			resp: NewValidationError("failed to unmarshal request"),
			kind: "VALIDATION_ERROR",
			msg:  "failed to unmarshal request",
			code: 400,
		},
		{
			name: "not found names the function",
			resp: NewNotFoundError("unknown_func"),
			kind: "NOT_FOUND",
			msg:  "unknown host function: unknown_func",
			code: 404,
		},
		{
			name: "internal",
			resp: NewInternalError("cache store unavailable"),
			kind: "INTERNAL_ERROR",
			msg:  "cache store unavailable",
			code: 500,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, tc.resp.Error)
			assert.Equal(t, tc.msg, tc.resp.Message)
			assert.Equal(t, tc.code, tc.resp.Code)
		})
	}
}

func TestNewPanicError_NormalizesValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"string", "oops", "panic: oops"},
		{"error", errors.New("broken pipe"), "panic: broken pipe"},
		{"arbitrary value", 42, "panic: 42"},
		{"nil", nil, "panic: <nil>"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := NewPanicError(tc.value)
			assert.Equal(t, "INTERNAL_ERROR", resp.Error)
			assert.Equal(t, tc.want, resp.Message)
			assert.Equal(t, 500, resp.Code)
		})
	}
}
