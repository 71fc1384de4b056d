package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFoundError_ByName(t *testing.T) {
	err := &NotFoundError{Name: "weather"}

	assert.Equal(t, `extension "weather" not found`, err.Error())
	assert.True(t, errors.Is(err, ErrNotFound))

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "weather", nf.Name)
}

func TestNotFoundError_ByID(t *testing.T) {
	err := &NotFoundError{ID: 42}

	assert.Equal(t, "extension id 42 not found", err.Error())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestInvalidSourceError(t *testing.T) {
	err := &InvalidSourceError{Field: "endpoint", Reason: "must be an absolute URL"}

	assert.Equal(t, "invalid extension source: field endpoint: must be an absolute URL", err.Error())
	assert.True(t, errors.Is(err, ErrInvalidSource))
}

func TestInvalidSourceError_NoField(t *testing.T) {
	err := &InvalidSourceError{Reason: "no source variant set"}

	assert.Equal(t, "invalid extension source: no source variant set", err.Error())
}

func TestInitializationFailedError(t *testing.T) {
	baseErr := fmt.Errorf("handshake rejected")
	err := &InitializationFailedError{Extension: "weather", Err: baseErr}

	assert.Equal(t, "extension weather: initialization failed: handshake rejected", err.Error())
	assert.True(t, errors.Is(err, ErrInitializationFailed))
	assert.True(t, errors.Is(err, baseErr))
}

func TestInitializationFailedError_MessageOnly(t *testing.T) {
	err := &InitializationFailedError{Msg: "status not ready"}

	assert.Equal(t, "initialization failed: status not ready", err.Error())
}

func TestMethodNotFoundError(t *testing.T) {
	err := &MethodNotFoundError{Method: "forecast", Extension: "weather"}

	assert.Equal(t, `extension weather: method "forecast" not found`, err.Error())
	assert.True(t, errors.Is(err, ErrMethodNotFound))

	var mnf *MethodNotFoundError
	require.True(t, errors.As(err, &mnf))
	assert.Equal(t, "forecast", mnf.Method)
}

func TestExtensionError(t *testing.T) {
	err := &ExtensionError{Extension: "weather", Method: "forecast", Msg: "city unknown"}

	assert.Equal(t, "extension weather: method forecast: city unknown", err.Error())
	assert.True(t, errors.Is(err, ErrExtension))
}

func TestExtensionError_MessageOnly(t *testing.T) {
	err := &ExtensionError{Msg: "internal failure"}

	assert.Equal(t, "internal failure", err.Error())
}

func TestProtocolError(t *testing.T) {
	baseErr := fmt.Errorf("connection reset")
	err := &ProtocolError{Protocol: "stdio", Err: baseErr}

	assert.Equal(t, "stdio protocol error: connection reset", err.Error())
	assert.True(t, errors.Is(err, ErrProtocol))
	assert.True(t, errors.Is(err, baseErr))
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{Operation: "call", Extension: "weather", Duration: 30 * time.Second}

	assert.Equal(t, "call timeout after 30s (extension: weather)", err.Error())
	assert.True(t, err.Timeout())
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestTimeoutError_NoExtension(t *testing.T) {
	err := &TimeoutError{Operation: "initialize", Duration: 5 * time.Second}

	assert.Equal(t, "initialize timeout after 5s", err.Error())
}

func TestIOError(t *testing.T) {
	baseErr := fmt.Errorf("broken pipe")
	err := &IOError{Operation: "write", Err: baseErr}

	assert.Equal(t, "i/o write failed: broken pipe", err.Error())
	assert.True(t, errors.Is(err, ErrIO))
	assert.True(t, errors.Is(err, baseErr))
}

func TestSerializationError(t *testing.T) {
	baseErr := fmt.Errorf("unexpected end of JSON input")
	err := &SerializationError{Operation: "decode", Err: baseErr}

	assert.Equal(t, "serialization decode failed: unexpected end of JSON input", err.Error())
	assert.True(t, errors.Is(err, ErrSerialization))
}

func TestErrorUnwrapping(t *testing.T) {
	baseErr := fmt.Errorf("base error")

	tests := []struct {
		name string
		err  error
	}{
		{"InitializationFailedError", &InitializationFailedError{Extension: "test", Err: baseErr}},
		{"ProtocolError", &ProtocolError{Protocol: "test", Err: baseErr}},
		{"IOError", &IOError{Operation: "test", Err: baseErr}},
		{"SerializationError", &SerializationError{Operation: "test", Err: baseErr}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, baseErr), "errors.Is should find base error")
			unwrapped := errors.Unwrap(tt.err)
			assert.Equal(t, baseErr, unwrapped, "errors.Unwrap should return base error")
		})
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"method not found", &MethodNotFoundError{Method: "x"}, CodeMethodNotFound},
		{"not found", &NotFoundError{Name: "x"}, CodeExtensionNotFound},
		{"timeout", &TimeoutError{Operation: "call"}, CodeExtensionTimeout},
		{"initialization", &InitializationFailedError{Msg: "x"}, CodeInitialization},
		{"extension failure", &ExtensionError{Msg: "x"}, CodeExtensionFailure},
		{"extension custom code", &ExtensionError{Msg: "x", Code: -32042}, -32042},
		{"invalid source", &InvalidSourceError{Reason: "x"}, CodeInvalidRequest},
		{"serialization", &SerializationError{Operation: "decode", Err: fmt.Errorf("bad")}, CodeParseError},
		{"unknown", fmt.Errorf("plain"), CodeInternalError},
		{"wrapped not found", fmt.Errorf("lookup: %w", &NotFoundError{Name: "x"}), CodeExtensionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, CodeOf(tt.err))
		})
	}
}

func TestFromCode(t *testing.T) {
	assert.True(t, errors.Is(FromCode(CodeMethodNotFound, "forecast"), ErrMethodNotFound))
	assert.True(t, errors.Is(FromCode(CodeExtensionNotFound, "weather"), ErrNotFound))
	assert.True(t, errors.Is(FromCode(CodeExtensionTimeout, ""), ErrTimeout))
	assert.True(t, errors.Is(FromCode(CodeInitialization, "boom"), ErrInitializationFailed))
	assert.True(t, errors.Is(FromCode(CodeParseError, "bad json"), ErrProtocol))
	assert.True(t, errors.Is(FromCode(CodeExtensionFailure, "boom"), ErrExtension))
}

func TestFromCode_RoundTripsCustomCode(t *testing.T) {
	err := FromCode(-32042, "extension-defined failure")

	var ext *ExtensionError
	require.True(t, errors.As(err, &ext))
	assert.Equal(t, -32042, ext.Code)
	assert.Equal(t, -32042, CodeOf(err))
}

func TestToErrorDetail(t *testing.T) {
	detail := ToErrorDetail(&TimeoutError{Operation: "call", Duration: time.Second})
	require.NotNil(t, detail)
	assert.Equal(t, "timeout", detail.Type)
	assert.True(t, detail.IsTimeout)

	detail = ToErrorDetail(&NotFoundError{Name: "weather"})
	require.NotNil(t, detail)
	assert.Equal(t, "not_found", detail.Type)
	assert.True(t, detail.IsNotFound)

	detail = ToErrorDetail(fmt.Errorf("plain"))
	require.NotNil(t, detail)
	assert.Equal(t, "internal", detail.Type)
	assert.Equal(t, "plain", detail.Message)

	assert.Nil(t, ToErrorDetail(nil))
}
