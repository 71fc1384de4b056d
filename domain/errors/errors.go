// Package errors provides the error taxonomy surfaced by every protocol
// adapter and by the extension manager. All error types support unwrapping
// via errors.As() and sentinel matching via errors.Is().
package errors

import (
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/gantry-dev/gantry/domain/entities"
)

// Sentinel kinds. Typed errors match these through errors.Is so callers can
// branch on the category without knowing the concrete struct.
var (
	ErrNotFound             = stdErrors.New("extension not found")
	ErrInvalidSource        = stdErrors.New("invalid extension source")
	ErrInitializationFailed = stdErrors.New("extension initialization failed")
	ErrMethodNotFound       = stdErrors.New("method not found")
	ErrExtension            = stdErrors.New("extension reported failure")
	ErrProtocol             = stdErrors.New("protocol failure")
	ErrTimeout              = stdErrors.New("call timed out")
	ErrIO                   = stdErrors.New("i/o failure")
	ErrSerialization        = stdErrors.New("serialization failure")
)

// JSON-RPC numeric codes used on the wire. The -32000..-32099 range is
// reserved for extension failures; codes inside it that this table does not
// name pass through verbatim.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeExtensionFailure  = -32000
	CodeExtensionNotFound = -32001
	CodeExtensionTimeout  = -32002
	CodeNotLoaded         = -32003
	CodeInitialization    = -32004
)

// ErrorDetail is an alias to entities.ErrorDetail for convenience.
type ErrorDetail = entities.ErrorDetail

// DetailedError is an interface for error types that can convert themselves
// to a structured ErrorDetail for the wire.
type DetailedError interface {
	error
	ToErrorDetail() *entities.ErrorDetail
}

// ToErrorDetail converts a Go error to a structured ErrorDetail, recognizing
// the taxonomy's typed errors and categorizing everything else as internal.
func ToErrorDetail(err error) *entities.ErrorDetail {
	if err == nil {
		return nil
	}

	var e *entities.ErrorDetail
	if stdErrors.As(err, &e) {
		return e
	}

	var de DetailedError
	if stdErrors.As(err, &de) {
		return de.ToErrorDetail()
	}

	return &entities.ErrorDetail{
		Message: err.Error(),
		Type:    "internal",
	}
}

// CodeOf maps an error to its JSON-RPC numeric code.
func CodeOf(err error) int {
	var ext *ExtensionError
	if stdErrors.As(err, &ext) && ext.Code != 0 {
		return ext.Code
	}
	switch {
	case stdErrors.Is(err, ErrMethodNotFound):
		return CodeMethodNotFound
	case stdErrors.Is(err, ErrNotFound):
		return CodeExtensionNotFound
	case stdErrors.Is(err, ErrTimeout):
		return CodeExtensionTimeout
	case stdErrors.Is(err, ErrInitializationFailed):
		return CodeInitialization
	case stdErrors.Is(err, ErrExtension):
		return CodeExtensionFailure
	case stdErrors.Is(err, ErrInvalidSource):
		return CodeInvalidRequest
	case stdErrors.Is(err, ErrSerialization):
		return CodeParseError
	default:
		return CodeInternalError
	}
}

// FromCode rebuilds a taxonomy error from a wire code and message. Used by
// transport adapters when decoding remote error replies.
func FromCode(code int, message string) error {
	switch code {
	case CodeMethodNotFound:
		return &MethodNotFoundError{Method: message}
	case CodeExtensionNotFound:
		return &NotFoundError{Name: message}
	case CodeExtensionTimeout:
		return &TimeoutError{Operation: "call"}
	case CodeInitialization:
		return &InitializationFailedError{Msg: message}
	case CodeParseError, CodeInvalidRequest, CodeInvalidParams:
		return &ProtocolError{Msg: fmt.Sprintf("remote rejected request (%d): %s", code, message)}
	default:
		return &ExtensionError{Msg: message, Code: code}
	}
}

// NotFoundError reports an unknown extension id or name.
type NotFoundError struct {
	Name string
	ID   entities.ExtensionID
}

func (e *NotFoundError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("extension %q not found", e.Name)
	}
	return fmt.Sprintf("extension id %d not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ToErrorDetail implements DetailedError.
func (e *NotFoundError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "not_found", Code: e.Name, IsNotFound: true}
}

// InvalidSourceError reports a rejected ExtensionConfig before any unit is
// created. Field names the offending configuration field when known.
type InvalidSourceError struct {
	Field  string
	Reason string
}

func (e *InvalidSourceError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid extension source: field %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid extension source: %s", e.Reason)
}

func (e *InvalidSourceError) Is(target error) bool { return target == ErrInvalidSource }

// ToErrorDetail implements DetailedError.
func (e *InvalidSourceError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "invalid_source", Code: e.Field}
}

// InitializationFailedError reports a failed extension initialize handshake.
type InitializationFailedError struct {
	Err       error
	Extension string
	Msg       string
}

func (e *InitializationFailedError) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Extension != "" {
		return fmt.Sprintf("extension %s: initialization failed: %s", e.Extension, msg)
	}
	return fmt.Sprintf("initialization failed: %s", msg)
}

func (e *InitializationFailedError) Unwrap() error { return e.Err }

func (e *InitializationFailedError) Is(target error) bool { return target == ErrInitializationFailed }

// ToErrorDetail implements DetailedError.
func (e *InitializationFailedError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "initialization", Code: e.Extension}
}

// MethodNotFoundError reports a call against a method the extension does not
// declare.
type MethodNotFoundError struct {
	Method    string
	Extension string
}

func (e *MethodNotFoundError) Error() string {
	if e.Extension != "" {
		return fmt.Sprintf("extension %s: method %q not found", e.Extension, e.Method)
	}
	return fmt.Sprintf("method %q not found", e.Method)
}

func (e *MethodNotFoundError) Is(target error) bool { return target == ErrMethodNotFound }

// ToErrorDetail implements DetailedError.
func (e *MethodNotFoundError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "method_not_found", Code: e.Method}
}

// ExtensionError is a failure reported by the extension's own logic, not a
// host or transport bug. It is returned to the caller as-is and never
// retried. Code carries an extension-defined value in the -32000..-32099
// range when present.
type ExtensionError struct {
	Extension string
	Method    string
	Msg       string
	Code      int
}

func (e *ExtensionError) Error() string {
	switch {
	case e.Extension != "" && e.Method != "":
		return fmt.Sprintf("extension %s: method %s: %s", e.Extension, e.Method, e.Msg)
	case e.Extension != "":
		return fmt.Sprintf("extension %s: %s", e.Extension, e.Msg)
	default:
		return e.Msg
	}
}

func (e *ExtensionError) Is(target error) bool { return target == ErrExtension }

// ToErrorDetail implements DetailedError.
func (e *ExtensionError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "extension", Code: e.Method}
}

// ProtocolError reports a failure in the transport channel itself: process
// died, connection refused, malformed frame.
type ProtocolError struct {
	Err      error
	Protocol string
	Msg      string
}

func (e *ProtocolError) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Protocol != "" {
		return fmt.Sprintf("%s protocol error: %s", e.Protocol, msg)
	}
	return fmt.Sprintf("protocol error: %s", msg)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// ToErrorDetail implements DetailedError.
func (e *ProtocolError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "protocol", Code: e.Protocol}
}

// TimeoutError reports an expired call deadline. The underlying work may
// still be running; callers must treat this as an unknown outcome, not a
// failure.
type TimeoutError struct {
	Operation string
	Extension string
	Duration  time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Extension != "" {
		return fmt.Sprintf("%s timeout after %v (extension: %s)", e.Operation, e.Duration, e.Extension)
	}
	return fmt.Sprintf("%s timeout after %v", e.Operation, e.Duration)
}

func (e *TimeoutError) Timeout() bool { return true }

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ToErrorDetail implements DetailedError.
func (e *TimeoutError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "timeout", Code: e.Operation, IsTimeout: true}
}

// IOError reports a read/write failure against an extension's channel.
type IOError struct {
	Err       error
	Operation string
}

func (e *IOError) Error() string {
	return fmt.Sprintf("i/o %s failed: %v", e.Operation, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }

// ToErrorDetail implements DetailedError.
func (e *IOError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "io", Code: e.Operation}
}

// SerializationError reports malformed bytes at an envelope or frame
// boundary.
type SerializationError struct {
	Err       error
	Operation string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization %s failed: %v", e.Operation, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }

// ToErrorDetail implements DetailedError.
func (e *SerializationError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "serialization", Code: e.Operation}
}
