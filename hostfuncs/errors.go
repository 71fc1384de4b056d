package hostfuncs

import (
	"encoding/json"
	"fmt"
)

// Error kinds carried in ErrorResponse.Error. Extensions branch on these,
// so they are part of the host-call wire contract.
const (
	errKindValidation = "VALIDATION_ERROR"
	errKindNotFound   = "NOT_FOUND"
	errKindInternal   = "INTERNAL_ERROR"
)

// ErrorResponse is the structured failure payload of a host call. Failures
// travel as JSON the extension can parse instead of trapping the sandbox.
type ErrorResponse struct {
	// Error is the machine-readable kind.
	Error string `json:"error"`

	// Message describes the failure for extension logs.
	Message string `json:"message"`

	// Code is the numeric status, HTTP-flavored.
	Code int `json:"code"`
}

// ToJSON renders the payload for the transport.
func (e ErrorResponse) ToJSON() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return data
}

// NewValidationError reports malformed input, typically a request body
// that failed to decode.
func NewValidationError(message string) ErrorResponse {
	return ErrorResponse{Error: errKindValidation, Message: message, Code: 400}
}

// NewNotFoundError reports an unknown host function name.
func NewNotFoundError(name string) ErrorResponse {
	return ErrorResponse{Error: errKindNotFound, Message: "unknown host function: " + name, Code: 404}
}

// NewInternalError reports a failure inside the handler.
func NewInternalError(message string) ErrorResponse {
	return ErrorResponse{Error: errKindInternal, Message: message, Code: 500}
}

// NewPanicError reports a recovered handler panic.
func NewPanicError(v any) ErrorResponse {
	var msg string
	switch p := v.(type) {
	case error:
		msg = p.Error()
	case string:
		msg = p
	default:
		msg = fmt.Sprintf("%v", p)
	}
	return NewInternalError("panic: " + msg)
}
