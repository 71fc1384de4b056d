package entities

import "fmt"

// ErrorDetail is the structured error carried on the wire. Adapters attach
// one to a response instead of failing the transport, so extensions always
// see why an operation was refused. Type takes values like "not_found",
// "invalid_source", "initialization", "method_not_found", "extension",
// "protocol", "timeout", "io", "serialization", "panic" and "internal".
type ErrorDetail struct {
	// Type names the error category.
	Type string `json:"type"`

	// Code is a stable machine-matchable identifier, such as
	// "VALIDATION_ERROR".
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// IsTimeout marks deadline failures so callers can retry.
	IsTimeout bool `json:"is_timeout,omitempty"`

	// IsNotFound marks missing-resource failures.
	IsNotFound bool `json:"is_not_found,omitempty"`

	// Details carries additional context keyed by field name.
	Details map[string]any `json:"details,omitempty"`

	// Wrapped is the underlying cause, itself wire-encodable.
	Wrapped *ErrorDetail `json:"wrapped,omitempty"`

	// Stack holds the stack trace for panic errors.
	Stack []byte `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *ErrorDetail) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Type != "" && e.Type != "internal" {
		msg = e.Type + ": " + msg
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Code)
	}
	if e.Wrapped != nil {
		msg = msg + ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap exposes the wrapped cause to errors.Is and errors.As.
func (e *ErrorDetail) Unwrap() error {
	if e == nil || e.Wrapped == nil {
		return nil
	}
	return e.Wrapped
}
