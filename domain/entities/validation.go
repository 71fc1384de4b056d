package entities

import "strings"

// ValidationResult represents the outcome of validating a declaration or a
// capability schema.
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// ValidationError represents a specific validation error.
type ValidationError struct {
	Field   string
	Message string
}

// FirstField returns the field of the first error, or "" when valid.
func (r ValidationResult) FirstField() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Field
}

// Summary joins all error messages into one line for logs and error text.
func (r ValidationResult) Summary() string {
	if len(r.Errors) == 0 {
		return ""
	}
	parts := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		if e.Field != "" {
			parts[i] = e.Field + ": " + e.Message
		} else {
			parts[i] = e.Message
		}
	}
	return strings.Join(parts, "; ")
}
