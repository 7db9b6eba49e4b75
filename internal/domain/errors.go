package domain

import "fmt"

// ParseError tags an analyzer output that could not be decoded into an
// AnalyzerReport. The boundary parser attaches it to the substituted default
// report; it is recorded, never propagated as a fatal error.
type ParseError struct {
	Analyzer string `json:"analyzer"`
	Reason   string `json:"reason"`
	Preview  string `json:"preview,omitempty"` // truncated raw input, never full text
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable report from %q: %s", e.Analyzer, e.Reason)
}

// NewParseError creates a ParseError with a bounded preview of the raw input.
func NewParseError(analyzer, reason, raw string) *ParseError {
	const previewLen = 80
	if len(raw) > previewLen {
		raw = raw[:previewLen]
	}
	return &ParseError{Analyzer: analyzer, Reason: reason, Preview: raw}
}

// ValidationError represents an input validation failure on a named field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %q: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
