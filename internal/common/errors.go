package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Pipeline errors.
	ErrEmptyOCRText    = errors.New("ocr produced insufficient text")
	ErrExtractionEmpty = errors.New("extraction returned no fields")

	// Import errors.
	ErrRunActive   = errors.New("import already running for this configuration")
	ErrRunNotFound = errors.New("import run not found")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ExtractionError marks a terminal extraction-stage failure. Invoices
// that hit one are rejected and not retried automatically.
type ExtractionError struct {
	Err  error
	Step string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed at %s: %v", e.Step, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// NewExtractionError wraps an error with the pipeline step it occurred in.
func NewExtractionError(step string, err error) error {
	return &ExtractionError{Step: step, Err: err}
}

// MatchingError marks a failure of the primary scoring collaborator. It
// is recovered locally by the deterministic fallback and never surfaces
// as an invoice failure.
type MatchingError struct {
	Err       error
	ProjectID string
}

func (e *MatchingError) Error() string {
	return fmt.Sprintf("scoring project %s: %v", e.ProjectID, e.Err)
}

func (e *MatchingError) Unwrap() error {
	return e.Err
}

// ImportProcessError is a terminal failure of the import subprocess,
// carrying the operator-readable message derived from stderr.
type ImportProcessError struct {
	Err     error
	Message string
}

func (e *ImportProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ImportProcessError) Unwrap() error {
	return e.Err
}

// ProtocolError marks a malformed inbound message (WebSocket or
// subprocess line). These are logged and dropped, never fatal.
type ProtocolError struct {
	Err error
	Raw string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed message %q: %v", e.Raw, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
