package errors

import (
	"fmt"
)

// EngineError is the structured error type for the retrieval engine.
// It provides rich context for error handling, logging, and operator
// presentation.
type EngineError struct {
	// Code is the unique error code (e.g., "ERR_301_EMBEDDING_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Backend, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with EngineError sentinels.
func (e *EngineError) Is(target error) bool {
	if t, ok := target.(*EngineError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *EngineError) WithDetail(key, value string) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new EngineError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *EngineError {
	return &EngineError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an EngineError from an existing error.
// The error's message becomes the EngineError message.
func Wrap(code string, err error) *EngineError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinel errors covering the engine's error taxonomy. Callers compare
// with errors.Is; sites producing them wrap with %w to attach context.
var (
	// ErrEmbeddingUnavailable is returned when the embedding service stays
	// unreachable after the retry budget is exhausted.
	ErrEmbeddingUnavailable = New(ErrCodeEmbeddingUnavailable, "embedding service unavailable", nil)

	// ErrBackendUnavailable is returned on transport failures to an
	// external vector store backend.
	ErrBackendUnavailable = New(ErrCodeBackendUnavailable, "vector store backend unavailable", nil)

	// ErrTimeout is returned when a query exceeds its deadline.
	ErrTimeout = New(ErrCodeQueryTimeout, "query timed out", nil)

	// ErrPartialIngest is returned when ingestion fails mid-batch, leaving
	// the document in the Indexing state. Re-running the same ingest call
	// resumes from the recorded partial chunk set.
	ErrPartialIngest = New(ErrCodePartialIngest, "ingestion incomplete, retry to resume", nil)
)

// IsRetryable checks if an error is retryable.
// Returns true if the error is an EngineError with the Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ee, ok := err.(*EngineError); ok {
		return ee.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ee, ok := err.(*EngineError); ok {
		return ee.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an EngineError.
// Returns empty string if not an EngineError.
func GetCode(err error) string {
	if ee, ok := err.(*EngineError); ok {
		return ee.Code
	}
	return ""
}
