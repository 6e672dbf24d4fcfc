// Package errors provides structured error handling for the retrieval engine.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Index and state-store errors
//   - 3XX: Backend errors (embedding service, vector store, timeouts)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates index and state-store errors.
	CategoryStorage Category = "STORAGE"
	// CategoryBackend indicates errors from external backends.
	CategoryBackend Category = "BACKEND"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Index and state-store errors (200-299)
	ErrCodeStateStore   = "ERR_201_STATE_STORE"
	ErrCodeCorruptIndex = "ERR_202_CORRUPT_INDEX"
	ErrCodeIndexLocked  = "ERR_203_INDEX_LOCKED"

	// Backend errors (300-399) - transient, retried with backoff
	ErrCodeEmbeddingUnavailable = "ERR_301_EMBEDDING_UNAVAILABLE"
	ErrCodeBackendUnavailable   = "ERR_302_BACKEND_UNAVAILABLE"
	ErrCodeQueryTimeout         = "ERR_303_QUERY_TIMEOUT"

	// Validation errors (400-499)
	ErrCodeDimensionMismatch = "ERR_401_DIMENSION_MISMATCH"
	ErrCodeInvalidQuery      = "ERR_402_INVALID_QUERY"
	ErrCodeInvalidChunk      = "ERR_403_INVALID_CHUNK"
	ErrCodeInvalidVersion    = "ERR_404_INVALID_VERSION"

	// Internal errors (500-599)
	ErrCodeInternal      = "ERR_501_INTERNAL"
	ErrCodeSearchFailed  = "ERR_502_SEARCH_FAILED"
	ErrCodeIngestFailed  = "ERR_503_INGEST_FAILED"
	ErrCodePartialIngest = "ERR_504_PARTIAL_INGEST"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract leading digit of the numeric portion
	// (e.g., '3' from "ERR_301_EMBEDDING_UNAVAILABLE")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryBackend
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode derives severity from error code.
// Dimension mismatch and corrupt-index errors are fatal: they indicate
// index misconfiguration that no retry can repair.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeConfigInvalid, ErrCodeDimensionMismatch, ErrCodeCorruptIndex:
		return SeverityFatal
	case ErrCodePartialIngest:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether operations failing with this code
// may be retried. Only transient backend failures qualify.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEmbeddingUnavailable, ErrCodeBackendUnavailable, ErrCodePartialIngest:
		return true
	default:
		return false
	}
}
