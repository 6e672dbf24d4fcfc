package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDerivesClassificationFromCode(t *testing.T) {
	cases := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityFatal, false},
		{ErrCodeStateStore, CategoryStorage, SeverityError, false},
		{ErrCodeEmbeddingUnavailable, CategoryBackend, SeverityError, true},
		{ErrCodeDimensionMismatch, CategoryValidation, SeverityFatal, false},
		{ErrCodePartialIngest, CategoryInternal, SeverityWarning, true},
		{ErrCodeSearchFailed, CategoryInternal, SeverityError, false},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			err := New(tc.code, "boom", nil)
			assert.Equal(t, tc.category, err.Category)
			assert.Equal(t, tc.severity, err.Severity)
			assert.Equal(t, tc.retryable, err.Retryable)
			assert.Equal(t, tc.retryable, IsRetryable(err))
		})
	}
}

func TestErrorStringIncludesCode(t *testing.T) {
	err := New(ErrCodeInvalidQuery, "query text is empty", nil)
	assert.Equal(t, "[ERR_402_INVALID_QUERY] query text is empty", err.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("disk full")

	err := Wrap(ErrCodeStateStore, cause)

	require.NotNil(t, err)
	assert.Equal(t, ErrCodeStateStore, err.Code)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeStateStore, nil))
}

func TestSentinelMatchingByCode(t *testing.T) {
	// Two independently constructed errors with the same code match
	// through errors.Is, so call sites compare against sentinels even
	// when the producing site built its own message.
	produced := New(ErrCodeEmbeddingUnavailable, "gateway gave up after 5 attempts", nil)

	assert.ErrorIs(t, produced, ErrEmbeddingUnavailable)
	assert.NotErrorIs(t, produced, ErrBackendUnavailable)

	// Matching survives further wrapping with %w.
	wrapped := fmt.Errorf("query failed: %w", produced)
	assert.ErrorIs(t, wrapped, ErrEmbeddingUnavailable)
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeQueryTimeout, GetCode(New(ErrCodeQueryTimeout, "deadline", nil)))
	assert.Empty(t, GetCode(stderrors.New("plain")))
	assert.Empty(t, GetCode(nil))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(New(ErrCodeCorruptIndex, "bad postings", nil)))
	assert.False(t, IsFatal(New(ErrCodeSearchFailed, "both branches failed", nil)))
	assert.False(t, IsFatal(nil))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrCodeInvalidChunk, "no text", nil).
		WithDetail("document_id", "doc-1").
		WithDetail("seq", "3")

	assert.Equal(t, "doc-1", err.Details["document_id"])
	assert.Equal(t, "3", err.Details["seq"])
}
