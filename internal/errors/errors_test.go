package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := New(ErrCodeInvalidInput, "top_k must be positive", nil)
	assert.Equal(t, "[ERR_401_INVALID_INPUT] top_k must be positive", err.Error())

	cause := stderrors.New("connection refused")
	wrapped := New(ErrCodeRetrievalFailed, "vector search failed", cause)
	assert.Equal(t, "[ERR_503_RETRIEVAL_FAILED] vector search failed: connection refused", wrapped.Error())
}

func TestErrorUnwrap(t *testing.T) {
	cause := stderrors.New("disk full")
	err := New(ErrCodeIndexBuild, "build failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestErrorIsMatchesByCode(t *testing.T) {
	a := New(ErrCodeRetrievalFailed, "one message", nil)
	b := New(ErrCodeRetrievalFailed, "different message", nil)
	c := New(ErrCodeInvalidInput, "one message", nil)

	assert.ErrorIs(t, a, b)
	assert.NotErrorIs(t, a, c)
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))

	cause := stderrors.New("boom")
	err := Wrap(ErrCodeInternal, cause)
	require.NotNil(t, err)
	assert.Equal(t, "boom", err.Message)
	assert.ErrorIs(t, err, cause)
}

func TestConstructorHelpers(t *testing.T) {
	assert.Equal(t, ErrCodeInvalidInput, InvalidParameter("bad").Code)
	assert.Equal(t, CategoryValidation, InvalidParameter("bad").Category)

	cause := stderrors.New("timeout")
	r := Retrieval("keyword search failed", cause)
	assert.Equal(t, ErrCodeRetrievalFailed, r.Code)
	assert.ErrorIs(t, r, cause)

	ib := IndexBuild("duplicate chunk ID", nil)
	assert.Equal(t, ErrCodeIndexBuild, ib.Code)
	assert.Equal(t, CategoryInternal, ib.Category)
}

func TestRetryableClassification(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrCodeNetworkTimeout, "timed out", nil)))
	assert.True(t, IsRetryable(New(ErrCodeRetrievalFailed, "failed", nil)))
	assert.False(t, IsRetryable(New(ErrCodeInvalidInput, "bad input", nil)))
	assert.False(t, IsRetryable(stderrors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeInvalidInput, GetCode(InvalidParameter("bad")))
	assert.Empty(t, GetCode(stderrors.New("plain")))
	assert.Empty(t, GetCode(nil))
}

func TestGetCategory(t *testing.T) {
	assert.Equal(t, CategoryNetwork, GetCategory(New(ErrCodeNetworkTimeout, "t", nil)))
	assert.Empty(t, GetCategory(stderrors.New("plain")))
}

func TestErrorsAsThroughFmtWrap(t *testing.T) {
	inner := InvalidParameter("top_k must be positive")
	outer := fmt.Errorf("request rejected: %w", inner)

	var de *Error
	require.ErrorAs(t, outer, &de)
	assert.Equal(t, ErrCodeInvalidInput, de.Code)
}
