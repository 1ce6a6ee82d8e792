package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	e := NewError(ErrNotFound, "thread missing")
	assert.Equal(t, "[NOT_FOUND] thread missing", e.Error())

	withCause := NewError(ErrInternal, "query failed").WithCause(errors.New("connection reset"))
	assert.Equal(t, "[INTERNAL_ERROR] query failed: connection reset", withCause.Error())
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root")
	e := NewError(ErrExecution, "target failed").WithCause(cause)

	assert.ErrorIs(t, e, cause)
}

func TestNewErrorf(t *testing.T) {
	e := NewErrorf(ErrValidation, "invalid policy %q", "drop")
	assert.Equal(t, ErrValidation, e.Code)
	assert.Equal(t, `invalid policy "drop"`, e.Message)
}

func TestErrorBuilders(t *testing.T) {
	e := NewError(ErrTimeout, "deadline exceeded").
		WithHTTPStatus(504).
		WithRetryable(true)

	assert.Equal(t, 504, e.HTTPStatus)
	assert.True(t, e.Retryable)
}

func TestGetErrorCode(t *testing.T) {
	base := NewError(ErrConflict, "thread busy")

	assert.Equal(t, ErrConflict, GetErrorCode(base))
	assert.Equal(t, ErrConflict, GetErrorCode(fmt.Errorf("submit: %w", base)))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(nil))
}

func TestIsCode(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewError(ErrCancelled, "interrupted"))

	require.True(t, IsCode(wrapped, ErrCancelled))
	assert.False(t, IsCode(wrapped, ErrTimeout))
	assert.False(t, IsCode(nil, ErrCancelled))
}
