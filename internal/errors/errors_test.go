package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeNotFound, "Pairing session not found")
		assert.Equal(t, "NOT_FOUND: Pairing session not found", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("dial tcp: connection refused")
		err := StoreUnavailable(cause)
		assert.Contains(t, err.Error(), "STORE_UNAVAILABLE")
		assert.Contains(t, err.Error(), "Session store unavailable")
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails adds details to error", func(t *testing.T) {
		details := map[string]string{"field": "code", "reason": "invalid format"}
		err := New(ErrCodeValidation, "Validation failed").WithDetails(details)
		assert.Equal(t, details, err.Details)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"ValidationError", func() *AppError { return ValidationError("test") }, ErrCodeValidation},
		{"NotFound", func() *AppError { return NotFound("Pairing session") }, ErrCodeNotFound},
		{"AlreadyClaimed", func() *AppError { return AlreadyClaimed() }, ErrCodeAlreadyClaimed},
		{"Expired", func() *AppError { return Expired() }, ErrCodeExpired},
		{"CollisionExhausted", func() *AppError { return CollisionExhausted(5) }, ErrCodeCollisionExhausted},
		{"RateLimitExceeded", func() *AppError { return RateLimitExceeded() }, ErrCodeRateLimitExceeded},
		{"StoreUnavailable", func() *AppError { return StoreUnavailable(errors.New("down")) }, ErrCodeStoreUnavailable},
		{"Internal", func() *AppError { return Internal("test") }, ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.constructor()
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestIsAppError(t *testing.T) {
	t.Run("returns true for AppError", func(t *testing.T) {
		assert.True(t, IsAppError(NotFound("Pairing session")))
	})

	t.Run("returns true for wrapped AppError", func(t *testing.T) {
		err := fmt.Errorf("claim: %w", AlreadyClaimed())
		assert.True(t, IsAppError(err))
	})

	t.Run("returns false for plain error", func(t *testing.T) {
		assert.False(t, IsAppError(errors.New("plain")))
	})
}

func TestGetCode(t *testing.T) {
	t.Run("returns code for AppError", func(t *testing.T) {
		assert.Equal(t, ErrCodeExpired, GetCode(Expired()))
	})

	t.Run("returns internal for unknown error", func(t *testing.T) {
		assert.Equal(t, ErrCodeInternal, GetCode(errors.New("boom")))
	})
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(StoreUnavailable(errors.New("timeout"))))
	assert.True(t, IsRetryable(fmt.Errorf("get status: %w", StoreUnavailable(nil))))

	assert.False(t, IsRetryable(AlreadyClaimed()))
	assert.False(t, IsRetryable(Expired()))
	assert.False(t, IsRetryable(NotFound("Pairing session")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestIs(t *testing.T) {
	assert.True(t, Is(Expired(), ErrCodeExpired))
	assert.False(t, Is(Expired(), ErrCodeAlreadyClaimed))
	assert.False(t, Is(nil, ErrCodeExpired))
}
