package httputil

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/openclaw/pairing-relay-go/internal/errors"
)

// RetryAfterSeconds is advertised on responses the caller may retry.
const RetryAfterSeconds = "2"

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string              `json:"error"`
	Code    apperrors.ErrorCode `json:"code"`
	Details any                 `json:"details,omitempty"`
}

// WriteError writes an AppError as an HTTP response with appropriate status code
func WriteError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		// Wrap unknown errors as internal errors
		appErr = apperrors.Internal("An unexpected error occurred")
	}

	if apperrors.IsRetryable(appErr) {
		w.Header().Set("Retry-After", RetryAfterSeconds)
	}

	status := StatusFromCode(appErr.Code)
	response := ErrorResponse{
		Error:   appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
	}

	WriteJSON(w, status, response)
}

// StatusFromCode maps ErrorCode to HTTP status code
func StatusFromCode(code apperrors.ErrorCode) int {
	switch code {
	// 400 Bad Request
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest

	// 404 Not Found
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound

	// 409 Conflict
	case apperrors.ErrCodeAlreadyClaimed:
		return http.StatusConflict

	// 410 Gone
	case apperrors.ErrCodeExpired:
		return http.StatusGone

	// 429 Too Many Requests
	case apperrors.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests

	// 503 Service Unavailable
	case apperrors.ErrCodeStoreUnavailable,
		apperrors.ErrCodeCollisionExhausted:
		return http.StatusServiceUnavailable

	// 500 Internal Server Error
	case apperrors.ErrCodeInternal:
		return http.StatusInternalServerError

	default:
		return http.StatusInternalServerError
	}
}

// CodeFromStatus is the inverse used by clients when a body lacks a code.
func CodeFromStatus(status int) apperrors.ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return apperrors.ErrCodeValidation
	case http.StatusNotFound:
		return apperrors.ErrCodeNotFound
	case http.StatusConflict:
		return apperrors.ErrCodeAlreadyClaimed
	case http.StatusGone:
		return apperrors.ErrCodeExpired
	case http.StatusTooManyRequests:
		return apperrors.ErrCodeRateLimitExceeded
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return apperrors.ErrCodeStoreUnavailable
	default:
		return apperrors.ErrCodeInternal
	}
}
