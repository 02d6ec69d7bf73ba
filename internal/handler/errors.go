package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ApiError is the error payload returned by every endpoint.
type ApiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ApiErrorResponse wraps ApiError under an "error" key.
type ApiErrorResponse struct {
	Error ApiError `json:"error"`
}

// newError creates an ApiError with the given code and message
func newError(code, message string) ApiError {
	return ApiError{
		Code:    code,
		Message: message,
	}
}

// newErrorResponse creates an ApiErrorResponse with the given code and message
func newErrorResponse(code, message string) ApiErrorResponse {
	return ApiErrorResponse{
		Error: newError(code, message),
	}
}

// Common error codes
const (
	ErrCodeInvalidJSON        = "INVALID_JSON"
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeImagePersistFailed = "IMAGE_PERSIST_FAILED"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, newErrorResponse(code, message))
}

// WriteInternalError reports an unexpected failure without leaking details.
func WriteInternalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "An internal error occurred")
}
