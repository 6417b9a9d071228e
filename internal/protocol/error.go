package protocol

import (
	"context"
	"errors"
	"net/http"
)

// Anthropic error types, by HTTP status.
const (
	ErrTypeInvalidRequest  = "invalid_request_error"
	ErrTypeAuthentication  = "authentication_error"
	ErrTypePermission      = "permission_error"
	ErrTypeNotFound        = "not_found_error"
	ErrTypeRequestTooLarge = "request_too_large"
	ErrTypeRateLimit       = "rate_limit_error"
	ErrTypeAPI             = "api_error"
	ErrTypeOverloaded      = "overloaded_error"
)

// ErrorResponse is the envelope for error replies
type ErrorResponse struct {
	Type  string      `json:"type,omitempty"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// NewErrorResponse builds an Anthropic-shaped error body.
func NewErrorResponse(errType, message string) ErrorResponse {
	return ErrorResponse{
		Type: "error",
		Error: ErrorDetail{
			Message: message,
			Type:    errType,
		},
	}
}

// ErrorTypeForStatus maps an HTTP status to the Anthropic error type the
// Messages API would report for it.
func ErrorTypeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return ErrTypeInvalidRequest
	case http.StatusUnauthorized:
		return ErrTypeAuthentication
	case http.StatusForbidden:
		return ErrTypePermission
	case http.StatusNotFound:
		return ErrTypeNotFound
	case http.StatusRequestEntityTooLarge:
		return ErrTypeRequestTooLarge
	case http.StatusTooManyRequests:
		return ErrTypeRateLimit
	case 529:
		return ErrTypeOverloaded
	default:
		return ErrTypeAPI
	}
}

// IsContextCanceled checks if the error is due to context cancellation.
func IsContextCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
