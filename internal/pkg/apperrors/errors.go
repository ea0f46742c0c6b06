package apperrors

import (
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrCooldown       ErrorType = "COOLDOWN"
	ErrRateLimited    ErrorType = "RATE_LIMITED"
	ErrExhausted      ErrorType = "EXHAUSTED"
	ErrProvider       ErrorType = "PROVIDER_ERROR"
	ErrValidation     ErrorType = "VALIDATION_ISSUE"
	ErrInvalidRequest ErrorType = "INVALID_REQUEST"
	ErrNotFound       ErrorType = "NOT_FOUND"
	ErrInternal       ErrorType = "INTERNAL_ERROR"
	ErrUpstream       ErrorType = "UPSTREAM_ERROR"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func NewCooldown(msg string) *AppError {
	return New(ErrCooldown, msg, nil)
}

func NewProvider(msg string, cause error) *AppError {
	return New(ErrProvider, msg, cause)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrInvalidRequest, ErrValidation:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrCooldown, ErrRateLimited, ErrExhausted:
		return http.StatusTooManyRequests
	case ErrProvider, ErrUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrCooldown:
		return "Key is cooling down after a failed attempt. Retry later."
	case ErrRateLimited, ErrExhausted:
		return "Provider rate limit hit. Reduce request volume."
	case ErrProvider, ErrUpstream:
		return "Upstream provider failed. Check provider status."
	default:
		return ""
	}
}
