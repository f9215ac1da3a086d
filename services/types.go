package services

import (
	"errors"
	"net/http"
)

// ServiceError represents structured service layer errors
type ServiceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e ServiceError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e ServiceError) Unwrap() error { return e.Cause }

// Common error codes
const (
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// HTTPStatus maps an error from this package to a response status.
func HTTPStatus(err error) int {
	var se ServiceError
	if !errors.As(err, &se) {
		return http.StatusInternalServerError
	}
	switch se.Code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// AsServiceError returns err as a ServiceError, wrapping unknown errors as internal.
func AsServiceError(err error) ServiceError {
	var se ServiceError
	if errors.As(err, &se) {
		return se
	}
	return ServiceError{Code: ErrCodeInternal, Message: "Internal error", Cause: err}
}
