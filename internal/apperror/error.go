// Package apperror maps domain errors to operator-facing HTTP errors.
package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"clubattend/internal/attendance"
)

const (
	CodeInvalidInput  = "INVALID_INPUT"
	CodeInvalidCode   = "INVALID_CODE"
	CodeScopeMismatch = "SCOPE_MISMATCH"
	CodeNotFound      = "NOT_FOUND"
	CodeRecordFailed  = "RECORD_FAILED"
	CodeInternalError = "INTERNAL_ERROR"
)

type AppError struct {
	Code       string // Error code (e.g., INVALID_CODE)
	Message    string // Operator-facing message
	HTTPStatus int
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(err error, code, message string, httpStatus int) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// From classifies err. Unknown errors become internal errors.
func From(err error) *AppError {
	var appErr *AppError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, attendance.ErrInvalidCode):
		return Wrap(err, CodeInvalidCode, "Invalid attendance code", http.StatusBadRequest)
	case errors.Is(err, attendance.ErrScopeMismatch):
		return Wrap(err, CodeScopeMismatch, "This code belongs to a different event", http.StatusUnprocessableEntity)
	case errors.Is(err, attendance.ErrNotFound):
		return Wrap(err, CodeNotFound, "Person not found", http.StatusNotFound)
	case errors.Is(err, attendance.ErrSessionNotFound):
		return Wrap(err, CodeNotFound, "Session not found", http.StatusNotFound)
	case errors.Is(err, attendance.ErrInvalidRequest):
		return Wrap(err, CodeInvalidInput, "Invalid request", http.StatusBadRequest)
	case errors.Is(err, attendance.ErrRecordFailed):
		return Wrap(err, CodeRecordFailed, "Failed to record attendance", http.StatusInternalServerError)
	}
	return Wrap(err, CodeInternalError, "Internal error", http.StatusInternalServerError)
}
