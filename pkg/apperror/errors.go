package apperror

import (
	"errors"
	"net/http"

	"github.com/clinicops/secobs/internal/domain"
)

// AppError is the HTTP-facing error shape
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

const codeInternal = "INTERNAL_ERROR"

func NewBadRequest(message string) *AppError {
	return &AppError{Code: "BAD_REQUEST", Message: message, Status: http.StatusBadRequest}
}

func NewUnauthorized(message string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Message: message, Status: http.StatusUnauthorized}
}

func NewForbidden(message string) *AppError {
	return &AppError{Code: "FORBIDDEN", Message: message, Status: http.StatusForbidden}
}

func NewInternalServer(message string) *AppError {
	return &AppError{Code: codeInternal, Message: message, Status: http.StatusInternalServerError}
}

// MapError converts any error into an AppError. Domain errors keep their code
// and message; everything else becomes a generic 500 with the cause attached.
func MapError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var de *domain.DomainError
	if errors.As(err, &de) {
		status := http.StatusInternalServerError
		switch de.Kind {
		case domain.KindValidation:
			status = http.StatusBadRequest
		case domain.KindNotFound:
			status = http.StatusNotFound
		case domain.KindConflict:
			status = http.StatusConflict
		}
		message := de.Message
		if status == http.StatusInternalServerError {
			message = "An unexpected error occurred"
		}
		return &AppError{Code: de.Code, Message: message, Status: status, Cause: err}
	}

	return &AppError{
		Code:    codeInternal,
		Message: "An unexpected error occurred",
		Status:  http.StatusInternalServerError,
		Cause:   err,
	}
}
