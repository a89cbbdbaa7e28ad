package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrPersistFailure   = errors.New("snapshot persist failure")
	ErrInvalidInput     = errors.New("invalid input")
)

// FieldError is used to indicate an error with a specific request field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError carries per-field details. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Msg    string
	Fields []FieldError
}

func NewValidationError(msg string, flds ...FieldError) error {
	return &ValidationError{Msg: msg, Fields: flds}
}

func (err *ValidationError) Error() string {
	if err.Msg == "" {
		return ErrValidation.Error()
	}
	return ErrValidation.Error() + ": " + err.Msg
}

func (err *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// HTTPStatus maps an error from the engine to the status the API answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
