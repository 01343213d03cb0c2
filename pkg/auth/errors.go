package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy shared by the session and access control layers.
//
// HTTP mapping:
//   - ErrValidation    → 400 Bad Request
//   - ErrUnauthorized  → 401 Unauthorized
//   - ErrForbidden     → 403 Forbidden
//   - ErrPersistence   → 500 Internal Server Error
//   - ErrConfiguration → 500 Internal Server Error
var (
	// ErrValidation is returned when a caller supplies malformed input
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized is returned when there is no authenticated principal
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the principal lacks a matching permission
	ErrForbidden = errors.New("forbidden")

	// ErrPersistence wraps failures of the relational store or cache
	ErrPersistence = errors.New("persistence failure")

	// ErrConfiguration is returned for invalid role graphs or missing settings
	ErrConfiguration = errors.New("configuration error")
)

// persistenceError carries both the ErrPersistence sentinel and the underlying cause
type persistenceError struct {
	op    string
	cause error
}

func (e *persistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.op, e.cause)
}

func (e *persistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.cause}
}

// Persistence wraps an I/O error so that errors.Is matches ErrPersistence
// as well as the original cause. Returns nil for a nil err.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *persistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &persistenceError{op: op, cause: err}
}

// HTTPStatus maps an error to the HTTP status code a handler should write
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
