// Package errs holds the error taxonomy shared by the lending packages.
package errs

import (
	"errors"
	"net/http"
)

var (
	// ErrNotFound is returned for an unknown copy, student or record.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned for a duplicate open borrow, or when zero or
	// several open records exist where exactly one was expected.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable is returned when a copy has no stock left.
	ErrUnavailable = errors.New("unavailable")
	// ErrAdapter is returned by the tag extraction adapter. Callers treat it
	// as non-fatal.
	ErrAdapter = errors.New("tag extraction failed")
	// ErrInvalid is returned for malformed input such as a negative amount.
	ErrInvalid = errors.New("invalid argument")
)

// HTTPStatus maps an error from the lending packages to a response status.
func HTTPStatus(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrAdapter):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Write replies with err's message and the status HTTPStatus picks for it.
func Write(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), HTTPStatus(err))
}
