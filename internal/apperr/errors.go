// Package apperr holds the error kinds shared by the scheduling core and the
// HTTP boundary. Callers wrap them with fmt.Errorf("...: %w") and test with
// errors.Is.
package apperr

import "errors"

var (
	ErrInvalidRange        = errors.New("start must be before end")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrOutsideAvailability = errors.New("doctor not available at that time")
	ErrConflict            = errors.New("slot no longer available")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrBusy                = errors.New("scheduling is busy, retry later")

	ErrUnauthorized  = errors.New("unauthorized")
	ErrValidation    = errors.New("validation failed")
	ErrAlreadyExists = errors.New("already exists")
)

// Transient reports whether err is safe to retry with backoff.
func Transient(err error) bool {
	return errors.Is(err, ErrBusy)
}
