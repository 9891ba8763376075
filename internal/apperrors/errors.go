// Package apperrors holds the error taxonomy shared by the tracking, ETA and
// reminder services, and its mapping onto HTTP status codes.
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"shuttle-backend/internal/models"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrSessionNotTrackable = errors.New("session is not accepting location updates")
	ErrGatewayUnavailable  = errors.New("notification gateway unavailable")
	ErrConflict            = errors.New("concurrent modification")
	ErrForbidden           = errors.New("forbidden")
	ErrValidation          = errors.New("validation failed")
)

// InvalidTransitionError reports a rejected status change. It matches
// ErrInvalidTransition with errors.Is.
type InvalidTransitionError struct {
	Current   models.TripStatus
	Requested models.TripStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.Current, e.Requested)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Validation wraps ErrValidation with a message
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// HTTPStatus maps an error onto the response code handlers should use
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrSessionNotTrackable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrGatewayUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
