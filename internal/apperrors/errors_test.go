package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"shuttle-backend/internal/models"
)

func TestInvalidTransitionMatchesSentinel(t *testing.T) {
	var err error = &InvalidTransitionError{Current: models.TripStatusArrived, Requested: models.TripStatusBoarding}
	wrapped := fmt.Errorf("transition: %w", err)

	assert.ErrorIs(t, wrapped, ErrInvalidTransition)

	var ite *InvalidTransitionError
	assert.True(t, errors.As(wrapped, &ite))
	assert.Equal(t, models.TripStatusArrived, ite.Current)
	assert.Equal(t, models.TripStatusBoarding, ite.Requested)
	assert.Contains(t, err.Error(), "ARRIVED")
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", fmt.Errorf("get departure: %w", ErrNotFound), http.StatusNotFound},
		{"invalid transition", &InvalidTransitionError{}, http.StatusConflict},
		{"conflict", ErrConflict, http.StatusConflict},
		{"not trackable", ErrSessionNotTrackable, http.StatusUnprocessableEntity},
		{"forbidden", ErrForbidden, http.StatusForbidden},
		{"validation", Validation("latitude out of range"), http.StatusBadRequest},
		{"gateway", ErrGatewayUnavailable, http.StatusBadGateway},
		{"storage timeout", fmt.Errorf("list departures: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
