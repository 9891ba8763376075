package location

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shuttle-backend/internal/apperrors"
	"shuttle-backend/internal/models"
)

type statusTable map[string]models.TripStatus

func (s statusTable) lookup(ctx context.Context, id string) (models.TripStatus, error) {
	st, ok := s[id]
	if !ok {
		return "", fmt.Errorf("session %s: %w", id, apperrors.ErrNotFound)
	}
	return st, nil
}

func TestAppendOnlyWhileTrackable(t *testing.T) {
	statuses := statusTable{
		"boarding":  models.TripStatusBoarding,
		"enroute":   models.TripStatusEnRoute,
		"delayed":   models.TripStatusDelayed,
		"arrived":   models.TripStatusArrived,
		"completed": models.TripStatusCompleted,
	}
	store := NewMemoryStore(statuses.lookup)
	ctx := context.Background()

	tests := []struct {
		session string
		wantErr error
	}{
		{"boarding", nil},
		{"enroute", nil},
		{"delayed", nil},
		{"arrived", apperrors.ErrSessionNotTrackable},
		{"completed", apperrors.ErrSessionNotTrackable},
		{"missing", apperrors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.session, func(t *testing.T) {
			err := store.Append(ctx, &models.LocationSample{SessionID: tt.session, Latitude: 37.1, Longitude: -122.1})
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)

			got, err := store.Recent(ctx, tt.session, 10)
			require.NoError(t, err)
			assert.Empty(t, got, "rejected sample must not be stored")
		})
	}
}

func TestAppendRejectsBadCoordinates(t *testing.T) {
	store := NewMemoryStore(statusTable{"s": models.TripStatusEnRoute}.lookup)
	err := store.Append(context.Background(), &models.LocationSample{SessionID: "s", Latitude: 120, Longitude: 0})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestRecentNewestFirst(t *testing.T) {
	store := NewMemoryStore(statusTable{"s": models.TripStatusEnRoute}.lookup)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	// out of order arrival
	for _, offset := range []int{20, 0, 40, 10, 30} {
		require.NoError(t, store.Append(ctx, &models.LocationSample{
			SessionID:  "s",
			Latitude:   37,
			Longitude:  -122,
			CapturedAt: base.Add(time.Duration(offset) * time.Second).Unix(),
		}))
	}

	got, err := store.Recent(ctx, "s", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, base.Add(40*time.Second).Unix(), got[0].CapturedAt)
	assert.Equal(t, base.Add(30*time.Second).Unix(), got[1].CapturedAt)
	assert.Equal(t, base.Add(20*time.Second).Unix(), got[2].CapturedAt)
}

func TestPrepareDropsUnknownSpeed(t *testing.T) {
	speed := -1.0
	s := &models.LocationSample{SessionID: "s", Latitude: 1, Longitude: 1, Speed: &speed}
	now := time.Unix(1000, 0)
	require.NoError(t, Prepare(s, now))
	assert.Nil(t, s.Speed)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, int64(1000), s.CapturedAt)
}
