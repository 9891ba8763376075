package booking

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shuttle-backend/internal/apperrors"
	"shuttle-backend/internal/models"
)

func strPtr(s string) *string { return &s }

func TestMemorySourceListBetween(t *testing.T) {
	base := time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)
	src := NewMemorySource(
		models.Departure{ID: "late", ScheduledAt: base.Add(2 * time.Hour).Unix()},
		models.Departure{ID: "in", ScheduledAt: base.Add(35 * time.Minute).Unix(), DriverID: strPtr("drv-1")},
		models.Departure{ID: "edge", ScheduledAt: base.Add(30 * time.Minute).Unix()},
	)

	got, err := src.ListBetween(context.Background(), base.Add(30*time.Minute), base.Add(40*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "edge", got[0].ID)
	assert.Equal(t, "in", got[1].ID)

	mine, err := src.ListForDriver(context.Background(), "drv-1", base, base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "in", mine[0].ID)
}

func TestMemorySourceGetMissing(t *testing.T) {
	_, err := NewMemorySource().Get(context.Background(), "nope")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestConfirmedBookings(t *testing.T) {
	d := &models.Departure{Bookings: []models.Booking{
		{ID: "1", Status: models.BookingStatusConfirmed},
		{ID: "2", Status: models.BookingStatusCancelled},
		{ID: "3"},
	}}
	got := ConfirmedBookings(d)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
}

func TestDayBounds(t *testing.T) {
	loc := time.FixedZone("PST", -8*3600)
	start, end := DayBounds(time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC), loc)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, loc), start)
	assert.Equal(t, time.Date(2026, 3, 2, 23, 59, 59, 0, loc), end)
}

func TestDayBoundsAcrossClockChanges(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	cases := []struct {
		name  string
		day   int
		month time.Month
		hours float64
	}{
		{"spring forward", 8, time.March, 23},
		{"fall back", 1, time.November, 25},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start, end := DayBounds(time.Date(2026, tc.month, tc.day, 12, 0, 0, 0, loc), loc)
			assert.WithinDuration(t, time.Date(2026, tc.month, tc.day, 0, 0, 0, 0, loc), start, 0)
			assert.WithinDuration(t, time.Date(2026, tc.month, tc.day, 23, 59, 59, 0, loc), end, 0)
			assert.Equal(t, tc.hours, end.Add(time.Second).Sub(start).Hours())

			// a departure late in the day is still inside
			late := time.Date(2026, tc.month, tc.day, 23, 30, 0, 0, loc)
			assert.False(t, late.After(end))
		})
	}
}
