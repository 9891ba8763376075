package eta

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shuttle-backend/internal/geo"
	"shuttle-backend/internal/models"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

func unixPtr(t time.Time) *int64 { u := t.Unix(); return &u }

func floatPtr(f float64) *float64 { return &f }

func departure() *models.Departure {
	return &models.Departure{
		ID:          "dep-1",
		ScheduledAt: at(14, 0).Unix(),
		Route: models.Route{
			Origin:                   models.GeoPoint{Name: "Airport", Latitude: 37.0, Longitude: -122.0},
			Destination:              models.GeoPoint{Name: "Resort", Latitude: 38.0, Longitude: -122.0},
			ScheduledDurationMinutes: 130,
		},
	}
}

func enRoute(started time.Time) *models.TrackingSession {
	return &models.TrackingSession{ID: "s-1", DepartureID: "dep-1", Status: models.TripStatusEnRoute, StartedAt: unixPtr(started)}
}

func sample(lat, lon float64, captured time.Time, speed *float64) models.LocationSample {
	return models.LocationSample{SessionID: "s-1", Latitude: lat, Longitude: lon, CapturedAt: captured.Unix(), Speed: speed}
}

func TestScheduleOnlyBeforeBoarding(t *testing.T) {
	e := NewEstimator(DefaultConfig())

	est := e.Estimate(departure(), nil, nil, at(13, 0))

	assert.Equal(t, at(16, 10).Unix(), est.EstimatedArrival)
	assert.Equal(t, 20, est.Confidence)
	assert.Equal(t, 0.0, est.Progress)
	assert.Equal(t, models.ETASourceSchedule, est.Source)
	assert.Equal(t, 190, est.MinutesRemaining)
	assert.Nil(t, est.LastSampleAt)
}

func TestMidpointGivesHalfProgress(t *testing.T) {
	e := NewEstimator(DefaultConfig())
	now := at(15, 10)
	samples := []models.LocationSample{sample(37.5, -122.0, now.Add(-time.Minute), floatPtr(14.25))}

	est := e.Estimate(departure(), enRoute(at(14, 5)), samples, now)

	assert.InDelta(t, 50, est.Progress, 1)
	assert.Equal(t, 95, est.Confidence)
	assert.Equal(t, models.ETASourceGPS, est.Source)

	// blended between the schedule (16:10) and the pure GPS projection (~16:15)
	gpsOnly := now.Add(time.Duration(geo.Haversine(37.5, -122, 38, -122) / 14.25 * float64(time.Second)))
	assert.GreaterOrEqual(t, est.EstimatedArrival, at(16, 10).Unix())
	assert.LessOrEqual(t, est.EstimatedArrival, gpsOnly.Unix())
	require.NotNil(t, est.LastSampleAt)
	assert.Equal(t, now.Add(-time.Minute).Unix(), *est.LastSampleAt)
}

func TestFinishedTripsUseRecordedArrival(t *testing.T) {
	e := NewEstimator(DefaultConfig())
	arrived := at(16, 2)
	for _, status := range []models.TripStatus{models.TripStatusArrived, models.TripStatusCompleted} {
		s := &models.TrackingSession{Status: status, StartedAt: unixPtr(at(14, 5)), ArrivedAt: unixPtr(arrived)}

		est := e.Estimate(departure(), s, nil, at(17, 0))

		assert.Equal(t, arrived.Unix(), est.EstimatedArrival, string(status))
		assert.Equal(t, 100, est.Confidence)
		assert.Equal(t, 100.0, est.Progress)
		assert.Equal(t, 0, est.MinutesRemaining)
		assert.Equal(t, models.ETASourceRecorded, est.Source)
	}
}

func TestDelayShiftsBaseline(t *testing.T) {
	e := NewEstimator(DefaultConfig())
	s := enRoute(at(14, 5))
	s.Status = models.TripStatusDelayed
	s.DelayMinutes = 15

	est := e.Estimate(departure(), s, nil, at(14, 30))

	assert.Equal(t, at(16, 25).Unix(), est.EstimatedArrival)
	assert.Equal(t, models.ETASourceSchedule, est.Source)
	// 25 of 145 minutes elapsed
	assert.InDelta(t, 17.2, est.Progress, 0.1)
}

func TestConfidenceDecaysWithAge(t *testing.T) {
	e := NewEstimator(DefaultConfig())
	now := at(15, 0)

	tests := []struct {
		age  time.Duration
		want int
	}{
		{0, 95},
		{10 * time.Minute, 95},
		{15 * time.Minute, 80},
		{20 * time.Minute, 65},
		{60 * time.Minute, 20},
	}
	for _, tt := range tests {
		s := []models.LocationSample{sample(37.5, -122, now.Add(-tt.age), nil)}
		assert.Equal(t, tt.want, e.Estimate(departure(), enRoute(at(14, 5)), s, now).Confidence, "age %s", tt.age)
	}

	prev := 101
	for age := 0; age <= 120; age++ {
		s := []models.LocationSample{sample(37.5, -122, now.Add(-time.Duration(age)*time.Minute), nil)}
		c := e.Estimate(departure(), enRoute(at(14, 5)), s, now).Confidence
		assert.LessOrEqual(t, c, prev, "confidence rose at age %dm", age)
		assert.GreaterOrEqual(t, c, 20)
		prev = c
	}

	noGPS := e.Estimate(departure(), enRoute(at(14, 5)), nil, now).Confidence
	assert.Equal(t, 20, noGPS, "no sample is never more confident than a stale one")
}

func TestStaleSampleFallsBackToSchedule(t *testing.T) {
	e := NewEstimator(DefaultConfig())
	now := at(15, 0)
	s := []models.LocationSample{sample(37.9, -122, now.Add(-30*time.Minute), floatPtr(20))}

	est := e.Estimate(departure(), enRoute(at(14, 5)), s, now)

	assert.Equal(t, models.ETASourceSchedule, est.Source)
	assert.Equal(t, at(16, 10).Unix(), est.EstimatedArrival)
	assert.Equal(t, 35, est.Confidence)
	// time based: 55 of 130 minutes
	assert.InDelta(t, 42.3, est.Progress, 0.1)
}

func TestProgressStaysInBounds(t *testing.T) {
	e := NewEstimator(DefaultConfig())
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		now := at(13, 0).Add(time.Duration(rng.Intn(8*60)) * time.Minute)
		started := at(14, 0).Add(time.Duration(rng.Intn(60)-30) * time.Minute)
		s := enRoute(started)
		s.DelayMinutes = rng.Intn(40)
		lat := 36.5 + rng.Float64()*2
		lon := -122.5 + rng.Float64()
		samples := []models.LocationSample{sample(lat, lon, now.Add(-time.Duration(rng.Intn(20))*time.Minute), floatPtr(rng.Float64()*50))}

		est := e.Estimate(departure(), s, samples, now)
		assert.GreaterOrEqual(t, est.Progress, 0.0)
		assert.LessOrEqual(t, est.Progress, 100.0)
		assert.GreaterOrEqual(t, est.MinutesRemaining, 0)
		assert.GreaterOrEqual(t, est.Confidence, 20)
		assert.LessOrEqual(t, est.Confidence, 95)
	}
}

func TestTrailingSpeedFallbacks(t *testing.T) {
	e := NewEstimator(DefaultConfig())
	route := departure().Route
	now := at(15, 0)

	t.Run("reported speeds", func(t *testing.T) {
		s := []models.LocationSample{
			sample(37.5, -122, now, floatPtr(10)),
			sample(37.49, -122, now.Add(-20*time.Second), floatPtr(20)),
			sample(37.48, -122, now.Add(-40*time.Second), floatPtr(95)), // implausible
		}
		assert.InDelta(t, 15, e.trailingSpeed(route, s), 0.001)
	})

	t.Run("positional", func(t *testing.T) {
		// ~1112m in 100s
		s := []models.LocationSample{
			sample(37.51, -122, now, nil),
			sample(37.50, -122, now.Add(-100*time.Second), floatPtr(0)),
		}
		assert.InDelta(t, 11.12, e.trailingSpeed(route, s), 0.05)
	})

	t.Run("route pace", func(t *testing.T) {
		s := []models.LocationSample{sample(37.5, -122, now, nil)}
		want := geo.Haversine(37, -122, 38, -122) / (130 * 60)
		assert.InDelta(t, want, e.trailingSpeed(route, s), 0.001)
	})

	t.Run("default", func(t *testing.T) {
		r := route
		r.ScheduledDurationMinutes = 0
		assert.Equal(t, 13.4, e.trailingSpeed(r, nil))
	})
}

func TestRemainingDistanceUsesWaypointUntilPassed(t *testing.T) {
	r := departure().Route
	r.Waypoint = &models.GeoPoint{Name: "Town", Latitude: 37.5, Longitude: -121.5}

	before := geo.Point{Lat: 37.1, Lon: -121.9}
	want := geo.Haversine(37.1, -121.9, 37.5, -121.5) + geo.Haversine(37.5, -121.5, 38, -122)
	assert.InDelta(t, want, remainingDistance(r, before), 1)

	after := geo.Point{Lat: 37.8, Lon: -121.8}
	assert.InDelta(t, geo.Haversine(37.8, -121.8, 38, -122), remainingDistance(r, after), 1)
}

func TestBoardingFixAnchorsOnScheduledDeparture(t *testing.T) {
	e := NewEstimator(DefaultConfig())
	now := at(13, 45)
	s := &models.TrackingSession{ID: "s-1", Status: models.TripStatusBoarding}
	samples := []models.LocationSample{sample(37.0, -122.0, now, nil)}

	est := e.Estimate(departure(), s, samples, now)

	assert.Equal(t, models.ETASourceGPS, est.Source)
	assert.InDelta(t, at(16, 10).Unix(), est.EstimatedArrival, 1, "at origin with route pace, GPS agrees with the schedule")
	assert.InDelta(t, 0, est.Progress, 0.1)
}

func TestGPSWeightRisesWithFreshness(t *testing.T) {
	e := NewEstimator(DefaultConfig())
	assert.InDelta(t, 0.9, e.gpsWeight(0), 1e-9)
	assert.InDelta(t, 0.7, e.gpsWeight(5*time.Minute), 1e-9)
	assert.InDelta(t, 0.5, e.gpsWeight(10*time.Minute), 1e-9)
}
