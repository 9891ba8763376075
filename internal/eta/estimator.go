// Package eta derives arrival estimates and trip progress from the schedule
// and the most recent GPS samples.
package eta

import (
	"log"
	"math"
	"time"

	"shuttle-backend/internal/geo"
	"shuttle-backend/internal/models"
)

// MaxPlausibleSpeedMps is 90 mph. Faster readings are treated as GPS noise.
const MaxPlausibleSpeedMps = 90 * geo.MetersPerSecondPerMPH

type Config struct {
	FreshnessThreshold time.Duration
	ConfidenceCeiling  int
	ConfidenceFloor    int
	DecayPerMinute     float64
	MinGPSWeight       float64
	MaxGPSWeight       float64
	SpeedWindow        int
	DefaultSpeedMps    float64
	ProgressTolerance  float64
}

func DefaultConfig() Config {
	return Config{
		FreshnessThreshold: 10 * time.Minute,
		ConfidenceCeiling:  95,
		ConfidenceFloor:    20,
		DecayPerMinute:     3,
		MinGPSWeight:       0.5,
		MaxGPSWeight:       0.9,
		SpeedWindow:        5,
		DefaultSpeedMps:    13.4,
		ProgressTolerance:  15,
	}
}

type Estimator struct {
	cfg Config
}

func NewEstimator(cfg Config) *Estimator {
	if cfg.SpeedWindow <= 0 {
		cfg.SpeedWindow = 1
	}
	if cfg.DefaultSpeedMps <= 0 {
		cfg.DefaultSpeedMps = DefaultConfig().DefaultSpeedMps
	}
	return &Estimator{cfg: cfg}
}

func (e *Estimator) Config() Config { return e.cfg }

// Estimate computes the ETA for a departure. session is nil before boarding;
// samples are newest first.
func (e *Estimator) Estimate(dep *models.Departure, session *models.TrackingSession, samples []models.LocationSample, now time.Time) models.ETAEstimate {
	status := models.TripStatusScheduled
	if session != nil {
		status = session.Status
	}

	var latest *models.LocationSample
	if len(samples) > 0 {
		latest = &samples[0]
	}
	est := models.ETAEstimate{ComputedAt: now.Unix()}
	if latest != nil {
		at := latest.CapturedAt
		est.LastSampleAt = &at
	}

	if status.Finished() {
		est.EstimatedArrival = recordedArrival(session, now).Unix()
		est.Confidence = 100
		est.Progress = 100
		est.Source = models.ETASourceRecorded
		return est
	}

	delay := 0
	if session != nil {
		delay = session.DelayMinutes
	}
	baseline := dep.ScheduledArrival().Add(time.Duration(delay) * time.Minute)

	arrival := baseline
	est.Source = models.ETASourceSchedule
	est.Confidence = e.confidence(latest, now)

	route := dep.Route
	total := routeDistance(route)
	timeProgress := e.timeProgress(dep, session, now)
	progress := timeProgress

	if fresh, age := e.fresh(latest, now); fresh && status.Trackable() {
		pos := geo.Point{Lat: latest.Latitude, Lon: latest.Longitude}
		remaining := remainingDistance(route, pos)
		speed := e.trailingSpeed(route, samples)

		// the vehicle cannot leave before its scheduled departure
		start := now
		if _, started := session.TripStarted(); !started && dep.ScheduledTime().After(now) {
			start = dep.ScheduledTime()
		}
		gpsArrival := start.Add(time.Duration(remaining / speed * float64(time.Second)))

		w := e.gpsWeight(age)
		arrival = baseline.Add(time.Duration(w * float64(gpsArrival.Sub(baseline))))
		est.Source = models.ETASourceGPS

		if total > 0 {
			distProgress := clampPercent((1 - remaining/total) * 100)
			if _, started := session.TripStarted(); started && math.Abs(distProgress-timeProgress) > e.cfg.ProgressTolerance {
				log.Printf("⚠️  Departure %s progress diverges: distance %.1f%% vs time %.1f%%",
					dep.ID, distProgress, timeProgress)
			}
			progress = distProgress
		}
	}

	est.EstimatedArrival = arrival.Unix()
	est.MinutesRemaining = MinutesUntil(arrival, now)
	est.Progress = math.Round(progress*10) / 10
	return est
}

// MinutesUntil rounds up to whole minutes, never negative
func MinutesUntil(t, now time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Minutes()))
}

func (e *Estimator) fresh(latest *models.LocationSample, now time.Time) (bool, time.Duration) {
	if latest == nil {
		return false, 0
	}
	age := now.Sub(latest.CapturedTime())
	if age < 0 {
		age = 0
	}
	return age <= e.cfg.FreshnessThreshold, age
}

// confidence is the ceiling while the newest sample is fresh, then decays
// linearly per minute of staleness down to the floor
func (e *Estimator) confidence(latest *models.LocationSample, now time.Time) int {
	fresh, age := e.fresh(latest, now)
	if latest == nil {
		return e.cfg.ConfidenceFloor
	}
	if fresh {
		return e.cfg.ConfidenceCeiling
	}
	stale := (age - e.cfg.FreshnessThreshold).Minutes()
	c := float64(e.cfg.ConfidenceCeiling) - e.cfg.DecayPerMinute*stale
	if c < float64(e.cfg.ConfidenceFloor) {
		return e.cfg.ConfidenceFloor
	}
	return int(math.Floor(c))
}

// gpsWeight rises linearly from MinGPSWeight at the freshness threshold to
// MaxGPSWeight for a brand new sample
func (e *Estimator) gpsWeight(age time.Duration) float64 {
	if e.cfg.FreshnessThreshold <= 0 {
		return e.cfg.MaxGPSWeight
	}
	f := 1 - float64(age)/float64(e.cfg.FreshnessThreshold)
	f = math.Max(0, math.Min(1, f))
	return e.cfg.MinGPSWeight + (e.cfg.MaxGPSWeight-e.cfg.MinGPSWeight)*f
}

// trailingSpeed averages reported speeds over the window, falling back to
// speed derived from positions, then to the route's scheduled pace, then to
// the configured default
func (e *Estimator) trailingSpeed(route models.Route, samples []models.LocationSample) float64 {
	window := samples
	if len(window) > e.cfg.SpeedWindow {
		window = window[:e.cfg.SpeedWindow]
	}

	sum, n := 0.0, 0
	for _, s := range window {
		if s.Speed != nil && plausible(*s.Speed) {
			sum += *s.Speed
			n++
		}
	}
	if n > 0 {
		return sum / float64(n)
	}

	for i := 0; i+1 < len(window); i++ {
		newer, older := window[i], window[i+1]
		dt := float64(newer.CapturedAt - older.CapturedAt)
		if dt <= 0 {
			continue
		}
		v := geo.Haversine(older.Latitude, older.Longitude, newer.Latitude, newer.Longitude) / dt
		if plausible(v) {
			sum += v
			n++
		}
	}
	if n > 0 {
		return sum / float64(n)
	}

	if d := route.ScheduledDuration(); d > 0 {
		if v := routeDistance(route) / d.Seconds(); plausible(v) {
			return v
		}
	}
	return e.cfg.DefaultSpeedMps
}

// timeProgress is elapsed trip time over scheduled duration plus delay
func (e *Estimator) timeProgress(dep *models.Departure, session *models.TrackingSession, now time.Time) float64 {
	started, ok := session.TripStarted()
	if !ok {
		return 0
	}
	total := dep.Route.ScheduledDuration() + time.Duration(session.DelayMinutes)*time.Minute
	if total <= 0 {
		return 100
	}
	return clampPercent(float64(now.Sub(started)) / float64(total) * 100)
}

func recordedArrival(session *models.TrackingSession, now time.Time) time.Time {
	switch {
	case session.ArrivedAt != nil:
		return time.Unix(*session.ArrivedAt, 0)
	case session.CompletedAt != nil:
		return time.Unix(*session.CompletedAt, 0)
	}
	return now
}

func plausible(mps float64) bool {
	return mps > 0 && mps <= MaxPlausibleSpeedMps
}

func point(p models.GeoPoint) geo.Point {
	return geo.Point{Lat: p.Latitude, Lon: p.Longitude}
}

func routeDistance(r models.Route) float64 {
	if r.Waypoint != nil {
		return geo.PathLength(point(r.Origin), point(*r.Waypoint), point(r.Destination))
	}
	return geo.Distance(point(r.Origin), point(r.Destination))
}

// remainingDistance goes via the waypoint while the vehicle is farther from
// the destination than the waypoint is
func remainingDistance(r models.Route, pos geo.Point) float64 {
	dest := point(r.Destination)
	if r.Waypoint != nil {
		wp := point(*r.Waypoint)
		if geo.Distance(pos, dest) > geo.Distance(wp, dest) {
			return geo.Distance(pos, wp) + geo.Distance(wp, dest)
		}
	}
	return geo.Distance(pos, dest)
}

func clampPercent(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	return math.Max(0, math.Min(100, p))
}
