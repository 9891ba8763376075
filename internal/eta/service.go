package eta

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"shuttle-backend/internal/apperrors"
	"shuttle-backend/internal/booking"
	"shuttle-backend/internal/cache"
	"shuttle-backend/internal/location"
	"shuttle-backend/internal/metrics"
	"shuttle-backend/internal/models"
)

// SessionReader resolves tracking sessions
type SessionReader interface {
	Session(ctx context.Context, sessionID string) (*models.TrackingSession, error)
	SessionForDeparture(ctx context.Context, departureID string) (*models.TrackingSession, error)
}

// LiveStatus is what a waiting passenger sees for one departure
type LiveStatus struct {
	Departure *models.Departure
	Session   *models.TrackingSession
	Status    models.TripStatus
	Estimate  models.ETAEstimate
	Cached    bool
}

// Service loads the inputs for the estimator and caches its output per
// departure. Status is always read fresh.
type Service struct {
	departures booking.Source
	sessions   SessionReader
	locations  location.Store
	estimator  *Estimator
	cache      cache.Store
	ttl        time.Duration
	metrics    *metrics.Collector
	timeout    time.Duration
	now        func() time.Time
}

type ServiceOption func(*Service)

func WithCache(c cache.Store, ttl time.Duration) ServiceOption {
	return func(s *Service) { s.cache, s.ttl = c, ttl }
}

func WithMetrics(m *metrics.Collector) ServiceOption { return func(s *Service) { s.metrics = m } }

func WithClock(now func() time.Time) ServiceOption { return func(s *Service) { s.now = now } }

// WithStorageTimeout bounds each departure and sample read
func WithStorageTimeout(d time.Duration) ServiceOption { return func(s *Service) { s.timeout = d } }

func NewService(departures booking.Source, sessions SessionReader, locations location.Store, estimator *Estimator, opts ...ServiceOption) *Service {
	s := &Service{
		departures: departures,
		sessions:   sessions,
		locations:  locations,
		estimator:  estimator,
		timeout:    5 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ForDeparture estimates a departure. A departure without a session is still
// SCHEDULED and gets a schedule-only estimate.
func (s *Service) ForDeparture(ctx context.Context, departureID string) (*LiveStatus, error) {
	dep, err := s.departure(ctx, departureID)
	if err != nil {
		return nil, err
	}
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	session, err := s.sessions.SessionForDeparture(sctx, departureID)
	cancel()
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	return s.live(ctx, dep, session)
}

// ForSession estimates the departure behind a session
func (s *Service) ForSession(ctx context.Context, sessionID string) (*LiveStatus, error) {
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	session, err := s.sessions.Session(sctx, sessionID)
	cancel()
	if err != nil {
		return nil, err
	}
	dep, err := s.departure(ctx, session.DepartureID)
	if err != nil {
		return nil, err
	}
	return s.live(ctx, dep, session)
}

// Invalidate drops the cached estimate of a departure
func (s *Service) Invalidate(ctx context.Context, departureID string) {
	if s.cache != nil {
		s.cache.Delete(ctx, cacheKey(departureID))
	}
}

func (s *Service) departure(ctx context.Context, departureID string) (*models.Departure, error) {
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.departures.Get(sctx, departureID)
}

// CacheInvalidator clears estimates straight from the cache store, so trip
// updates can drop stale entries before the Service itself is built.
type CacheInvalidator struct {
	Store cache.Store
}

func (c CacheInvalidator) Invalidate(ctx context.Context, departureID string) {
	if c.Store != nil {
		c.Store.Delete(ctx, cacheKey(departureID))
	}
}

func (s *Service) live(ctx context.Context, dep *models.Departure, session *models.TrackingSession) (*LiveStatus, error) {
	now := s.now()
	out := &LiveStatus{Departure: dep, Session: session, Status: models.TripStatusScheduled}
	if session != nil {
		out.Status = session.Status
	}

	if est, ok := s.cached(ctx, dep.ID, out.Status); ok {
		est.MinutesRemaining = MinutesUntil(time.Unix(est.EstimatedArrival, 0), now)
		out.Estimate = est
		out.Cached = true
		s.metrics.ETA(string(est.Source), true)
		return out, nil
	}

	var samples []models.LocationSample
	if session != nil {
		var err error
		sctx, cancel := context.WithTimeout(ctx, s.timeout)
		samples, err = s.locations.Recent(sctx, session.ID, s.estimator.cfg.SpeedWindow)
		cancel()
		if err != nil {
			return nil, err
		}
	}

	out.Estimate = s.estimator.Estimate(dep, session, samples, now)
	s.metrics.ETA(string(out.Estimate.Source), false)
	s.store(ctx, dep.ID, out.Status, out.Estimate)
	return out, nil
}

type cachedEstimate struct {
	Status   models.TripStatus  `json:"status"`
	Estimate models.ETAEstimate `json:"estimate"`
}

func cacheKey(departureID string) string { return "eta:" + departureID }

// cached only serves entries computed for the status the trip is in now
func (s *Service) cached(ctx context.Context, departureID string, status models.TripStatus) (models.ETAEstimate, bool) {
	if s.cache == nil {
		return models.ETAEstimate{}, false
	}
	raw, ok := s.cache.Get(ctx, cacheKey(departureID))
	if !ok {
		return models.ETAEstimate{}, false
	}
	var c cachedEstimate
	if err := json.Unmarshal(raw, &c); err != nil || c.Status != status {
		return models.ETAEstimate{}, false
	}
	return c.Estimate, true
}

func (s *Service) store(ctx context.Context, departureID string, status models.TripStatus, est models.ETAEstimate) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	raw, err := json.Marshal(cachedEstimate{Status: status, Estimate: est})
	if err != nil {
		return
	}
	s.cache.Set(ctx, cacheKey(departureID), raw, s.ttl)
}
