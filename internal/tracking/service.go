// Package tracking owns the trip status state machine and the write path for
// location samples of a trip in progress.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"shuttle-backend/internal/apperrors"
	"shuttle-backend/internal/booking"
	"shuttle-backend/internal/location"
	"shuttle-backend/internal/metrics"
	"shuttle-backend/internal/models"
)

// Notifier receives accepted changes after they are persisted
type Notifier interface {
	StatusChanged(ctx context.Context, dep *models.Departure, session *models.TrackingSession, from models.TripStatus)
	LocationRecorded(ctx context.Context, session *models.TrackingSession, sample *models.LocationSample)
}

// TransitionRequest is one driver status action
type TransitionRequest struct {
	DepartureID    string
	Target         models.TripStatus
	PassengerCount *int
	DelayMinutes   int
	Location       *models.LocationSample
}

type Service struct {
	repo       Repository
	locations  location.Store
	departures booking.Source
	notifier   Notifier
	metrics    *metrics.Collector
	locks      *KeyedMutex
	timeout    time.Duration
	now        func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithMetrics(m *metrics.Collector) Option { return func(s *Service) { s.metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithStorageTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

func NewService(repo Repository, locations location.Store, departures booking.Source, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		locations:  locations,
		departures: departures,
		locks:      NewKeyedMutex(),
		timeout:    5 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transition applies a status change for a departure on behalf of actor.
// Changes to the same departure are serialized; the first BOARDING creates
// the session.
func (s *Service) Transition(ctx context.Context, actor models.Actor, req TransitionRequest) (*models.TrackingSession, error) {
	if err := validateRequest(actor, req); err != nil {
		return nil, err
	}

	dep, err := s.departure(ctx, req.DepartureID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, dep); err != nil {
		s.metrics.TransitionRefused("forbidden")
		return nil, err
	}

	unlock := s.locks.Lock(dep.ID)
	next, from, sample, err := s.transitionLocked(ctx, actor, dep, req)
	unlock()
	if err != nil {
		return nil, err
	}

	// listeners run outside the departure lock so a slow sink never holds up
	// the next write
	if s.notifier != nil {
		s.notifier.StatusChanged(ctx, dep, next, from)
		if sample != nil {
			s.notifier.LocationRecorded(ctx, next, sample)
		}
	}
	return next, nil
}

// transitionLocked runs with the departure lock held. sample is set when a
// fix attached to the request was stored.
func (s *Service) transitionLocked(ctx context.Context, actor models.Actor, dep *models.Departure, req TransitionRequest) (*models.TrackingSession, models.TripStatus, *models.LocationSample, error) {
	current, err := s.currentSession(ctx, dep.ID)
	if err != nil {
		return nil, "", nil, err
	}
	from := models.TripStatusScheduled
	if current != nil {
		from = current.Status
	}
	if !CanTransition(from, req.Target) {
		s.metrics.TransitionRefused("invalid")
		log.Printf("❌ Rejected transition %s -> %s for departure %s (actor %s)", from, req.Target, dep.ID, actor.UserID)
		return nil, from, nil, &apperrors.InvalidTransitionError{Current: from, Requested: req.Target}
	}

	next, tr := apply(current, dep.ID, req, actor, s.now())

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	if current == nil {
		err = s.repo.Create(sctx, next, tr)
	} else {
		err = s.repo.Update(sctx, next, current.Version, tr)
	}
	cancel()
	if errors.Is(err, apperrors.ErrConflict) {
		s.metrics.TransitionRefused("conflict")
		return nil, from, nil, s.resolveConflict(ctx, dep.ID, req.Target)
	}
	if err != nil {
		return nil, from, nil, fmt.Errorf("failed to save transition: %w", err)
	}

	s.metrics.TransitionAccepted(string(next.Status))
	log.Printf("✅ Departure %s: %s -> %s by %s (session %s, v%d)", dep.ID, from, next.Status, actor.UserID, next.ID, next.Version)

	if req.Location == nil {
		return next, from, nil, nil
	}
	if !next.Status.Trackable() {
		log.Printf("⚠️  Ignoring location attached to %s transition for departure %s", next.Status, dep.ID)
		return next, from, nil, nil
	}
	sample := *req.Location
	sample.SessionID = next.ID
	if err := s.appendSample(ctx, &sample); err != nil {
		log.Printf("⚠️  Location attached to %s transition was not stored: %v", next.Status, err)
		return next, from, nil, nil
	}
	return next, from, &sample, nil
}

// RecordLocation stores a GPS sample for sessionID
func (s *Service) RecordLocation(ctx context.Context, actor models.Actor, sessionID string, sample models.LocationSample) (*models.LocationSample, error) {
	if actor.UserID == "" {
		return nil, apperrors.Validation("actor identity is required")
	}

	session, err := s.Session(ctx, sessionID)
	if err != nil {
		s.metrics.SampleResult("not_found")
		return nil, err
	}
	dep, err := s.departure(ctx, session.DepartureID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, dep); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(dep.ID)
	sample.SessionID = sessionID
	err = s.appendSample(ctx, &sample)
	unlock()
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		// status may have moved on since session was read; the store checked it
		s.notifier.LocationRecorded(ctx, session, &sample)
	}
	return &sample, nil
}

func (s *Service) appendSample(ctx context.Context, sample *models.LocationSample) error {
	if sample.CapturedAt == 0 {
		sample.CapturedAt = s.now().Unix()
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	err := s.locations.Append(sctx, sample)
	cancel()

	switch {
	case err == nil:
		s.metrics.SampleResult("accepted")
	case errors.Is(err, apperrors.ErrSessionNotTrackable):
		s.metrics.SampleResult("not_trackable")
		return err
	case errors.Is(err, apperrors.ErrNotFound):
		s.metrics.SampleResult("not_found")
		return err
	case errors.Is(err, apperrors.ErrValidation):
		s.metrics.SampleResult("invalid")
		return err
	default:
		return fmt.Errorf("failed to store location: %w", err)
	}
	return nil
}

// Session returns a session by id
func (s *Service) Session(ctx context.Context, sessionID string) (*models.TrackingSession, error) {
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.GetByID(sctx, sessionID)
}

// SessionForDeparture returns the departure's session or ErrNotFound
func (s *Service) SessionForDeparture(ctx context.Context, departureID string) (*models.TrackingSession, error) {
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.GetByDeparture(sctx, departureID)
}

// SessionsForDepartures maps departure id to session for those that have one
func (s *Service) SessionsForDepartures(ctx context.Context, departureIDs []string) (map[string]*models.TrackingSession, error) {
	if len(departureIDs) == 0 {
		return map[string]*models.TrackingSession{}, nil
	}
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.ListByDepartures(sctx, departureIDs)
}

// Transitions returns the audit trail of a session, oldest first
func (s *Service) Transitions(ctx context.Context, sessionID string) ([]models.TripTransition, error) {
	if _, err := s.Session(ctx, sessionID); err != nil {
		return nil, err
	}
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.ListTransitions(sctx, sessionID)
}

func (s *Service) departure(ctx context.Context, departureID string) (*models.Departure, error) {
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.departures.Get(sctx, departureID)
}

func (s *Service) currentSession(ctx context.Context, departureID string) (*models.TrackingSession, error) {
	session, err := s.SessionForDeparture(ctx, departureID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	return session, err
}

// resolveConflict tells the loser of a concurrent write what happened
func (s *Service) resolveConflict(ctx context.Context, departureID string, target models.TripStatus) error {
	fresh, err := s.currentSession(ctx, departureID)
	if err != nil {
		return err
	}
	if fresh != nil && !CanTransition(fresh.Status, target) {
		return &apperrors.InvalidTransitionError{Current: fresh.Status, Requested: target}
	}
	return fmt.Errorf("departure %s changed concurrently: %w", departureID, apperrors.ErrConflict)
}

func validateRequest(actor models.Actor, req TransitionRequest) error {
	if actor.UserID == "" {
		return apperrors.Validation("actor identity is required")
	}
	if req.DepartureID == "" {
		return apperrors.Validation("departure id is required")
	}
	if !req.Target.Valid() {
		return apperrors.Validation("unknown status %q", req.Target)
	}
	if req.PassengerCount != nil && *req.PassengerCount < 0 {
		return apperrors.Validation("passenger count must not be negative")
	}
	if req.DelayMinutes < 0 {
		return apperrors.Validation("delay minutes must not be negative")
	}
	return nil
}

// authorize lets admins act on any departure and drivers only on their own
func authorize(actor models.Actor, dep *models.Departure) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleDriver:
		if dep.DriverID == nil || dep.AssignedTo(actor.UserID) {
			return nil
		}
	}
	return fmt.Errorf("departure %s is not assigned to %s: %w", dep.ID, actor.UserID, apperrors.ErrForbidden)
}
