package tracking

import (
	"context"
	"fmt"
	"sync"

	"shuttle-backend/internal/apperrors"
	"shuttle-backend/internal/models"
)

// Repository persists tracking sessions. Create and Update write the session
// and its transition row atomically.
type Repository interface {
	GetByID(ctx context.Context, sessionID string) (*models.TrackingSession, error)
	GetByDeparture(ctx context.Context, departureID string) (*models.TrackingSession, error)
	ListByDepartures(ctx context.Context, departureIDs []string) (map[string]*models.TrackingSession, error)
	// Create fails with ErrConflict if the departure already has a session
	Create(ctx context.Context, session *models.TrackingSession, tr *models.TripTransition) error
	// Update fails with ErrConflict if the stored version is not expectedVersion
	Update(ctx context.Context, session *models.TrackingSession, expectedVersion int, tr *models.TripTransition) error
	ListTransitions(ctx context.Context, sessionID string) ([]models.TripTransition, error)
}

// MemoryRepository is an in-process Repository
type MemoryRepository struct {
	mu          sync.RWMutex
	sessions    map[string]models.TrackingSession
	byDeparture map[string]string
	transitions map[string][]models.TripTransition
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions:    make(map[string]models.TrackingSession),
		byDeparture: make(map[string]string),
		transitions: make(map[string][]models.TripTransition),
	}
}

func (m *MemoryRepository) GetByID(ctx context.Context, sessionID string) (*models.TrackingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, apperrors.ErrNotFound)
	}
	return &s, nil
}

func (m *MemoryRepository) GetByDeparture(ctx context.Context, departureID string) (*models.TrackingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byDeparture[departureID]
	if !ok {
		return nil, fmt.Errorf("session for departure %s: %w", departureID, apperrors.ErrNotFound)
	}
	s := m.sessions[id]
	return &s, nil
}

func (m *MemoryRepository) ListByDepartures(ctx context.Context, departureIDs []string) (map[string]*models.TrackingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*models.TrackingSession)
	for _, depID := range departureIDs {
		if id, ok := m.byDeparture[depID]; ok {
			s := m.sessions[id]
			out[depID] = &s
		}
	}
	return out, nil
}

func (m *MemoryRepository) Create(ctx context.Context, session *models.TrackingSession, tr *models.TripTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byDeparture[session.DepartureID]; exists {
		return fmt.Errorf("session for departure %s: %w", session.DepartureID, apperrors.ErrConflict)
	}
	m.sessions[session.ID] = *session
	m.byDeparture[session.DepartureID] = session.ID
	m.transitions[session.ID] = append(m.transitions[session.ID], *tr)
	return nil
}

func (m *MemoryRepository) Update(ctx context.Context, session *models.TrackingSession, expectedVersion int, tr *models.TripTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sessions[session.ID]
	if !ok {
		return fmt.Errorf("session %s: %w", session.ID, apperrors.ErrNotFound)
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("session %s at version %d, expected %d: %w",
			session.ID, stored.Version, expectedVersion, apperrors.ErrConflict)
	}
	m.sessions[session.ID] = *session
	m.transitions[session.ID] = append(m.transitions[session.ID], *tr)
	return nil
}

func (m *MemoryRepository) ListTransitions(ctx context.Context, sessionID string) ([]models.TripTransition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.TripTransition(nil), m.transitions[sessionID]...), nil
}

// Status reports a session's status; it plugs into location.NewMemoryStore
func (m *MemoryRepository) Status(ctx context.Context, sessionID string) (models.TripStatus, error) {
	s, err := m.GetByID(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return s.Status, nil
}
