package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"shuttle-backend/internal/apperrors"
	"shuttle-backend/internal/models"
)

// Store persists ReminderRecords, one per departure
type Store interface {
	// Claim inserts the record for departureID unless one exists, in one
	// atomic step. created is false when another run got there first.
	Claim(ctx context.Context, departureID string, now time.Time) (rec *models.ReminderRecord, created bool, err error)
	Complete(ctx context.Context, reminderID string, sent, failed int, errSummary *string, now time.Time) error
	ListByDepartures(ctx context.Context, departureIDs []string) (map[string]*models.ReminderRecord, error)
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu          sync.Mutex
	records     map[string]*models.ReminderRecord
	byDeparture map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     make(map[string]*models.ReminderRecord),
		byDeparture: make(map[string]string),
	}
}

func (m *MemoryStore) Claim(ctx context.Context, departureID string, now time.Time) (*models.ReminderRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byDeparture[departureID]; ok {
		rec := *m.records[id]
		return &rec, false, nil
	}
	rec := &models.ReminderRecord{
		ID:          uuid.New().String(),
		DepartureID: departureID,
		Status:      models.ReminderStatusDispatching,
		SentAt:      now.Unix(),
		CreatedAt:   now.Unix(),
		UpdatedAt:   now.Unix(),
	}
	m.records[rec.ID] = rec
	m.byDeparture[departureID] = rec.ID
	out := *rec
	return &out, true, nil
}

func (m *MemoryStore) Complete(ctx context.Context, reminderID string, sent, failed int, errSummary *string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[reminderID]
	if !ok {
		return fmt.Errorf("reminder %s: %w", reminderID, apperrors.ErrNotFound)
	}
	rec.Status = models.ReminderStatusCompleted
	rec.SentCount = sent
	rec.FailedCount = failed
	rec.ErrorSummary = errSummary
	rec.UpdatedAt = now.Unix()
	return nil
}

func (m *MemoryStore) ListByDepartures(ctx context.Context, departureIDs []string) (map[string]*models.ReminderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*models.ReminderRecord)
	for _, depID := range departureIDs {
		if id, ok := m.byDeparture[depID]; ok {
			rec := *m.records[id]
			out[depID] = &rec
		}
	}
	return out, nil
}
