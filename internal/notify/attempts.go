package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"shuttle-backend/internal/apperrors"
	"shuttle-backend/internal/models"
)

// AttemptStore persists per-recipient delivery records
type AttemptStore interface {
	CreatePending(ctx context.Context, attempts []*models.NotificationAttempt) error
	Update(ctx context.Context, attempt *models.NotificationAttempt) error
	ListByReminder(ctx context.Context, reminderID string) ([]models.NotificationAttempt, error)
	ListByBatch(ctx context.Context, batchID string) ([]models.NotificationAttempt, error)
	CountsByReminder(ctx context.Context, reminderIDs []string) (map[string]models.AttemptCounts, error)
}

// MemoryAttemptStore is an in-process AttemptStore
type MemoryAttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]models.NotificationAttempt
	order    []string
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{attempts: make(map[string]models.NotificationAttempt)}
}

func (m *MemoryAttemptStore) CreatePending(ctx context.Context, attempts []*models.NotificationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range attempts {
		if _, exists := m.attempts[a.ID]; exists {
			return fmt.Errorf("attempt %s: %w", a.ID, apperrors.ErrConflict)
		}
	}
	for _, a := range attempts {
		m.attempts[a.ID] = *a
		m.order = append(m.order, a.ID)
	}
	return nil
}

func (m *MemoryAttemptStore) Update(ctx context.Context, attempt *models.NotificationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attempts[attempt.ID]; !ok {
		return fmt.Errorf("attempt %s: %w", attempt.ID, apperrors.ErrNotFound)
	}
	m.attempts[attempt.ID] = *attempt
	return nil
}

func (m *MemoryAttemptStore) ListByReminder(ctx context.Context, reminderID string) ([]models.NotificationAttempt, error) {
	return m.filter(func(a models.NotificationAttempt) bool {
		return a.ReminderID != nil && *a.ReminderID == reminderID
	}), nil
}

func (m *MemoryAttemptStore) ListByBatch(ctx context.Context, batchID string) ([]models.NotificationAttempt, error) {
	return m.filter(func(a models.NotificationAttempt) bool { return a.BatchID == batchID }), nil
}

func (m *MemoryAttemptStore) CountsByReminder(ctx context.Context, reminderIDs []string) (map[string]models.AttemptCounts, error) {
	want := make(map[string]bool, len(reminderIDs))
	for _, id := range reminderIDs {
		want[id] = true
	}
	out := make(map[string]models.AttemptCounts)
	for _, a := range m.filter(func(a models.NotificationAttempt) bool {
		return a.ReminderID != nil && want[*a.ReminderID]
	}) {
		c := out[*a.ReminderID]
		switch a.Status {
		case models.AttemptStatusPending:
			c.Pending++
		case models.AttemptStatusSent:
			c.Sent++
		case models.AttemptStatusFailed:
			c.Failed++
		}
		out[*a.ReminderID] = c
	}
	return out, nil
}

func (m *MemoryAttemptStore) filter(keep func(models.NotificationAttempt) bool) []models.NotificationAttempt {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.NotificationAttempt
	for _, id := range m.order {
		if a := m.attempts[id]; keep(a) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}
