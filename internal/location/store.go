// Package location stores GPS samples for trips in progress.
package location

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"shuttle-backend/internal/apperrors"
	"shuttle-backend/internal/geo"
	"shuttle-backend/internal/models"
)

// Store appends and reads location samples. Append must only succeed while
// the owning session is BOARDING, EN_ROUTE or DELAYED, checked in the same
// step as the write.
type Store interface {
	Append(ctx context.Context, sample *models.LocationSample) error
	// Recent returns up to limit samples for the session, newest first
	Recent(ctx context.Context, sessionID string, limit int) ([]models.LocationSample, error)
}

// Prepare validates a sample and fills in id and timestamps
func Prepare(sample *models.LocationSample, now time.Time) error {
	if sample.SessionID == "" {
		return apperrors.Validation("session id is required")
	}
	if !geo.ValidCoordinate(sample.Latitude, sample.Longitude) {
		return apperrors.Validation("coordinates out of range: %f,%f", sample.Latitude, sample.Longitude)
	}
	if sample.Speed != nil && *sample.Speed < 0 {
		// devices report -1 when speed is unknown
		sample.Speed = nil
	}
	if sample.Accuracy != nil && *sample.Accuracy < 0 {
		sample.Accuracy = nil
	}
	if sample.ID == "" {
		sample.ID = uuid.New().String()
	}
	if sample.CapturedAt == 0 {
		sample.CapturedAt = now.Unix()
	}
	sample.CreatedAt = now.Unix()
	return nil
}

// SessionStatusFunc resolves the current status of a session
type SessionStatusFunc func(ctx context.Context, sessionID string) (models.TripStatus, error)

// MemoryStore keeps samples in process. The status check and the append run
// under one lock.
type MemoryStore struct {
	mu      sync.RWMutex
	samples map[string][]models.LocationSample
	status  SessionStatusFunc
	now     func() time.Time
}

func NewMemoryStore(status SessionStatusFunc) *MemoryStore {
	return &MemoryStore{
		samples: make(map[string][]models.LocationSample),
		status:  status,
		now:     time.Now,
	}
}

func (m *MemoryStore) Append(ctx context.Context, sample *models.LocationSample) error {
	if err := Prepare(sample, m.now()); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	status, err := m.status(ctx, sample.SessionID)
	if err != nil {
		return err
	}
	if !status.Trackable() {
		return fmt.Errorf("session %s is %s: %w", sample.SessionID, status, apperrors.ErrSessionNotTrackable)
	}

	m.samples[sample.SessionID] = append(m.samples[sample.SessionID], *sample)
	return nil
}

func (m *MemoryStore) Recent(ctx context.Context, sessionID string, limit int) ([]models.LocationSample, error) {
	m.mu.RLock()
	all := append([]models.LocationSample(nil), m.samples[sessionID]...)
	m.mu.RUnlock()

	SortNewestFirst(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// SortNewestFirst orders samples by capture time, newest first. Ties keep
// the later insert first.
func SortNewestFirst(samples []models.LocationSample) {
	sort.SliceStable(samples, func(i, j int) bool {
		if samples[i].CapturedAt != samples[j].CapturedAt {
			return samples[i].CapturedAt > samples[j].CapturedAt
		}
		return samples[i].CreatedAt > samples[j].CreatedAt
	})
}
