// Package booking is the read-only view of departures and bookings owned by
// the booking subsystem.
package booking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"shuttle-backend/internal/apperrors"
	"shuttle-backend/internal/models"
)

// Source resolves departures with their route and bookings
type Source interface {
	Get(ctx context.Context, departureID string) (*models.Departure, error)
	// ListBetween returns departures scheduled in [from, to]
	ListBetween(ctx context.Context, from, to time.Time) ([]models.Departure, error)
	// ListForDriver returns departures assigned to driverID scheduled in [from, to]
	ListForDriver(ctx context.Context, driverID string, from, to time.Time) ([]models.Departure, error)
}

// DayBounds returns the start and end of the calendar day containing t in loc
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	// AddDate keeps 23h and 25h days on local midnight
	return start, start.AddDate(0, 0, 1).Add(-time.Second)
}

// ConfirmedBookings filters out cancelled bookings
func ConfirmedBookings(d *models.Departure) []models.Booking {
	out := make([]models.Booking, 0, len(d.Bookings))
	for _, b := range d.Bookings {
		if strings.EqualFold(b.Status, models.BookingStatusCancelled) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// MemorySource is an in-process Source used by tests and local demos
type MemorySource struct {
	mu         sync.RWMutex
	departures map[string]models.Departure
}

func NewMemorySource(departures ...models.Departure) *MemorySource {
	s := &MemorySource{departures: make(map[string]models.Departure)}
	for _, d := range departures {
		s.departures[d.ID] = d
	}
	return s
}

func (s *MemorySource) Put(d models.Departure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.departures[d.ID] = d
}

func (s *MemorySource) Get(ctx context.Context, departureID string) (*models.Departure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.departures[departureID]
	if !ok {
		return nil, fmt.Errorf("departure %s: %w", departureID, apperrors.ErrNotFound)
	}
	return &d, nil
}

func (s *MemorySource) ListBetween(ctx context.Context, from, to time.Time) ([]models.Departure, error) {
	return s.list(from, to, func(models.Departure) bool { return true }), nil
}

func (s *MemorySource) ListForDriver(ctx context.Context, driverID string, from, to time.Time) ([]models.Departure, error) {
	return s.list(from, to, func(d models.Departure) bool { return d.AssignedTo(driverID) }), nil
}

func (s *MemorySource) list(from, to time.Time, keep func(models.Departure) bool) []models.Departure {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Departure
	for _, d := range s.departures {
		if d.ScheduledAt < from.Unix() || d.ScheduledAt > to.Unix() || !keep(d) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt < out[j].ScheduledAt })
	return out
}
