// Package events fans accepted trip changes out to the event bus, the ops
// websocket feed and the live-status cache.
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"shuttle-backend/internal/metrics"
	"shuttle-backend/internal/models"
)

const (
	TypeTripStatus   = "trip_status"
	TypeTripLocation = "trip_location"
)

// Event is the payload published for every accepted status change or sample
type Event struct {
	Type        string                 `json:"type"`
	DepartureID string                 `json:"departure_id"`
	SessionID   string                 `json:"session_id"`
	Status      models.TripStatus      `json:"status"`
	From        models.TripStatus      `json:"from,omitempty"`
	ChangedBy   string                 `json:"changed_by,omitempty"`
	DelayMins   int                    `json:"delay_minutes,omitempty"`
	Passengers  int                    `json:"passenger_count,omitempty"`
	Location    *models.LocationSample `json:"location,omitempty"`
	OccurredAt  int64                  `json:"occurred_at"`
}

func (e Event) Marshal() ([]byte, error) { return json.Marshal(e) }

// Publisher delivers events to an external bus
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher drops events
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// Broadcaster pushes to connected websocket clients
type Broadcaster interface {
	BroadcastToRole(role string, data interface{})
	BroadcastToUser(userID string, data interface{})
}

// Invalidator drops cached live status for a departure
type Invalidator interface {
	Invalidate(ctx context.Context, departureID string)
}

// Fanout receives tracking changes after they are stored. Each sink is
// optional and failures are logged, never returned.
type Fanout struct {
	publisher   Publisher
	hub         Broadcaster
	invalidator Invalidator
	metrics     *metrics.Collector
	timeout     time.Duration
}

func NewFanout(publisher Publisher, hub Broadcaster, invalidator Invalidator, m *metrics.Collector) *Fanout {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Fanout{publisher: publisher, hub: hub, invalidator: invalidator, metrics: m, timeout: 2 * time.Second}
}

func (f *Fanout) StatusChanged(ctx context.Context, dep *models.Departure, session *models.TrackingSession, from models.TripStatus) {
	e := Event{
		Type:        TypeTripStatus,
		DepartureID: session.DepartureID,
		SessionID:   session.ID,
		Status:      session.Status,
		From:        from,
		ChangedBy:   session.LastChangedBy,
		DelayMins:   session.DelayMinutes,
		Passengers:  session.PassengerCount,
		OccurredAt:  session.LastChangedAt,
	}
	f.emit(ctx, e)

	// the assigned driver sees changes made on their behalf by ops
	if f.hub != nil && dep != nil && dep.DriverID != nil && *dep.DriverID != session.LastChangedBy {
		f.hub.BroadcastToUser(*dep.DriverID, map[string]interface{}{"type": e.Type, "data": e})
	}
}

func (f *Fanout) LocationRecorded(ctx context.Context, session *models.TrackingSession, sample *models.LocationSample) {
	f.emit(ctx, Event{
		Type:        TypeTripLocation,
		DepartureID: session.DepartureID,
		SessionID:   session.ID,
		Status:      session.Status,
		Location:    sample,
		OccurredAt:  sample.CapturedAt,
	})
}

func (f *Fanout) emit(ctx context.Context, e Event) {
	if f.invalidator != nil {
		f.invalidator.Invalidate(ctx, e.DepartureID)
	}

	if f.hub != nil {
		f.hub.BroadcastToRole(models.RoleAdmin, map[string]interface{}{"type": e.Type, "data": e})
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()
	err := f.publisher.Publish(pctx, e)
	f.metrics.EventPublished(err)
	if err != nil {
		log.Printf("⚠️  Failed to publish %s for departure %s: %v", e.Type, e.DepartureID, err)
	}
}
