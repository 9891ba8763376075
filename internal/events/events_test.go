package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shuttle-backend/internal/metrics"
	"shuttle-backend/internal/models"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *capturePublisher) Publish(ctx context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *capturePublisher) Close() error { return nil }

type captureHub struct {
	roles map[string][]interface{}
	users map[string][]interface{}
}

func newCaptureHub() *captureHub {
	return &captureHub{roles: map[string][]interface{}{}, users: map[string][]interface{}{}}
}

func (h *captureHub) BroadcastToRole(role string, data interface{}) {
	h.roles[role] = append(h.roles[role], data)
}

func (h *captureHub) BroadcastToUser(userID string, data interface{}) {
	h.users[userID] = append(h.users[userID], data)
}

type captureInvalidator struct{ ids []string }

func (c *captureInvalidator) Invalidate(ctx context.Context, departureID string) {
	c.ids = append(c.ids, departureID)
}

func TestFanoutStatusChanged(t *testing.T) {
	pub := &capturePublisher{}
	hub := newCaptureHub()
	inv := &captureInvalidator{}
	f := NewFanout(pub, hub, inv, nil)

	driver := "drv-1"
	dep := &models.Departure{ID: "dep-1", DriverID: &driver}
	session := &models.TrackingSession{ID: "s-1", DepartureID: "dep-1", Status: models.TripStatusEnRoute, LastChangedBy: "drv-1", LastChangedAt: 100}

	f.StatusChanged(context.Background(), dep, session, models.TripStatusBoarding)

	require.Len(t, pub.events, 1)
	e := pub.events[0]
	assert.Equal(t, TypeTripStatus, e.Type)
	assert.Equal(t, models.TripStatusBoarding, e.From)
	assert.Equal(t, models.TripStatusEnRoute, e.Status)
	assert.Equal(t, []string{"dep-1"}, inv.ids)
	assert.Len(t, hub.roles[models.RoleAdmin], 1)
	assert.Empty(t, hub.users, "driver made the change")

	session.LastChangedBy = "ops-1"
	f.StatusChanged(context.Background(), dep, session, models.TripStatusEnRoute)
	assert.Len(t, hub.users["drv-1"], 1)
}

func TestFanoutLocationAndPublishFailure(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	m := metrics.NewCollector()
	f := NewFanout(pub, nil, nil, m)

	session := &models.TrackingSession{ID: "s-1", DepartureID: "dep-1", Status: models.TripStatusEnRoute}
	sample := &models.LocationSample{ID: "l-1", SessionID: "s-1", Latitude: 1, Longitude: 2, CapturedAt: 200}

	f.LocationRecorded(context.Background(), session, sample)

	require.Len(t, pub.events, 1)
	assert.Equal(t, TypeTripLocation, pub.events[0].Type)
	assert.Equal(t, int64(200), pub.events[0].OccurredAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("error")))
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "shuttle.trips.dep_1.status", Subject("shuttle.trips", Event{Type: TypeTripStatus, DepartureID: "dep.1"}))
	assert.Equal(t, "shuttle.trips._.position", Subject("shuttle.trips", Event{Type: TypeTripLocation}))
	assert.Equal(t, "a_b_c", subjectToken(" a>b*c "))
}

func TestKafkaWriterFlushesPromptly(t *testing.T) {
	p := NewKafkaPublisher([]string{"localhost:9092"}, "trip-events")
	defer p.Close()

	assert.Equal(t, 1, p.writer.BatchSize)
	assert.LessOrEqual(t, p.writer.BatchTimeout, 10*time.Millisecond)
	assert.False(t, p.writer.Async)
}
