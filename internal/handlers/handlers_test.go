package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"shuttle-backend/internal/apperrors"
	"shuttle-backend/internal/booking"
	"shuttle-backend/internal/eta"
	"shuttle-backend/internal/location"
	"shuttle-backend/internal/middleware"
	"shuttle-backend/internal/models"
	"shuttle-backend/internal/notify"
	"shuttle-backend/internal/reminder"
	"shuttle-backend/internal/services"
	"shuttle-backend/internal/tracking"
)

type fakeUsers map[string]*models.User

func (f fakeUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if u, ok := f[email]; ok {
		return u, nil
	}
	return nil, apperrors.ErrNotFound
}

type okDispatcher struct {
	mu      sync.Mutex
	batches []notify.Batch
}

func (d *okDispatcher) Dispatch(ctx context.Context, b notify.Batch) (notify.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, b)
	return notify.Result{BatchID: b.BatchID, Sent: len(b.Messages)}, nil
}

type api struct {
	router  http.Handler
	auth    *middleware.Authenticator
	tokens  *services.MemoryTokenStore
	records *reminder.MemoryStore
	sends   *okDispatcher
}

func newAPI(t *testing.T) *api {
	t.Helper()
	driverID, driverName, driverPhone := "drv-1", "Sam", "+15550100001"
	deps := booking.NewMemorySource(models.Departure{
		ID:          "dep-1",
		ScheduledAt: time.Now().Add(30 * time.Minute).Unix(),
		Capacity:    14,
		DriverID:    &driverID,
		DriverName:  &driverName,
		DriverPhone: &driverPhone,
		Route: models.Route{
			Name:                     "Airport Express",
			Origin:                   models.GeoPoint{Name: "Terminal 2", Latitude: 37.0, Longitude: -122.0},
			Destination:              models.GeoPoint{Name: "Harbor Resort", Latitude: 37.5, Longitude: -122.0},
			ScheduledDurationMinutes: 75,
		},
		Bookings: []models.Booking{
			{ID: "b-1", PassengerName: "Ana", Phone: "+15550000002", Seats: 2, Status: models.BookingStatusConfirmed},
			{ID: "b-2", PassengerName: "Ben", Phone: "+15550000003", Seats: 1, Status: models.BookingStatusCancelled},
		},
	})

	repo := tracking.NewMemoryRepository()
	locs := location.NewMemoryStore(repo.Status)
	trips := tracking.NewService(repo, locs, deps)
	etas := eta.NewService(deps, trips, locs, eta.NewEstimator(eta.DefaultConfig()))

	a := &api{
		auth:    middleware.NewAuth("test-secret", time.Hour),
		tokens:  services.NewMemoryTokenStore(),
		records: reminder.NewMemoryStore(),
		sends:   &okDispatcher{},
	}
	attempts := notify.NewMemoryAttemptStore()
	sched := reminder.NewScheduler(reminder.DefaultConfig(), deps, a.records, a.sends, attempts)

	hash, err := bcrypt.GenerateFromPassword([]byte("driver123"), bcrypt.MinCost)
	require.NoError(t, err)
	users := fakeUsers{"driver@shuttle.local": {ID: "drv-1", Email: "driver@shuttle.local", Password: string(hash), Role: models.RoleDriver}}

	r := chi.NewRouter()
	r.Post("/api/auth/login", Login(users, a.auth))
	r.Get("/api/departures/{id}/live", GetLiveStatus(etas))
	r.Group(func(r chi.Router) {
		r.Use(a.auth.Middleware)
		r.Route("/api/driver", func(r chi.Router) {
			r.Use(middleware.RequireRole(models.RoleDriver, models.RoleAdmin))
			r.Get("/departures/today", GetTodayDepartures(deps, trips, time.Local, time.Second))
			r.Post("/departures/{id}/status", UpdateTripStatus(trips))
			r.Post("/sessions/{id}/location", RecordLocation(trips))
			r.Post("/fcm-token", RegisterFCMToken(a.tokens))
		})
		r.Route("/api/ops", func(r chi.Router) {
			r.Use(middleware.RequireRole(models.RoleAdmin))
			r.Get("/reminders", GetReminderStatus(sched))
			r.Post("/reminders/trigger", TriggerReminders(sched))
			r.Get("/reminders/{departureId}/attempts", GetReminderAttempts(a.records, attempts, time.Second))
			r.Get("/departures/{id}/transitions", GetTripTransitions(trips))
		})
	})
	a.router = r
	return a
}

func (a *api) token(t *testing.T, id, role string) string {
	t.Helper()
	tok, err := a.auth.IssueToken(&models.User{ID: id, Role: role}, time.Now())
	require.NoError(t, err)
	return tok
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (a *api) do(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec.Code, env
}

func TestLogin(t *testing.T) {
	a := newAPI(t)

	code, env := a.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "driver@shuttle.local", "password": "driver123"})
	require.Equal(t, http.StatusOK, code)
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	claims, err := a.auth.ParseToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "drv-1", claims.UserID)

	code, _ = a.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "driver@shuttle.local", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = a.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDriverTripFlow(t *testing.T) {
	a := newAPI(t)
	driver := a.token(t, "drv-1", models.RoleDriver)

	code, env := a.do(t, http.MethodGet, "/api/departures/dep-1/live", "", nil)
	require.Equal(t, http.StatusOK, code)
	var live LiveStatusResponse
	require.NoError(t, json.Unmarshal(env.Data, &live))
	assert.Equal(t, models.TripStatusScheduled, live.Status)
	assert.Equal(t, 20, live.ETA.Confidence)
	require.NotNil(t, live.Driver)
	assert.Equal(t, "Sam", live.Driver.Name)
	assert.Nil(t, live.LastUpdateAt)

	code, env = a.do(t, http.MethodGet, "/api/driver/departures/today", driver, nil)
	require.Equal(t, http.StatusOK, code)
	var today []DriverDeparture
	require.NoError(t, json.Unmarshal(env.Data, &today))
	if len(today) == 1 { // departure may fall on tomorrow near midnight
		assert.Equal(t, 2, today[0].ConfirmedSeats)
		assert.Equal(t, []models.TripStatus{models.TripStatusBoarding}, today[0].NextStatuses)
	}

	code, env = a.do(t, http.MethodPost, "/api/driver/departures/dep-1/status", driver,
		map[string]interface{}{"status": "BOARDING", "passenger_count": 2, "location": map[string]float64{"latitude": 37.0, "longitude": -122.0}})
	require.Equal(t, http.StatusOK, code, env.Error)
	var moved struct {
		Session models.TrackingSession `json:"session"`
		Next    []models.TripStatus    `json:"next_statuses"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &moved))
	assert.Equal(t, models.TripStatusBoarding, moved.Session.Status)
	assert.ElementsMatch(t, []models.TripStatus{models.TripStatusEnRoute, models.TripStatusDelayed}, moved.Next)

	code, _ = a.do(t, http.MethodPost, "/api/driver/departures/dep-1/status", driver, map[string]interface{}{"status": "COMPLETED"})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = a.do(t, http.MethodPost, "/api/driver/departures/dep-1/status", a.token(t, "drv-2", models.RoleDriver), map[string]interface{}{"status": "EN_ROUTE"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = a.do(t, http.MethodPost, "/api/driver/departures/dep-1/status", driver, map[string]interface{}{"status": "EN_ROUTE", "delay_minutes": -5})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(t, http.MethodPost, "/api/driver/sessions/"+moved.Session.ID+"/location", driver,
		map[string]interface{}{"latitude": 37.1, "longitude": -122.0, "speed": 15.0})
	assert.Equal(t, http.StatusCreated, code)

	code, _ = a.do(t, http.MethodPost, "/api/driver/sessions/"+moved.Session.ID+"/location", driver,
		map[string]interface{}{"latitude": 137.1, "longitude": -122.0})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = a.do(t, http.MethodGet, "/api/departures/dep-1/live", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &live))
	assert.Equal(t, models.TripStatusBoarding, live.Status)
	assert.NotNil(t, live.LastUpdateAt)
	assert.Equal(t, models.ETASourceGPS, live.ETA.Source)

	for _, s := range []string{"EN_ROUTE", "ARRIVED"} {
		code, env = a.do(t, http.MethodPost, "/api/driver/departures/dep-1/status", driver, map[string]interface{}{"status": s})
		require.Equal(t, http.StatusOK, code, env.Error)
	}

	code, _ = a.do(t, http.MethodPost, "/api/driver/sessions/"+moved.Session.ID+"/location", driver,
		map[string]interface{}{"latitude": 37.5, "longitude": -122.0})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	ops := a.token(t, "ops-1", models.RoleAdmin)
	code, env = a.do(t, http.MethodGet, "/api/ops/departures/dep-1/transitions", ops, nil)
	require.Equal(t, http.StatusOK, code)
	var audit struct {
		Transitions []models.TripTransition `json:"transitions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &audit))
	assert.Len(t, audit.Transitions, 3)
}

func TestLiveStatusUnknownDeparture(t *testing.T) {
	a := newAPI(t)
	code, env := a.do(t, http.MethodGet, "/api/departures/nope/live", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, env.Success)
}

func TestRegisterFCMToken(t *testing.T) {
	a := newAPI(t)
	driver := a.token(t, "drv-1", models.RoleDriver)

	code, _ := a.do(t, http.MethodPost, "/api/driver/fcm-token", driver, map[string]string{"token": "abc", "device_type": "android"})
	require.Equal(t, http.StatusOK, code)
	tokens, _ := a.tokens.TokensForUser(context.Background(), "drv-1")
	assert.Equal(t, []string{"abc"}, tokens)

	code, _ = a.do(t, http.MethodPost, "/api/driver/fcm-token", driver, map[string]string{"token": "abc", "device_type": "pager"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestOpsReminderEndpoints(t *testing.T) {
	a := newAPI(t)
	ops := a.token(t, "ops-1", models.RoleAdmin)

	code, _ := a.do(t, http.MethodGet, "/api/ops/reminders", a.token(t, "drv-1", models.RoleDriver), nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env := a.do(t, http.MethodGet, "/api/ops/reminders", ops, nil)
	require.Equal(t, http.StatusOK, code)
	var report reminder.StatusReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	require.Len(t, report.Departures, 1)
	assert.Equal(t, 1, report.Departures[0].Recipients)

	code, env = a.do(t, http.MethodPost, "/api/ops/reminders/trigger", ops,
		map[string]interface{}{"departure_id": "dep-1", "phones": []string{"+15550000009"}})
	require.Equal(t, http.StatusOK, code, env.Error)
	var res reminder.TriggerResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "manual", res.Mode)
	assert.Equal(t, 2, res.Recipients)

	code, _ = a.do(t, http.MethodPost, "/api/ops/reminders/trigger", ops, map[string]interface{}{"phones": []string{"+15550000009"}})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(t, http.MethodGet, "/api/ops/reminders/dep-1/attempts", ops, nil)
	assert.Equal(t, http.StatusNotFound, code, "manual sends create no record")

	code, env = a.do(t, http.MethodPost, "/api/ops/reminders/trigger", ops, nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "window", res.Mode)
}

type hungDepartures struct{ booking.Source }

func (hungDepartures) ListForDriver(ctx context.Context, driverID string, from, to time.Time) ([]models.Departure, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestTodayDeparturesTimesOutOnHungStore(t *testing.T) {
	a := newAPI(t)
	src := hungDepartures{booking.NewMemorySource()}
	repo := tracking.NewMemoryRepository()
	trips := tracking.NewService(repo, location.NewMemoryStore(repo.Status), src)

	r := chi.NewRouter()
	r.Use(a.auth.Middleware)
	r.Get("/today", GetTodayDepartures(src, trips, time.UTC, 50*time.Millisecond))

	req := httptest.NewRequest(http.MethodGet, "/today", nil)
	req.Header.Set("Authorization", "Bearer "+a.token(t, "drv-1", models.RoleDriver))
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		r.ServeHTTP(rec, req)
		close(done)
	}()
	select {
	case <-done:
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not give up on the hung store")
	}
}
