package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"shuttle-backend/internal/booking"
	"shuttle-backend/internal/models"
	"shuttle-backend/internal/services"
	"shuttle-backend/internal/tracking"
	"shuttle-backend/pkg/utils"
)

// DriverDeparture is one row of the driver's day
type DriverDeparture struct {
	Departure      models.Departure        `json:"departure"`
	Session        *models.TrackingSession `json:"session,omitempty"`
	Status         models.TripStatus       `json:"status"`
	ConfirmedSeats int                     `json:"confirmed_seats"`
	NextStatuses   []models.TripStatus     `json:"next_statuses"`
}

// GetTodayDepartures lists today's departures assigned to the driver, or
// all of today's departures for ops
func GetTodayDepartures(departures booking.Source, trips *tracking.Service, loc *time.Location, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}

		from, to := booking.DayBounds(time.Now(), loc)
		var (
			deps []models.Departure
			err  error
		)
		ctx, cancel := storageContext(r, timeout)
		if actor.IsAdmin() {
			deps, err = departures.ListBetween(ctx, from, to)
		} else {
			deps, err = departures.ListForDriver(ctx, actor.UserID, from, to)
		}
		cancel()
		if err != nil {
			respondServiceError(w, err)
			return
		}

		ids := make([]string, len(deps))
		for i, d := range deps {
			ids[i] = d.ID
		}
		sessions, err := trips.SessionsForDepartures(r.Context(), ids)
		if err != nil {
			respondServiceError(w, err)
			return
		}

		out := make([]DriverDeparture, 0, len(deps))
		for _, d := range deps {
			row := DriverDeparture{Departure: d, Status: models.TripStatusScheduled}
			if s, ok := sessions[d.ID]; ok {
				row.Session = s
				row.Status = s.Status
			}
			for _, b := range booking.ConfirmedBookings(&d) {
				row.ConfirmedSeats += b.Seats
			}
			row.NextStatuses = tracking.NextStatuses(row.Status)
			out = append(out, row)
		}

		utils.RespondSuccess(w, http.StatusOK, out)
	}
}

type LocationRequest struct {
	Latitude   float64  `json:"latitude" validate:"latitude"`
	Longitude  float64  `json:"longitude" validate:"longitude"`
	Speed      *float64 `json:"speed"`
	Heading    *float64 `json:"heading" validate:"omitempty,min=0,max=360"`
	Accuracy   *float64 `json:"accuracy"`
	CapturedAt int64    `json:"captured_at" validate:"min=0"`
}

func (l *LocationRequest) sample() *models.LocationSample {
	return &models.LocationSample{
		Latitude:   l.Latitude,
		Longitude:  l.Longitude,
		Speed:      l.Speed,
		Heading:    l.Heading,
		Accuracy:   l.Accuracy,
		CapturedAt: l.CapturedAt,
	}
}

type StatusRequest struct {
	Status         models.TripStatus `json:"status" validate:"required"`
	PassengerCount *int              `json:"passenger_count" validate:"omitempty,min=0"`
	DelayMinutes   int               `json:"delay_minutes" validate:"min=0,max=1440"`
	Location       *LocationRequest  `json:"location"`
}

// UpdateTripStatus moves a departure's trip through its lifecycle
func UpdateTripStatus(trips *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}

		var req StatusRequest
		if err := decodeBody(r, &req); err != nil {
			respondServiceError(w, err)
			return
		}

		departureID := chi.URLParam(r, "id")
		log.Printf("📥 Status %s for departure %s by %s", req.Status, departureID, actor.UserID)

		tr := tracking.TransitionRequest{
			DepartureID:    departureID,
			Target:         req.Status,
			PassengerCount: req.PassengerCount,
			DelayMinutes:   req.DelayMinutes,
		}
		if req.Location != nil {
			tr.Location = req.Location.sample()
		}

		session, err := trips.Transition(r.Context(), actor, tr)
		if err != nil {
			log.Printf("❌ Status change refused: %v", err)
			respondServiceError(w, err)
			return
		}

		utils.RespondSuccess(w, http.StatusOK, map[string]interface{}{
			"session":       session,
			"next_statuses": tracking.NextStatuses(session.Status),
		})
	}
}

// RecordLocation stores one GPS fix for an active session
func RecordLocation(trips *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}

		var req LocationRequest
		if err := decodeBody(r, &req); err != nil {
			respondServiceError(w, err)
			return
		}

		sample, err := trips.RecordLocation(r.Context(), actor, chi.URLParam(r, "id"), *req.sample())
		if err != nil {
			respondServiceError(w, err)
			return
		}

		utils.RespondSuccess(w, http.StatusCreated, sample)
	}
}

type FCMTokenRequest struct {
	Token      string `json:"token" validate:"required"`
	DeviceType string `json:"device_type" validate:"required,oneof=ios android"`
}

// RegisterFCMToken saves the caller's device for push notifications
func RegisterFCMToken(tokens services.TokenStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}

		var req FCMTokenRequest
		if err := decodeBody(r, &req); err != nil {
			respondServiceError(w, err)
			return
		}

		token := &models.FCMToken{UserID: actor.UserID, Token: req.Token, DeviceType: req.DeviceType}
		if err := tokens.Upsert(r.Context(), token); err != nil {
			respondServiceError(w, err)
			return
		}

		log.Printf("✅ FCM token registered for %s (%s)", actor.UserID, req.DeviceType)
		utils.RespondSuccess(w, http.StatusOK, map[string]interface{}{"registered": true})
	}
}
