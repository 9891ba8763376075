package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"shuttle-backend/internal/apperrors"
	"shuttle-backend/internal/models"
	"shuttle-backend/internal/reminder"
	"shuttle-backend/internal/tracking"
	"shuttle-backend/pkg/utils"
)

// ReminderRecords looks up reminder records by departure
type ReminderRecords interface {
	ListByDepartures(ctx context.Context, departureIDs []string) (map[string]*models.ReminderRecord, error)
}

// AttemptLister lists delivery attempts
type AttemptLister interface {
	ListByReminder(ctx context.Context, reminderID string) ([]models.NotificationAttempt, error)
	ListByBatch(ctx context.Context, batchID string) ([]models.NotificationAttempt, error)
}

// GetReminderStatus is the ops view of the reminder window
func GetReminderStatus(sched *reminder.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := sched.Status(r.Context())
		if err != nil {
			respondServiceError(w, err)
			return
		}
		utils.RespondSuccess(w, http.StatusOK, report)
	}
}

type TriggerRequest struct {
	DepartureID string   `json:"departure_id"`
	Phones      []string `json:"phones" validate:"omitempty,max=500,dive,required"`
	Template    string   `json:"template"`
	Message     string   `json:"message" validate:"max=640"`
}

// TriggerReminders runs the window scan now, or sends a manual batch when a
// departure or phone list is given
func TriggerReminders(sched *reminder.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}

		var req TriggerRequest
		if err := decodeBody(r, &req); err != nil {
			respondServiceError(w, err)
			return
		}

		res, err := sched.Trigger(r.Context(), actor, reminder.TriggerRequest{
			DepartureID: req.DepartureID,
			Phones:      req.Phones,
			Template:    req.Template,
			Message:     req.Message,
		})
		if err != nil {
			log.Printf("❌ Reminder trigger by %s failed: %v", actor.UserID, err)
			respondServiceError(w, err)
			return
		}
		utils.RespondSuccess(w, http.StatusOK, res)
	}
}

// GetReminderAttempts lists the delivery attempts of a departure's automatic
// reminder, or of a manual batch with ?batch_id=
func GetReminderAttempts(records ReminderRecords, attempts AttemptLister, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := storageContext(r, timeout)
		defer cancel()

		if batchID := r.URL.Query().Get("batch_id"); batchID != "" {
			list, err := attempts.ListByBatch(ctx, batchID)
			if err != nil {
				respondServiceError(w, err)
				return
			}
			utils.RespondSuccess(w, http.StatusOK, map[string]interface{}{"batch_id": batchID, "attempts": list})
			return
		}

		departureID := chi.URLParam(r, "departureId")
		recs, err := records.ListByDepartures(ctx, []string{departureID})
		if err != nil {
			respondServiceError(w, err)
			return
		}
		rec, ok := recs[departureID]
		if !ok {
			respondServiceError(w, apperrors.ErrNotFound)
			return
		}

		list, err := attempts.ListByReminder(ctx, rec.ID)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		utils.RespondSuccess(w, http.StatusOK, map[string]interface{}{"reminder": rec, "attempts": list})
	}
}

// GetTripTransitions returns the audit trail of a departure's trip
func GetTripTransitions(trips *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := trips.SessionForDeparture(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondServiceError(w, err)
			return
		}
		transitions, err := trips.Transitions(r.Context(), session.ID)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		utils.RespondSuccess(w, http.StatusOK, map[string]interface{}{"session": session, "transitions": transitions})
	}
}
