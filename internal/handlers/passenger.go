package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"shuttle-backend/internal/eta"
	"shuttle-backend/internal/models"
	"shuttle-backend/pkg/utils"
)

type DriverContact struct {
	Name  string  `json:"name"`
	Phone *string `json:"phone,omitempty"`
}

// LiveStatusResponse is what passengers poll while waiting for or riding a shuttle
type LiveStatusResponse struct {
	DepartureID  string             `json:"departure_id"`
	RouteName    string             `json:"route_name"`
	Origin       string             `json:"origin"`
	Destination  string             `json:"destination"`
	ScheduledAt  int64              `json:"scheduled_at"`
	Status       models.TripStatus  `json:"status"`
	DelayMinutes int                `json:"delay_minutes"`
	ETA          models.ETAEstimate `json:"eta"`
	LastUpdateAt *int64             `json:"last_update_at,omitempty"`
	Driver       *DriverContact     `json:"driver,omitempty"`
	VehicleCode  *string            `json:"vehicle_code,omitempty"`
}

func liveResponse(live *eta.LiveStatus) LiveStatusResponse {
	dep := live.Departure
	out := LiveStatusResponse{
		DepartureID: dep.ID,
		RouteName:   dep.Route.Name,
		Origin:      dep.Route.Origin.Name,
		Destination: dep.Route.Destination.Name,
		ScheduledAt: dep.ScheduledAt,
		Status:      live.Status,
		ETA:         live.Estimate,
		VehicleCode: dep.VehicleCode,
	}
	if live.Session != nil {
		out.DelayMinutes = live.Session.DelayMinutes
		last := live.Session.LastChangedAt
		if live.Estimate.LastSampleAt != nil && *live.Estimate.LastSampleAt > last {
			last = *live.Estimate.LastSampleAt
		}
		out.LastUpdateAt = &last
	}
	if dep.DriverID != nil {
		c := &DriverContact{Phone: dep.DriverPhone}
		if dep.DriverName != nil {
			c.Name = *dep.DriverName
		}
		out.Driver = c
	}
	return out
}

// GetLiveStatus returns status and ETA for a departure
func GetLiveStatus(etas *eta.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		live, err := etas.ForDeparture(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondServiceError(w, err)
			return
		}
		utils.RespondSuccess(w, http.StatusOK, liveResponse(live))
	}
}
