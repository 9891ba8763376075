package tracking

import (
	"time"

	"github.com/google/uuid"

	"shuttle-backend/internal/models"
)

// legal successors per status. DELAYED may be re-entered to add more delay.
var transitions = map[models.TripStatus][]models.TripStatus{
	models.TripStatusScheduled: {models.TripStatusBoarding},
	models.TripStatusBoarding:  {models.TripStatusEnRoute, models.TripStatusDelayed},
	models.TripStatusEnRoute:   {models.TripStatusDelayed, models.TripStatusArrived},
	models.TripStatusDelayed:   {models.TripStatusEnRoute, models.TripStatusDelayed},
	models.TripStatusArrived:   {models.TripStatusCompleted},
}

// CanTransition reports whether from -> to is a legal move
func CanTransition(from, to models.TripStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses lists the statuses reachable from s
func NextStatuses(s models.TripStatus) []models.TripStatus {
	return append([]models.TripStatus(nil), transitions[s]...)
}

// apply builds the next session state and its audit row. current is nil when
// the departure has no session yet.
func apply(current *models.TrackingSession, departureID string, req TransitionRequest, actor models.Actor, now time.Time) (*models.TrackingSession, *models.TripTransition) {
	ts := now.Unix()
	from := models.TripStatusScheduled

	var next models.TrackingSession
	if current == nil {
		next = models.TrackingSession{
			ID:          uuid.New().String(),
			DepartureID: departureID,
			CreatedAt:   ts,
		}
	} else {
		next = *current
		from = current.Status
	}

	switch req.Target {
	case models.TripStatusEnRoute:
		next.DelayActive = false
		if next.StartedAt == nil {
			started := ts
			next.StartedAt = &started
		}
	case models.TripStatusDelayed:
		next.DelayMinutes += req.DelayMinutes
		next.DelayActive = true
	case models.TripStatusArrived:
		arrived := ts
		next.ArrivedAt = &arrived
		next.DelayActive = false
	case models.TripStatusCompleted:
		completed := ts
		next.CompletedAt = &completed
	}

	if req.PassengerCount != nil {
		next.PassengerCount = *req.PassengerCount
	}
	next.Status = req.Target
	next.LastChangedAt = ts
	next.LastChangedBy = actor.UserID
	next.UpdatedAt = ts
	next.Version++

	tr := &models.TripTransition{
		ID:             uuid.New().String(),
		SessionID:      next.ID,
		FromStatus:     from,
		ToStatus:       req.Target,
		Actor:          actor.UserID,
		PassengerCount: req.PassengerCount,
		DelayMinutes:   req.DelayMinutes,
		CreatedAt:      ts,
	}
	return &next, tr
}
