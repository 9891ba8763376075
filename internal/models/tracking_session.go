package models

import "time"

type TripStatus string

const (
	TripStatusScheduled TripStatus = "SCHEDULED"
	TripStatusBoarding  TripStatus = "BOARDING"
	TripStatusEnRoute   TripStatus = "EN_ROUTE"
	TripStatusDelayed   TripStatus = "DELAYED"
	TripStatusArrived   TripStatus = "ARRIVED"
	TripStatusCompleted TripStatus = "COMPLETED"
)

// Trackable reports whether location samples are accepted in this status
func (s TripStatus) Trackable() bool {
	switch s {
	case TripStatusBoarding, TripStatusEnRoute, TripStatusDelayed:
		return true
	}
	return false
}

// Finished reports whether the vehicle has reached its destination
func (s TripStatus) Finished() bool {
	return s == TripStatusArrived || s == TripStatusCompleted
}

func (s TripStatus) Valid() bool {
	switch s {
	case TripStatusScheduled, TripStatusBoarding, TripStatusEnRoute,
		TripStatusDelayed, TripStatusArrived, TripStatusCompleted:
		return true
	}
	return false
}

// TrackingSession is the live operational state of one departure.
// Created on the first BOARDING transition, one per departure.
type TrackingSession struct {
	ID             string     `json:"id" db:"id"`
	DepartureID    string     `json:"departure_id" db:"departure_id"`
	Status         TripStatus `json:"status" db:"status"`
	PassengerCount int        `json:"passenger_count" db:"passenger_count"`
	StartedAt      *int64     `json:"started_at,omitempty" db:"started_at"`
	DelayMinutes   int        `json:"delay_minutes" db:"delay_minutes"`
	DelayActive    bool       `json:"delay_active" db:"delay_active"`
	ArrivedAt      *int64     `json:"arrived_at,omitempty" db:"arrived_at"`
	CompletedAt    *int64     `json:"completed_at,omitempty" db:"completed_at"`
	LastChangedAt  int64      `json:"last_changed_at" db:"last_changed_at"`
	LastChangedBy  string     `json:"last_changed_by" db:"last_changed_by"`
	Version        int        `json:"version" db:"version"`
	CreatedAt      int64      `json:"created_at" db:"created_at"`
	UpdatedAt      int64      `json:"updated_at" db:"updated_at"`
}

// TripStarted returns the trip-started time, if the trip has left
func (s *TrackingSession) TripStarted() (time.Time, bool) {
	if s == nil || s.StartedAt == nil {
		return time.Time{}, false
	}
	return time.Unix(*s.StartedAt, 0), true
}

// TripTransition is the audit row written alongside every accepted status change
type TripTransition struct {
	ID             string     `json:"id" db:"id"`
	SessionID      string     `json:"session_id" db:"session_id"`
	FromStatus     TripStatus `json:"from_status" db:"from_status"`
	ToStatus       TripStatus `json:"to_status" db:"to_status"`
	Actor          string     `json:"actor" db:"actor"`
	PassengerCount *int       `json:"passenger_count,omitempty" db:"passenger_count"`
	DelayMinutes   int        `json:"delay_minutes" db:"delay_minutes"`
	CreatedAt      int64      `json:"created_at" db:"created_at"`
}
