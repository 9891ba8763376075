package models

import "time"

// LocationSample is one GPS fix reported by the driver app. Immutable.
type LocationSample struct {
	ID         string   `json:"id" db:"id"`
	SessionID  string   `json:"session_id" db:"session_id"`
	Latitude   float64  `json:"latitude" db:"latitude"`
	Longitude  float64  `json:"longitude" db:"longitude"`
	Speed      *float64 `json:"speed,omitempty" db:"speed"`       // m/s
	Heading    *float64 `json:"heading,omitempty" db:"heading"`   // degrees
	Accuracy   *float64 `json:"accuracy,omitempty" db:"accuracy"` // meters
	CapturedAt int64    `json:"captured_at" db:"captured_at"`     // Unix timestamp
	CreatedAt  int64    `json:"created_at" db:"created_at"`
}

func (s *LocationSample) CapturedTime() time.Time {
	return time.Unix(s.CapturedAt, 0)
}
