package models

type ETASource string

const (
	ETASourceSchedule ETASource = "schedule"
	ETASourceGPS      ETASource = "gps"
	ETASourceRecorded ETASource = "recorded"
)

// ETAEstimate is derived on demand and never stored as a record of truth
type ETAEstimate struct {
	EstimatedArrival int64     `json:"estimated_arrival"` // Unix timestamp
	MinutesRemaining int       `json:"minutes_remaining"`
	Confidence       int       `json:"confidence"` // 0-100
	Progress         float64   `json:"progress"`   // 0-100
	Source           ETASource `json:"source"`
	LastSampleAt     *int64    `json:"last_sample_at,omitempty"`
	ComputedAt       int64     `json:"computed_at"`
}
