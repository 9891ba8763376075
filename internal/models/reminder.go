package models

type ReminderStatus string

const (
	ReminderStatusDispatching ReminderStatus = "dispatching"
	ReminderStatusCompleted   ReminderStatus = "completed"
)

// ReminderRecord marks that the automatic pickup reminder for a departure
// was handled. At most one per departure.
type ReminderRecord struct {
	ID           string         `json:"id" db:"id"`
	DepartureID  string         `json:"departure_id" db:"departure_id"`
	Status       ReminderStatus `json:"status" db:"status"`
	SentAt       int64          `json:"sent_at" db:"sent_at"`
	SentCount    int            `json:"sent_count" db:"sent_count"`
	FailedCount  int            `json:"failed_count" db:"failed_count"`
	ErrorSummary *string        `json:"error_summary,omitempty" db:"error_summary"`
	CreatedAt    int64          `json:"created_at" db:"created_at"`
	UpdatedAt    int64          `json:"updated_at" db:"updated_at"`
}

type AttemptStatus string

const (
	AttemptStatusPending AttemptStatus = "PENDING"
	AttemptStatusSent    AttemptStatus = "SENT"
	AttemptStatusFailed  AttemptStatus = "FAILED"
)

type FailureClass string

const (
	FailureTransient   FailureClass = "transient"
	FailurePermanent   FailureClass = "permanent"
	FailureUnavailable FailureClass = "unavailable"
)

// NotificationAttempt is the delivery record for one recipient. Automatic
// sends link to a ReminderRecord, manual sends only carry a batch id.
type NotificationAttempt struct {
	ID               string        `json:"id" db:"id"`
	ReminderID       *string       `json:"reminder_id,omitempty" db:"reminder_id"`
	BatchID          string        `json:"batch_id" db:"batch_id"`
	DepartureID      *string       `json:"departure_id,omitempty" db:"departure_id"`
	RecipientName    string        `json:"recipient_name" db:"recipient_name"`
	RecipientPhone   string        `json:"recipient_phone" db:"recipient_phone"`
	Body             string        `json:"body" db:"body"`
	Status           AttemptStatus `json:"status" db:"status"`
	FailureClass     *FailureClass `json:"failure_class,omitempty" db:"failure_class"`
	ErrorDetail      *string       `json:"error_detail,omitempty" db:"error_detail"`
	AttemptCount     int           `json:"attempt_count" db:"attempt_count"`
	LastAttemptedAt  *int64        `json:"last_attempted_at,omitempty" db:"last_attempted_at"`
	GatewayMessageID *string       `json:"gateway_message_id,omitempty" db:"gateway_message_id"`
	CreatedAt        int64         `json:"created_at" db:"created_at"`
	UpdatedAt        int64         `json:"updated_at" db:"updated_at"`
}

// AttemptCounts aggregates attempt statuses for one reminder
type AttemptCounts struct {
	Pending int `json:"pending" db:"pending"`
	Sent    int `json:"sent" db:"sent"`
	Failed  int `json:"failed" db:"failed"`
}
