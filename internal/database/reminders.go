package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"shuttle-backend/internal/apperrors"
	"shuttle-backend/internal/models"
	"shuttle-backend/internal/reminder"
)

// ReminderStore persists reminder records. The unique departure_id is what
// makes the claim atomic across processes.
type ReminderStore struct {
	db *sqlx.DB
}

var _ reminder.Store = (*ReminderStore)(nil)

func NewReminderStore(db *sqlx.DB) *ReminderStore {
	return &ReminderStore{db: db}
}

const reminderColumns = `id, departure_id, status, sent_at, sent_count, failed_count, error_summary, created_at, updated_at`

func (s *ReminderStore) Claim(ctx context.Context, departureID string, now time.Time) (*models.ReminderRecord, bool, error) {
	var rec models.ReminderRecord
	err := s.db.GetContext(ctx, &rec, `
		INSERT INTO reminder_records (id, departure_id, status, sent_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4, $4)
		ON CONFLICT (departure_id) DO NOTHING
		RETURNING `+reminderColumns,
		uuid.New().String(), departureID, models.ReminderStatusDispatching, now.Unix())
	if err == nil {
		return &rec, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to claim reminder: %w", err)
	}

	err = s.db.GetContext(ctx, &rec, `SELECT `+reminderColumns+` FROM reminder_records WHERE departure_id = $1`, departureID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing reminder: %w", err)
	}
	return &rec, false, nil
}

func (s *ReminderStore) Complete(ctx context.Context, reminderID string, sent, failed int, errSummary *string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reminder_records
		SET status = $2, sent_count = $3, failed_count = $4, error_summary = $5, updated_at = $6
		WHERE id = $1
	`, reminderID, models.ReminderStatusCompleted, sent, failed, errSummary, now.Unix())
	if err != nil {
		return fmt.Errorf("failed to complete reminder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reminder %s: %w", reminderID, apperrors.ErrNotFound)
	}
	return nil
}

func (s *ReminderStore) ListByDepartures(ctx context.Context, departureIDs []string) (map[string]*models.ReminderRecord, error) {
	out := make(map[string]*models.ReminderRecord)
	if len(departureIDs) == 0 {
		return out, nil
	}
	var recs []models.ReminderRecord
	err := s.db.SelectContext(ctx, &recs,
		`SELECT `+reminderColumns+` FROM reminder_records WHERE departure_id = ANY($1)`, pq.Array(departureIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	for i := range recs {
		out[recs[i].DepartureID] = &recs[i]
	}
	return out, nil
}
