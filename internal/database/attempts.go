package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"shuttle-backend/internal/apperrors"
	"shuttle-backend/internal/models"
	"shuttle-backend/internal/notify"
)

// AttemptStore persists per-recipient notification attempts
type AttemptStore struct {
	db *sqlx.DB
}

var _ notify.AttemptStore = (*AttemptStore)(nil)

func NewAttemptStore(db *sqlx.DB) *AttemptStore {
	return &AttemptStore{db: db}
}

const attemptColumns = `id, reminder_id, batch_id, departure_id, recipient_name, recipient_phone, body,
	status, failure_class, error_detail, attempt_count, last_attempted_at, gateway_message_id,
	created_at, updated_at`

func (s *AttemptStore) CreatePending(ctx context.Context, attempts []*models.NotificationAttempt) error {
	if len(attempts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, a := range attempts {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO notification_attempts (`+attemptColumns+`)
			VALUES (:id, :reminder_id, :batch_id, :departure_id, :recipient_name, :recipient_phone, :body,
				:status, :failure_class, :error_detail, :attempt_count, :last_attempted_at, :gateway_message_id,
				:created_at, :updated_at)
		`, a)
		if err != nil {
			return fmt.Errorf("failed to create attempt: %w", err)
		}
	}
	return tx.Commit()
}

func (s *AttemptStore) Update(ctx context.Context, a *models.NotificationAttempt) error {
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE notification_attempts SET
			status = :status, failure_class = :failure_class, error_detail = :error_detail,
			attempt_count = :attempt_count, last_attempted_at = :last_attempted_at,
			gateway_message_id = :gateway_message_id, updated_at = :updated_at
		WHERE id = :id
	`, a)
	if err != nil {
		return fmt.Errorf("failed to update attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("attempt %s: %w", a.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (s *AttemptStore) ListByReminder(ctx context.Context, reminderID string) ([]models.NotificationAttempt, error) {
	attempts := []models.NotificationAttempt{}
	err := s.db.SelectContext(ctx, &attempts,
		`SELECT `+attemptColumns+` FROM notification_attempts WHERE reminder_id = $1 ORDER BY created_at, recipient_phone`, reminderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return attempts, nil
}

func (s *AttemptStore) ListByBatch(ctx context.Context, batchID string) ([]models.NotificationAttempt, error) {
	attempts := []models.NotificationAttempt{}
	err := s.db.SelectContext(ctx, &attempts,
		`SELECT `+attemptColumns+` FROM notification_attempts WHERE batch_id = $1 ORDER BY created_at, recipient_phone`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return attempts, nil
}

func (s *AttemptStore) CountsByReminder(ctx context.Context, reminderIDs []string) (map[string]models.AttemptCounts, error) {
	out := make(map[string]models.AttemptCounts)
	if len(reminderIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		ReminderID string `db:"reminder_id"`
		models.AttemptCounts
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT reminder_id,
			COUNT(*) FILTER (WHERE status = 'PENDING') AS pending,
			COUNT(*) FILTER (WHERE status = 'SENT') AS sent,
			COUNT(*) FILTER (WHERE status = 'FAILED') AS failed
		FROM notification_attempts
		WHERE reminder_id = ANY($1)
		GROUP BY reminder_id
	`, pq.Array(reminderIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}
	for _, r := range rows {
		out[r.ReminderID] = r.AttemptCounts
	}
	return out, nil
}
