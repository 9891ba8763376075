package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"shuttle-backend/internal/apperrors"
	"shuttle-backend/internal/models"
	"shuttle-backend/internal/tracking"
)

// SessionRepository stores tracking sessions and their transition audit rows
type SessionRepository struct {
	db *sqlx.DB
}

var _ tracking.Repository = (*SessionRepository)(nil)

func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, departure_id, status, passenger_count, started_at, delay_minutes,
	delay_active, arrived_at, completed_at, last_changed_at, last_changed_by, version,
	created_at, updated_at`

func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*models.TrackingSession, error) {
	var s models.TrackingSession
	err := r.db.GetContext(ctx, &s, `SELECT `+sessionColumns+` FROM tracking_sessions WHERE id = $1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &s, nil
}

func (r *SessionRepository) GetByDeparture(ctx context.Context, departureID string) (*models.TrackingSession, error) {
	var s models.TrackingSession
	err := r.db.GetContext(ctx, &s, `SELECT `+sessionColumns+` FROM tracking_sessions WHERE departure_id = $1`, departureID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session for departure %s: %w", departureID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &s, nil
}

func (r *SessionRepository) ListByDepartures(ctx context.Context, departureIDs []string) (map[string]*models.TrackingSession, error) {
	out := make(map[string]*models.TrackingSession)
	if len(departureIDs) == 0 {
		return out, nil
	}
	var sessions []models.TrackingSession
	err := r.db.SelectContext(ctx, &sessions,
		`SELECT `+sessionColumns+` FROM tracking_sessions WHERE departure_id = ANY($1)`, pq.Array(departureIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	for i := range sessions {
		out[sessions[i].DepartureID] = &sessions[i]
	}
	return out, nil
}

// Create inserts the session and its first transition in one transaction.
// The unique departure_id makes a concurrent second BOARDING lose.
func (r *SessionRepository) Create(ctx context.Context, session *models.TrackingSession, tr *models.TripTransition) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.NamedExecContext(ctx, `
		INSERT INTO tracking_sessions (`+sessionColumns+`)
		VALUES (:id, :departure_id, :status, :passenger_count, :started_at, :delay_minutes,
			:delay_active, :arrived_at, :completed_at, :last_changed_at, :last_changed_by, :version,
			:created_at, :updated_at)
		ON CONFLICT (departure_id) DO NOTHING
	`, session)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session for departure %s: %w", session.DepartureID, apperrors.ErrConflict)
	}

	if err := insertTransition(ctx, tx, tr); err != nil {
		return err
	}
	return tx.Commit()
}

// Update writes the session only if the stored version still matches
func (r *SessionRepository) Update(ctx context.Context, session *models.TrackingSession, expectedVersion int, tr *models.TripTransition) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE tracking_sessions SET
			status = $3, passenger_count = $4, started_at = $5, delay_minutes = $6,
			delay_active = $7, arrived_at = $8, completed_at = $9, last_changed_at = $10,
			last_changed_by = $11, version = $12, updated_at = $13
		WHERE id = $1 AND version = $2
	`, session.ID, expectedVersion,
		session.Status, session.PassengerCount, session.StartedAt, session.DelayMinutes,
		session.DelayActive, session.ArrivedAt, session.CompletedAt, session.LastChangedAt,
		session.LastChangedBy, session.Version, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM tracking_sessions WHERE id = $1)`, session.ID); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("session %s: %w", session.ID, apperrors.ErrNotFound)
		}
		return fmt.Errorf("session %s changed since version %d: %w", session.ID, expectedVersion, apperrors.ErrConflict)
	}

	if err := insertTransition(ctx, tx, tr); err != nil {
		return err
	}
	return tx.Commit()
}

func insertTransition(ctx context.Context, tx *sqlx.Tx, tr *models.TripTransition) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO trip_transitions (id, session_id, from_status, to_status, actor, passenger_count, delay_minutes, created_at)
		VALUES (:id, :session_id, :from_status, :to_status, :actor, :passenger_count, :delay_minutes, :created_at)
	`, tr)
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

func (r *SessionRepository) ListTransitions(ctx context.Context, sessionID string) ([]models.TripTransition, error) {
	transitions := []models.TripTransition{}
	err := r.db.SelectContext(ctx, &transitions, `
		SELECT id, session_id, from_status, to_status, actor, passenger_count, delay_minutes, created_at
		FROM trip_transitions
		WHERE session_id = $1
		ORDER BY created_at, id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	return transitions, nil
}

// Status reports a session's current status
func (r *SessionRepository) Status(ctx context.Context, sessionID string) (models.TripStatus, error) {
	var status models.TripStatus
	err := r.db.GetContext(ctx, &status, `SELECT status FROM tracking_sessions WHERE id = $1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("session %s: %w", sessionID, apperrors.ErrNotFound)
	}
	return status, err
}
