package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"shuttle-backend/internal/apperrors"
	"shuttle-backend/internal/location"
	"shuttle-backend/internal/models"
)

// LocationStore persists GPS samples. Append only succeeds while the session
// is in a trackable status.
type LocationStore struct {
	db       *sqlx.DB
	sessions *SessionRepository
	now      func() time.Time
}

var _ location.Store = (*LocationStore)(nil)

func NewLocationStore(db *sqlx.DB) *LocationStore {
	return &LocationStore{db: db, sessions: NewSessionRepository(db), now: time.Now}
}

func (s *LocationStore) Append(ctx context.Context, sample *models.LocationSample) error {
	if err := location.Prepare(sample, s.now()); err != nil {
		return err
	}

	// FOR SHARE waits on a concurrent transition and re-checks the status
	// against the committed row
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO location_samples (id, session_id, latitude, longitude, speed, heading, accuracy, captured_at, created_at)
		SELECT $1::text, ts.id, $3::double precision, $4::double precision, $5::double precision,
			$6::double precision, $7::double precision, $8::bigint, $9::bigint
		FROM tracking_sessions ts
		WHERE ts.id = $2 AND ts.status IN ('BOARDING', 'EN_ROUTE', 'DELAYED')
		FOR SHARE
	`, sample.ID, sample.SessionID, sample.Latitude, sample.Longitude,
		sample.Speed, sample.Heading, sample.Accuracy, sample.CapturedAt, sample.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store location: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	status, err := s.sessions.Status(ctx, sample.SessionID)
	if err != nil {
		return err
	}
	return fmt.Errorf("session %s is %s: %w", sample.SessionID, status, apperrors.ErrSessionNotTrackable)
}

func (s *LocationStore) Recent(ctx context.Context, sessionID string, limit int) ([]models.LocationSample, error) {
	if limit <= 0 {
		limit = 100
	}
	samples := []models.LocationSample{}
	err := s.db.SelectContext(ctx, &samples, `
		SELECT id, session_id, latitude, longitude, speed, heading, accuracy, captured_at, created_at
		FROM location_samples
		WHERE session_id = $1
		ORDER BY captured_at DESC, created_at DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load locations: %w", err)
	}
	return samples, nil
}
