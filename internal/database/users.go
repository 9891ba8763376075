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
	"shuttle-backend/internal/services"
)

type UserStore struct {
	db *sqlx.DB
}

func NewUserStore(db *sqlx.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user,
		`SELECT id, email, password, name, phone, role, created_at, updated_at FROM users WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", email, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

// Create inserts a user whose password is already hashed. An existing email
// is reported as ErrConflict.
func (s *UserStore) Create(ctx context.Context, user *models.User) error {
	now := time.Now().Unix()
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password, name, phone, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (email) DO NOTHING
	`, user.ID, user.Email, user.Password, user.Name, user.Phone, user.Role, now)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", user.Email, apperrors.ErrConflict)
	}
	user.CreatedAt, user.UpdatedAt = now, now
	return nil
}

// TokenStore keeps FCM device tokens. A token moves to whoever registered it last.
type TokenStore struct {
	db *sqlx.DB
}

var _ services.TokenStore = (*TokenStore)(nil)

func NewTokenStore(db *sqlx.DB) *TokenStore {
	return &TokenStore{db: db}
}

func (s *TokenStore) Upsert(ctx context.Context, token *models.FCMToken) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fcm_tokens (user_id, token, device_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (token) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			device_type = EXCLUDED.device_type,
			updated_at = EXCLUDED.updated_at
	`, token.UserID, token.Token, token.DeviceType, now)
	if err != nil {
		return fmt.Errorf("failed to save FCM token: %w", err)
	}
	token.UpdatedAt = now
	return nil
}

func (s *TokenStore) TokensForUser(ctx context.Context, userID string) ([]string, error) {
	var tokens []string
	if err := s.db.SelectContext(ctx, &tokens, `SELECT token FROM fcm_tokens WHERE user_id = $1`, userID); err != nil {
		return nil, fmt.Errorf("failed to load FCM tokens: %w", err)
	}
	return tokens, nil
}

func (s *TokenStore) DeleteTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM fcm_tokens WHERE token = ANY($1)`, pq.Array(tokens))
	return err
}
