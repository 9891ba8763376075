package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sync"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"shuttle-backend/internal/models"
)

// TokenStore keeps driver device registrations
type TokenStore interface {
	Upsert(ctx context.Context, token *models.FCMToken) error
	TokensForUser(ctx context.Context, userID string) ([]string, error)
	DeleteTokens(ctx context.Context, tokens []string) error
}

type multicastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMService handles Firebase Cloud Messaging for driver devices
type FCMService struct {
	client multicastSender
	tokens TokenStore
}

// NewFCMService creates a new FCM service instance from a credentials file
func NewFCMService(ctx context.Context, credentialsFile string, tokens TokenStore) (*FCMService, error) {
	return newFCMService(ctx, tokens, option.WithCredentialsFile(credentialsFile))
}

// NewFCMServiceFromBase64 creates a new FCM service instance from base64-encoded credentials
// This is useful for cloud deployments (Railway, Fly.io, Render) where you can't upload files easily
func NewFCMServiceFromBase64(ctx context.Context, credentialsBase64 string, tokens TokenStore) (*FCMService, error) {
	credentialsJSON, err := base64.StdEncoding.DecodeString(credentialsBase64)
	if err != nil {
		return nil, fmt.Errorf("error decoding base64 credentials: %w", err)
	}
	return newFCMService(ctx, tokens, option.WithCredentialsJSON(credentialsJSON))
}

func newFCMService(ctx context.Context, tokens TokenStore, opt option.ClientOption) (*FCMService, error) {
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return &FCMService{client: client, tokens: tokens}, nil
}

// NotifyUser pushes a notification to every registered device of the user
// and forgets tokens FCM reports as unregistered
func (s *FCMService) NotifyUser(ctx context.Context, userID, title, body string, data map[string]string) error {
	tokens, err := s.tokens.TokensForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load device tokens: %w", err)
	}
	if len(tokens) == 0 {
		log.Printf("📭 No FCM tokens for user %s, skipping push", userID)
		return nil
	}

	message := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					ContentAvailable: true,
					Sound:            "default",
				},
			},
		},
	}

	response, err := s.client.SendEachForMulticast(ctx, message)
	if err != nil {
		return fmt.Errorf("error sending multicast message: %w", err)
	}

	var stale []string
	for i, r := range response.Responses {
		if r != nil && !r.Success && messaging.IsUnregistered(r.Error) {
			stale = append(stale, tokens[i])
		}
	}
	if len(stale) > 0 {
		if err := s.tokens.DeleteTokens(ctx, stale); err != nil {
			log.Printf("⚠️  Failed to delete %d stale FCM tokens: %v", len(stale), err)
		}
	}

	log.Printf("✅ Multicast sent to %s: %d success, %d failures", userID, response.SuccessCount, response.FailureCount)
	return nil
}

// MemoryTokenStore is an in-process TokenStore
type MemoryTokenStore struct {
	mu     sync.Mutex
	byUser map[string]map[string]bool
	owner  map[string]string
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{byUser: map[string]map[string]bool{}, owner: map[string]string{}}
}

func (m *MemoryTokenStore) Upsert(ctx context.Context, token *models.FCMToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.owner[token.Token]; ok {
		delete(m.byUser[prev], token.Token)
	}
	if m.byUser[token.UserID] == nil {
		m.byUser[token.UserID] = map[string]bool{}
	}
	m.byUser[token.UserID][token.Token] = true
	m.owner[token.Token] = token.UserID
	if token.UpdatedAt == 0 {
		token.UpdatedAt = time.Now().Unix()
	}
	return nil
}

func (m *MemoryTokenStore) TokensForUser(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for t := range m.byUser[userID] {
		out = append(out, t)
	}
	return out, nil
}

func (m *MemoryTokenStore) DeleteTokens(ctx context.Context, tokens []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tokens {
		if u, ok := m.owner[t]; ok {
			delete(m.byUser[u], t)
			delete(m.owner, t)
		}
	}
	return nil
}
