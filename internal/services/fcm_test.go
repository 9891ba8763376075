package services

import (
	"context"
	"errors"
	"sort"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shuttle-backend/internal/models"
)

type fakeMulticast struct {
	sent      []*messaging.MulticastMessage
	responses func(tokens []string) []*messaging.SendResponse
	err       error
}

func (f *fakeMulticast) SendEachForMulticast(ctx context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.sent = append(f.sent, m)
	if f.err != nil {
		return nil, f.err
	}
	br := &messaging.BatchResponse{}
	if f.responses != nil {
		br.Responses = f.responses(m.Tokens)
	}
	for _, r := range br.Responses {
		if r.Success {
			br.SuccessCount++
		} else {
			br.FailureCount++
		}
	}
	return br, nil
}

func TestNotifyUserSkipsWithoutTokens(t *testing.T) {
	client := &fakeMulticast{}
	s := &FCMService{client: client, tokens: NewMemoryTokenStore()}

	require.NoError(t, s.NotifyUser(context.Background(), "drv-1", "t", "b", nil))
	assert.Empty(t, client.sent)
}

func TestNotifyUserSendsToAllDevices(t *testing.T) {
	ctx := context.Background()
	tokens := NewMemoryTokenStore()
	require.NoError(t, tokens.Upsert(ctx, &models.FCMToken{UserID: "drv-1", Token: "a"}))
	require.NoError(t, tokens.Upsert(ctx, &models.FCMToken{UserID: "drv-1", Token: "b"}))
	require.NoError(t, tokens.Upsert(ctx, &models.FCMToken{UserID: "drv-2", Token: "c"}))

	client := &fakeMulticast{responses: func(ts []string) []*messaging.SendResponse {
		out := make([]*messaging.SendResponse, len(ts))
		for i := range ts {
			out[i] = &messaging.SendResponse{Success: true, MessageID: "m"}
		}
		return out
	}}
	s := &FCMService{client: client, tokens: tokens}

	require.NoError(t, s.NotifyUser(ctx, "drv-1", "Pickup reminders sent", "2 passengers", map[string]string{"departure_id": "d-1"}))
	require.Len(t, client.sent, 1)
	got := append([]string(nil), client.sent[0].Tokens...)
	sort.Strings(got)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, "Pickup reminders sent", client.sent[0].Notification.Title)
	assert.Equal(t, "d-1", client.sent[0].Data["departure_id"])
}

func TestNotifyUserError(t *testing.T) {
	ctx := context.Background()
	tokens := NewMemoryTokenStore()
	require.NoError(t, tokens.Upsert(ctx, &models.FCMToken{UserID: "drv-1", Token: "a"}))
	s := &FCMService{client: &fakeMulticast{err: errors.New("quota")}, tokens: tokens}

	assert.Error(t, s.NotifyUser(ctx, "drv-1", "t", "b", nil))
}

func TestMemoryTokenStoreMovesTokenBetweenUsers(t *testing.T) {
	ctx := context.Background()
	tokens := NewMemoryTokenStore()
	require.NoError(t, tokens.Upsert(ctx, &models.FCMToken{UserID: "drv-1", Token: "a"}))
	require.NoError(t, tokens.Upsert(ctx, &models.FCMToken{UserID: "drv-2", Token: "a"}))

	got, _ := tokens.TokensForUser(ctx, "drv-1")
	assert.Empty(t, got)
	got, _ = tokens.TokensForUser(ctx, "drv-2")
	assert.Equal(t, []string{"a"}, got)

	require.NoError(t, tokens.DeleteTokens(ctx, []string{"a"}))
	got, _ = tokens.TokensForUser(ctx, "drv-2")
	assert.Empty(t, got)
}
