package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"shuttle-backend/internal/apperrors"
	"shuttle-backend/internal/models"
)

// Gateway delivers one text message and returns the provider's message id
type Gateway interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// SendError carries the failure class decided by the gateway client
type SendError struct {
	Class      models.FailureClass
	StatusCode int
	Err        error
}

func (e *SendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %d (%s): %v", e.StatusCode, e.Class, e.Err)
	}
	return fmt.Sprintf("gateway (%s): %v", e.Class, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Classify decides how the dispatcher treats a send error
func Classify(err error) models.FailureClass {
	var se *SendError
	if errors.As(err, &se) {
		return se.Class
	}
	if errors.Is(err, apperrors.ErrGatewayUnavailable) {
		return models.FailureUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.FailureTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.FailureTransient
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return models.FailureUnavailable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return models.FailureUnavailable
	}
	return models.FailureTransient
}

// StatusClass maps a gateway HTTP status onto a failure class
func StatusClass(code int) models.FailureClass {
	switch {
	case code == http.StatusTooManyRequests, code >= 500:
		return models.FailureTransient
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		// credentials rejected: nothing will get through
		return models.FailureUnavailable
	default:
		return models.FailurePermanent
	}
}

// HTTPGateway posts messages as JSON to an SMS provider endpoint
type HTTPGateway struct {
	url      string
	token    string
	senderID string
	client   *http.Client
}

func NewHTTPGateway(url, token, senderID string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		url:      url,
		token:    token,
		senderID: senderID,
		client:   &http.Client{Timeout: timeout},
	}
}

type smsRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Body string `json:"body"`
}

type smsResponse struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
}

func (g *HTTPGateway) Send(ctx context.Context, to, body string) (string, error) {
	payload, err := json.Marshal(smsRequest{To: to, From: g.senderID, Body: body})
	if err != nil {
		return "", &SendError{Class: models.FailurePermanent, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return "", &SendError{Class: models.FailureUnavailable, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &SendError{
			Class:      StatusClass(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(raw))),
		}
	}

	var out smsResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		// delivered; some providers answer with an empty body
		return "", nil
	}
	if out.ID != "" {
		return out.ID, nil
	}
	return out.MessageID, nil
}

// LogGateway prints messages instead of sending them. Used when no SMS
// provider is configured.
type LogGateway struct{}

func (LogGateway) Send(ctx context.Context, to, body string) (string, error) {
	id := "log-" + uuid.New().String()
	log.Printf("📨 [sms] to=%s id=%s: %s", to, id, body)
	return id, nil
}
