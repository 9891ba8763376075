// Package notify delivers text messages through a gateway with per-recipient
// attempt records, retries and failure classification.
package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"shuttle-backend/internal/apperrors"
	"shuttle-backend/internal/metrics"
	"shuttle-backend/internal/models"
)

// Message is one rendered body for one recipient
type Message struct {
	Recipient Recipient
	Body      string
}

// Batch groups messages sent together. Automatic reminders set ReminderID.
type Batch struct {
	ReminderID  *string
	DepartureID *string
	BatchID     string
	Messages    []Message
}

// Result is the aggregate outcome of a batch
type Result struct {
	BatchID  string                       `json:"batch_id"`
	Sent     int                          `json:"sent"`
	Failed   int                          `json:"failed"`
	Attempts []models.NotificationAttempt `json:"attempts,omitempty"`
}

type Config struct {
	MaxRetries     int
	Backoff        time.Duration
	GatewayTimeout time.Duration
	StorageTimeout time.Duration
	Concurrency    int
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:     2,
		Backoff:        500 * time.Millisecond,
		GatewayTimeout: 10 * time.Second,
		StorageTimeout: 5 * time.Second,
		Concurrency:    8,
	}
}

type Dispatcher struct {
	gateway Gateway
	store   AttemptStore
	cfg     Config
	metrics *metrics.Collector
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) bool
}

func NewDispatcher(gateway Gateway, store AttemptStore, cfg Config, m *metrics.Collector) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Dispatcher{
		gateway: gateway,
		store:   store,
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Dispatch sends every message in the batch. Per-recipient failures are
// recorded on the attempts and counted. The returned error is only set when
// the attempts could not be stored, the context ended, or the gateway is
// unavailable; every attempt still pending at that point is marked FAILED.
func (d *Dispatcher) Dispatch(ctx context.Context, batch Batch) (Result, error) {
	if batch.BatchID == "" {
		batch.BatchID = uuid.New().String()
	}
	res := Result{BatchID: batch.BatchID}
	if len(batch.Messages) == 0 {
		return res, nil
	}

	ts := d.now().Unix()
	attempts := make([]*models.NotificationAttempt, len(batch.Messages))
	for i, m := range batch.Messages {
		attempts[i] = &models.NotificationAttempt{
			ID:             uuid.New().String(),
			ReminderID:     batch.ReminderID,
			BatchID:        batch.BatchID,
			DepartureID:    batch.DepartureID,
			RecipientName:  m.Recipient.Name,
			RecipientPhone: m.Recipient.Phone,
			Body:           m.Body,
			Status:         models.AttemptStatusPending,
			CreatedAt:      ts,
			UpdatedAt:      ts,
		}
	}

	sctx, cancel := context.WithTimeout(ctx, d.cfg.StorageTimeout)
	err := d.store.CreatePending(sctx, attempts)
	cancel()
	if err != nil {
		return res, fmt.Errorf("failed to create notification attempts: %w", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	var (
		downOnce sync.Once
		downErr  error
	)
	markDown := func(err error) {
		downOnce.Do(func() {
			downErr = err
			stop()
		})
	}

	g := new(errgroup.Group)
	g.SetLimit(d.cfg.Concurrency)
	for _, a := range attempts {
		g.Go(func() error {
			if runCtx.Err() != nil {
				return nil
			}
			d.deliver(runCtx, a, markDown)
			return nil
		})
	}
	_ = g.Wait()

	// whatever is still pending was cut off by an outage or cancellation
	for _, a := range attempts {
		if a.Status != models.AttemptStatusPending {
			continue
		}
		class := models.FailureTransient
		detail := "dispatch cancelled"
		if downErr != nil {
			class = models.FailureUnavailable
			detail = fmt.Sprintf("gateway unavailable: %v", downErr)
		} else if ctx.Err() != nil {
			detail = ctx.Err().Error()
		}
		d.finish(ctx, a, models.AttemptStatusFailed, &class, detail)
	}

	for _, a := range attempts {
		switch a.Status {
		case models.AttemptStatusSent:
			res.Sent++
		case models.AttemptStatusFailed:
			res.Failed++
		}
		res.Attempts = append(res.Attempts, *a)
	}

	log.Printf("📨 Batch %s: %d sent, %d failed", batch.BatchID, res.Sent, res.Failed)

	if downErr != nil {
		d.metrics.GatewayDown()
		return res, fmt.Errorf("%w: %v", apperrors.ErrGatewayUnavailable, downErr)
	}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("dispatch interrupted: %w", err)
	}
	return res, nil
}

// deliver runs the retry loop for one attempt. It leaves the attempt PENDING
// when the batch is stopped mid-flight.
func (d *Dispatcher) deliver(ctx context.Context, a *models.NotificationAttempt, markDown func(error)) {
	backoff := d.cfg.Backoff
	for try := 0; ; try++ {
		if ctx.Err() != nil {
			return
		}
		a.AttemptCount++
		at := d.now().Unix()
		a.LastAttemptedAt = &at

		callCtx, cancel := context.WithTimeout(ctx, d.cfg.GatewayTimeout)
		msgID, err := d.gateway.Send(callCtx, a.RecipientPhone, a.Body)
		cancel()

		if err == nil {
			if msgID != "" {
				a.GatewayMessageID = &msgID
			}
			d.finish(ctx, a, models.AttemptStatusSent, nil, "")
			return
		}

		class := Classify(err)
		if ctx.Err() != nil && class != models.FailurePermanent {
			// the batch was stopped while this call was in flight
			return
		}
		if class == models.FailurePermanent {
			d.finish(ctx, a, models.AttemptStatusFailed, &class, err.Error())
			return
		}
		if try >= d.cfg.MaxRetries {
			d.finish(ctx, a, models.AttemptStatusFailed, &class, err.Error())
			if class == models.FailureUnavailable {
				markDown(err)
			}
			return
		}

		log.Printf("⚠️  Send to %s failed (%s, try %d/%d): %v", a.RecipientPhone, class, try+1, d.cfg.MaxRetries+1, err)
		if !d.sleep(ctx, backoff) {
			return
		}
		backoff *= 2
	}
}

func (d *Dispatcher) finish(ctx context.Context, a *models.NotificationAttempt, status models.AttemptStatus, class *models.FailureClass, detail string) {
	a.Status = status
	a.FailureClass = class
	a.ErrorDetail = nil
	if detail != "" {
		a.ErrorDetail = &detail
	}
	a.UpdatedAt = d.now().Unix()

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.StorageTimeout)
	defer cancel()
	if err := d.store.Update(sctx, a); err != nil {
		log.Printf("❌ Failed to record attempt %s: %v", a.ID, err)
	}

	classLabel := ""
	if class != nil {
		classLabel = string(*class)
	}
	d.metrics.Notification(string(status), classLabel)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
