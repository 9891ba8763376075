// Package reminder sends pickup reminders to booked passengers shortly before
// each departure, at most once per departure.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"shuttle-backend/internal/apperrors"
	"shuttle-backend/internal/booking"
	"shuttle-backend/internal/metrics"
	"shuttle-backend/internal/models"
	"shuttle-backend/internal/notify"
)

// ErrRunInProgress is returned when a run is skipped because another one
// holds the lock. It wraps ErrConflict so handlers answer 409.
var ErrRunInProgress = fmt.Errorf("reminder run already in progress: %w", apperrors.ErrConflict)

// Dispatcher sends a batch of messages
type Dispatcher interface {
	Dispatch(ctx context.Context, batch notify.Batch) (notify.Result, error)
}

// AttemptCounter aggregates attempt statuses per reminder
type AttemptCounter interface {
	CountsByReminder(ctx context.Context, reminderIDs []string) (map[string]models.AttemptCounts, error)
}

// Locker provides a lease shared between server processes
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// DriverNotifier pushes a notice to a driver's devices
type DriverNotifier interface {
	NotifyUser(ctx context.Context, userID, title, body string, data map[string]string) error
}

type Config struct {
	Cadence        time.Duration
	WindowStart    time.Duration
	WindowEnd      time.Duration
	StorageTimeout time.Duration
	Template       string
	LockKey        string
}

func DefaultConfig() Config {
	return Config{
		Cadence:        5 * time.Minute,
		WindowStart:    30 * time.Minute,
		WindowEnd:      40 * time.Minute,
		StorageTimeout: 5 * time.Second,
		Template:       DefaultTemplate,
		LockKey:        "shuttle:reminder-run",
	}
}

// RunSummary describes one scheduler pass
type RunSummary struct {
	StartedAt   int64    `json:"started_at"`
	WindowStart int64    `json:"window_start"`
	WindowEnd   int64    `json:"window_end"`
	Departures  int      `json:"departures"`
	Claimed     int      `json:"claimed"`
	Skipped     int      `json:"skipped"`
	Sent        int      `json:"sent"`
	Failed      int      `json:"failed"`
	Errors      []string `json:"errors,omitempty"`
}

type Scheduler struct {
	cfg        Config
	departures booking.Source
	store      Store
	dispatcher Dispatcher
	counts     AttemptCounter
	catalog    *Catalog
	locker     Locker
	drivers    DriverNotifier
	metrics    *metrics.Collector
	loc        *time.Location
	now        func() time.Time

	running sync.Mutex
	wg      sync.WaitGroup

	lastMu  sync.RWMutex
	lastRun *RunSummary
}

type Option func(*Scheduler)

func WithLocker(l Locker) Option { return func(s *Scheduler) { s.locker = l } }

func WithDriverNotifier(n DriverNotifier) Option { return func(s *Scheduler) { s.drivers = n } }

func WithMetrics(m *metrics.Collector) Option { return func(s *Scheduler) { s.metrics = m } }

func WithCatalog(c *Catalog) Option { return func(s *Scheduler) { s.catalog = c } }

func WithLocation(loc *time.Location) Option { return func(s *Scheduler) { s.loc = loc } }

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func NewScheduler(cfg Config, departures booking.Source, store Store, dispatcher Dispatcher, counts AttemptCounter, opts ...Option) *Scheduler {
	if cfg.Template == "" {
		cfg.Template = DefaultTemplate
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = 5 * time.Second
	}
	s := &Scheduler{
		cfg:        cfg,
		departures: departures,
		store:      store,
		dispatcher: dispatcher,
		counts:     counts,
		catalog:    DefaultCatalog(),
		loc:        time.Local,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs a pass immediately and then every Cadence until ctx ends. A
// pass that is still running when the next tick fires makes that tick skip.
func (s *Scheduler) Start(ctx context.Context) {
	log.Printf("⏰ Reminder scheduler started (every %s, window +%s to +%s)", s.cfg.Cadence, s.cfg.WindowStart, s.cfg.WindowEnd)
	ticker := time.NewTicker(s.cfg.Cadence)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			log.Println("⏰ Reminder scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
			log.Printf("❌ Reminder run failed: %v", err)
		}
	}()
}

// RunOnce performs one pass over the reminder window
func (s *Scheduler) RunOnce(ctx context.Context) (RunSummary, error) {
	if !s.running.TryLock() {
		log.Println("⏭️  Reminder run skipped: previous run still in progress")
		s.metrics.ReminderRun("skipped", 0)
		return RunSummary{}, ErrRunInProgress
	}
	defer s.running.Unlock()

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, s.cfg.LockKey, s.cfg.Cadence)
		switch {
		case err != nil:
			// the per-departure claim still keeps sends exactly-once
			log.Printf("⚠️  Reminder lock unavailable, running without it: %v", err)
		case !ok:
			log.Println("⏭️  Reminder run skipped: another instance holds the lock")
			s.metrics.ReminderRun("skipped", 0)
			return RunSummary{}, ErrRunInProgress
		default:
			defer release()
		}
	}

	started := time.Now()
	summary, err := s.run(ctx)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.ReminderRun(outcome, time.Since(started))

	s.lastMu.Lock()
	s.lastRun = &summary
	s.lastMu.Unlock()
	return summary, err
}

func (s *Scheduler) run(ctx context.Context) (RunSummary, error) {
	now := s.now()
	from, to := now.Add(s.cfg.WindowStart), now.Add(s.cfg.WindowEnd)
	summary := RunSummary{StartedAt: now.Unix(), WindowStart: from.Unix(), WindowEnd: to.Unix()}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	deps, err := s.departures.ListBetween(sctx, from, to)
	cancel()
	if err != nil {
		return summary, fmt.Errorf("failed to list departures: %w", err)
	}
	summary.Departures = len(deps)
	if len(deps) == 0 {
		return summary, nil
	}

	ids := make([]string, len(deps))
	for i, d := range deps {
		ids[i] = d.ID
	}
	sctx, cancel = context.WithTimeout(ctx, s.cfg.StorageTimeout)
	existing, err := s.store.ListByDepartures(sctx, ids)
	cancel()
	if err != nil {
		return summary, fmt.Errorf("failed to load reminder records: %w", err)
	}

	for i := range deps {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		dep := &deps[i]
		if _, done := existing[dep.ID]; done {
			summary.Skipped++
			continue
		}
		s.remind(ctx, dep, now, &summary)
	}

	log.Printf("📋 Reminder run: %d departures in window, %d claimed, %d skipped, %d sent, %d failed",
		summary.Departures, summary.Claimed, summary.Skipped, summary.Sent, summary.Failed)
	return summary, nil
}

// remind claims the departure and dispatches its batch. Errors stay scoped to
// this departure.
func (s *Scheduler) remind(ctx context.Context, dep *models.Departure, now time.Time, summary *RunSummary) {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	rec, created, err := s.store.Claim(sctx, dep.ID, now)
	cancel()
	if err != nil {
		log.Printf("❌ Failed to claim reminder for departure %s: %v", dep.ID, err)
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", dep.ID, err))
		return
	}
	if !created {
		summary.Skipped++
		return
	}
	summary.Claimed++

	recipients := bookingRecipients(dep)
	var (
		res        notify.Result
		errSummary *string
	)
	if len(recipients) == 0 {
		log.Printf("📭 Departure %s has no reachable passengers, recording empty reminder", dep.ID)
	} else {
		messages, err := s.render(s.cfg.Template, "", dep, recipients)
		if err != nil {
			msg := err.Error()
			errSummary = &msg
			res.Failed = len(recipients)
		} else {
			res, err = s.dispatcher.Dispatch(ctx, notify.Batch{
				ReminderID:  &rec.ID,
				DepartureID: &dep.ID,
				Messages:    messages,
			})
			if err != nil {
				msg := err.Error()
				errSummary = &msg
				log.Printf("❌ Reminder batch for departure %s: %v", dep.ID, err)
			}
		}
	}

	sctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StorageTimeout)
	err = s.store.Complete(sctx, rec.ID, res.Sent, res.Failed, errSummary, s.now())
	cancel()
	if err != nil {
		log.Printf("❌ Failed to complete reminder %s: %v", rec.ID, err)
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", dep.ID, err))
	}
	if errSummary != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %s", dep.ID, *errSummary))
	}
	summary.Sent += res.Sent
	summary.Failed += res.Failed

	if res.Sent > 0 {
		s.notifyDriver(ctx, dep, res.Sent)
	}
}

func (s *Scheduler) notifyDriver(ctx context.Context, dep *models.Departure, sent int) {
	if s.drivers == nil || dep.DriverID == nil {
		return
	}
	departs := dep.ScheduledTime().In(s.loc).Format("3:04 PM")
	body := fmt.Sprintf("%d passengers were reminded about the %s departure from %s.", sent, departs, dep.Route.Origin.Name)
	data := map[string]string{"type": "reminders_sent", "departure_id": dep.ID}
	if err := s.drivers.NotifyUser(ctx, *dep.DriverID, "Pickup reminders sent", body, data); err != nil {
		log.Printf("⚠️  Failed to notify driver %s: %v", *dep.DriverID, err)
	}
}

// TriggerRequest is a manual send. Without a departure or phones it runs the
// regular window scan immediately.
type TriggerRequest struct {
	DepartureID string
	Phones      []string
	Template    string
	Message     string
}

type TriggerResult struct {
	Mode       string         `json:"mode"` // window | manual
	Run        *RunSummary    `json:"run,omitempty"`
	Batch      *notify.Result `json:"batch,omitempty"`
	Recipients int            `json:"recipients"`
}

// Trigger sends reminders now. Manual sends bypass the window and never read
// or create ReminderRecords.
func (s *Scheduler) Trigger(ctx context.Context, actor models.Actor, req TriggerRequest) (*TriggerResult, error) {
	if req.DepartureID == "" && len(req.Phones) == 0 {
		log.Printf("▶️  Reminder window scan triggered by %s", actor.UserID)
		summary, err := s.RunOnce(ctx)
		return &TriggerResult{Mode: "window", Run: &summary}, err
	}

	var (
		dep        *models.Departure
		recipients []notify.Recipient
	)
	if req.DepartureID != "" {
		sctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
		d, err := s.departures.Get(sctx, req.DepartureID)
		cancel()
		if err != nil {
			return nil, err
		}
		dep = d
		recipients = bookingRecipients(dep)
	}
	for _, p := range req.Phones {
		if _, ok := notify.NormalizePhone(p); !ok {
			return nil, apperrors.Validation("unusable phone number %q", p)
		}
		recipients = append(recipients, notify.Recipient{Phone: p})
	}
	recipients = notify.UniqueRecipients(recipients)
	if len(recipients) == 0 {
		return nil, apperrors.Validation("no recipients with a usable phone number")
	}
	if dep == nil && req.Message == "" {
		return nil, apperrors.Validation("message is required when no departure is given")
	}

	template := req.Template
	if template == "" {
		template = s.cfg.Template
	}
	messages, err := s.render(template, req.Message, dep, recipients)
	if err != nil {
		return nil, err
	}

	batch := notify.Batch{BatchID: uuid.New().String(), Messages: messages}
	if dep != nil {
		batch.DepartureID = &dep.ID
	}
	log.Printf("▶️  Manual reminder batch %s by %s: %d recipients", batch.BatchID, actor.UserID, len(recipients))

	res, err := s.dispatcher.Dispatch(ctx, batch)
	return &TriggerResult{Mode: "manual", Batch: &res, Recipients: len(recipients)}, err
}

// render builds one message per recipient, from custom text when given
func (s *Scheduler) render(name, custom string, dep *models.Departure, recipients []notify.Recipient) ([]notify.Message, error) {
	out := make([]notify.Message, 0, len(recipients))
	for _, r := range recipients {
		body := custom
		if body == "" {
			var err error
			body, err = s.catalog.Render(name, DataFor(dep, r.Name, s.loc))
			if err != nil {
				return nil, err
			}
		}
		out = append(out, notify.Message{Recipient: r, Body: body})
	}
	return out, nil
}

func bookingRecipients(dep *models.Departure) []notify.Recipient {
	var rs []notify.Recipient
	for _, b := range booking.ConfirmedBookings(dep) {
		rs = append(rs, notify.Recipient{Name: b.PassengerName, Phone: b.Phone})
	}
	return notify.UniqueRecipients(rs)
}
