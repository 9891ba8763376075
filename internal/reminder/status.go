package reminder

import (
	"context"
	"fmt"

	"shuttle-backend/internal/models"
)

// DepartureStatus is the ops view of one upcoming departure
type DepartureStatus struct {
	DepartureID string                 `json:"departure_id"`
	ScheduledAt int64                  `json:"scheduled_at"`
	RouteName   string                 `json:"route_name"`
	Recipients  int                    `json:"recipients"`
	InWindow    bool                   `json:"in_window"`
	HasRecord   bool                   `json:"has_record"`
	Record      *models.ReminderRecord `json:"record,omitempty"`
	Attempts    models.AttemptCounts   `json:"attempts"`
}

type StatusReport struct {
	Now         int64             `json:"now"`
	WindowStart int64             `json:"window_start"`
	WindowEnd   int64             `json:"window_end"`
	Departures  []DepartureStatus `json:"departures"`
	LastRun     *RunSummary       `json:"last_run,omitempty"`
}

// Status lists departures from now to the end of the window with their
// reminder records and attempt counts
func (s *Scheduler) Status(ctx context.Context) (*StatusReport, error) {
	now := s.now()
	from, to := now.Add(s.cfg.WindowStart), now.Add(s.cfg.WindowEnd)
	report := &StatusReport{Now: now.Unix(), WindowStart: from.Unix(), WindowEnd: to.Unix(), Departures: []DepartureStatus{}}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()

	deps, err := s.departures.ListBetween(sctx, now, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list departures: %w", err)
	}
	ids := make([]string, len(deps))
	for i, d := range deps {
		ids[i] = d.ID
	}

	records := map[string]*models.ReminderRecord{}
	counts := map[string]models.AttemptCounts{}
	if len(ids) > 0 {
		if records, err = s.store.ListByDepartures(sctx, ids); err != nil {
			return nil, fmt.Errorf("failed to load reminder records: %w", err)
		}
		recIDs := make([]string, 0, len(records))
		for _, r := range records {
			recIDs = append(recIDs, r.ID)
		}
		if len(recIDs) > 0 && s.counts != nil {
			if counts, err = s.counts.CountsByReminder(sctx, recIDs); err != nil {
				return nil, fmt.Errorf("failed to count attempts: %w", err)
			}
		}
	}

	for i := range deps {
		dep := &deps[i]
		ds := DepartureStatus{
			DepartureID: dep.ID,
			ScheduledAt: dep.ScheduledAt,
			RouteName:   dep.Route.Name,
			Recipients:  len(bookingRecipients(dep)),
			InWindow:    dep.ScheduledAt >= from.Unix() && dep.ScheduledAt <= to.Unix(),
		}
		if rec, ok := records[dep.ID]; ok {
			ds.HasRecord = true
			ds.Record = rec
			ds.Attempts = counts[rec.ID]
		}
		report.Departures = append(report.Departures, ds)
	}

	s.lastMu.RLock()
	if s.lastRun != nil {
		last := *s.lastRun
		report.LastRun = &last
	}
	s.lastMu.RUnlock()
	return report, nil
}
