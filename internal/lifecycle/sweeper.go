package lifecycle

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/coastwatch/breakwater/internal/domain"
)

// Sweeper periodically resolves quiet alerts: Active alerts at or below
// Medium severity that have gone a full quiet period without a new signal
// or operator action. High and Critical alerts never auto-resolve.
type Sweeper struct {
	manager *Manager
	cron    *cron.Cron
	spec    string
}

// NewSweeper creates a sweeper on the manager's clock and the configured
// cron schedule.
func NewSweeper(manager *Manager) *Sweeper {
	return &Sweeper{
		manager: manager,
		cron:    cron.New(),
		spec:    manager.cfg.StaleSweepSchedule,
	}
}

// Start schedules the sweep and begins running it.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.spec, func() {
		if err := s.Sweep(context.Background()); err != nil {
			slog.Error("stale sweep failed", "error", err)
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("stale sweep scheduled", "schedule", s.spec)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep runs one pass. Exposed for tests and for a manual admin trigger.
func (s *Sweeper) Sweep(ctx context.Context) error {
	m := s.manager
	cutoff := m.clock.Now().UTC().Add(-m.cfg.QuietPeriod)

	stale, err := m.repo.ListStaleAlerts(ctx, cutoff, domain.SeverityMedium)
	if err != nil {
		return err
	}

	resolved := 0
	for _, alert := range stale {
		ok, err := m.ResolveStale(ctx, alert.ID, cutoff)
		if err != nil {
			slog.Error("failed to resolve stale alert",
				"alert_id", alert.ID,
				"error", err,
			)
			continue
		}
		if ok {
			resolved++
		}
	}

	if resolved > 0 {
		slog.Info("stale sweep completed",
			"candidates", len(stale),
			"resolved", resolved,
		)
	}
	return nil
}
