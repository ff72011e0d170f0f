// Package lifecycle manages alert state: merging corroborating signals,
// operator-driven status transitions, and stale-alert resolution.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/coastwatch/breakwater/internal/dedup"
	"github.com/coastwatch/breakwater/internal/domain"
	"github.com/coastwatch/breakwater/internal/scoring"
)

// Manager applies all alert mutations. Callers coming from the dedup
// assignment path already hold the alert's per-key lock; operator paths
// acquire it here. All mutations go through the repository's optimistic
// version check as a second line of defense.
type Manager struct {
	cfg    domain.LifecycleConfig
	repo   domain.Repository
	bus    domain.EventBus
	scorer *scoring.Scorer
	locks  *dedup.KeyLock
	clock  clockwork.Clock
}

// New creates a lifecycle manager sharing the keyed lock set with the
// deduplicator.
func New(cfg domain.LifecycleConfig, repo domain.Repository, bus domain.EventBus, scorer *scoring.Scorer, locks *dedup.KeyLock, clock clockwork.Clock) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		cfg:    cfg,
		repo:   repo,
		bus:    bus,
		scorer: scorer,
		locks:  locks,
		clock:  clock,
	}
}

// MergeEvent is the payload published when a signal merges into an alert.
type MergeEvent struct {
	AlertID   string          `json:"alertId"`
	SignalID  string          `json:"signalId"`
	Severity  domain.Severity `json:"severity"`
	RiskScore float64         `json:"riskScore"`
	Members   int             `json:"members"`
	Timestamp time.Time       `json:"timestamp"`
}

// MergeSignal folds a signal into an existing alert. The caller must hold
// the alert's lock (the release function returned by the deduplicator).
// Severity only ever moves up: an alert that reached High stays at least
// High even if later signals score lower.
func (m *Manager) MergeSignal(ctx context.Context, alert *domain.Alert, sig *domain.Signal) (*domain.Alert, error) {
	now := m.clock.Now().UTC()
	version := alert.LastUpdatedAt

	alert.MemberSignalIDs = append(alert.MemberSignalIDs, sig.ID)
	alert.MergeCentroid(sig.Location)

	// Rescore with the corroboration the alert has now accumulated. The
	// new signal's own tier, boosted by corroboration, can raise severity
	// but never lower it.
	corroboration := len(alert.MemberSignalIDs) - 1
	rescored := m.scorer.Score(sig, corroboration)
	if rescored.Value > alert.MaxRiskScore {
		alert.MaxRiskScore = rescored.Value
	}
	alert.Severity = domain.MaxSeverity(alert.Severity, m.scorer.SeverityFor(rescored))

	alert.Actions = append(alert.Actions, domain.AlertAction{
		Timestamp: now,
		Type:      domain.ActionSignalMerged,
		SignalID:  sig.ID,
	})
	alert.LastUpdatedAt = now

	if err := m.repo.UpdateAlert(ctx, alert, version); err != nil {
		return nil, fmt.Errorf("merge signal %s into alert %s: %w", sig.ID, alert.ID, err)
	}
	if err := m.repo.BindSignalToAlert(ctx, sig.ID, alert.ID); err != nil {
		slog.Error("failed to bind signal to alert",
			"signal_id", sig.ID,
			"alert_id", alert.ID,
			"error", err,
		)
	}

	payload, _ := json.Marshal(MergeEvent{
		AlertID:   alert.ID,
		SignalID:  sig.ID,
		Severity:  alert.Severity,
		RiskScore: rescored.Value,
		Members:   len(alert.MemberSignalIDs),
		Timestamp: now,
	})
	if err := m.bus.Publish(ctx, domain.TopicAlertMerged, payload); err != nil {
		slog.Error("failed to publish merge event",
			"alert_id", alert.ID,
			"error", err,
		)
	}

	slog.Info("signal merged",
		"alert_id", alert.ID,
		"signal_id", sig.ID,
		"severity", alert.Severity,
		"members", len(alert.MemberSignalIDs),
	)

	return alert.Clone(), nil
}

// ApplyTransition moves an alert to a new lifecycle status on behalf of an
// operator. A zero expectedVersion skips the caller-side concurrency check
// and uses the freshly loaded version. Returns the committed transition
// event alongside the updated snapshot.
func (m *Manager) ApplyTransition(ctx context.Context, alertID string, to domain.Status, actor, reason string, expectedVersion time.Time) (*domain.Alert, *domain.TransitionEvent, error) {
	release := m.locks.Lock(alertID)
	defer release()

	alert, err := m.repo.GetAlert(ctx, alertID)
	if err != nil {
		return nil, nil, err
	}

	if !expectedVersion.IsZero() && !alert.LastUpdatedAt.Equal(expectedVersion) {
		return nil, nil, domain.ErrVersionConflict
	}

	event, err := m.transitionLocked(ctx, alert, to, domain.ActionTransition, actor, reason)
	if err != nil {
		return nil, nil, err
	}
	return alert.Clone(), event, nil
}

// transitionLocked performs the state change. The caller holds the alert
// lock and has loaded a fresh copy.
func (m *Manager) transitionLocked(ctx context.Context, alert *domain.Alert, to domain.Status, actionType domain.ActionType, actor, reason string) (*domain.TransitionEvent, error) {
	if !domain.CanTransition(alert.Status, to) {
		return nil, &domain.InvalidTransitionError{AlertID: alert.ID, From: alert.Status, To: to}
	}

	now := m.clock.Now().UTC()
	version := alert.LastUpdatedAt
	from := alert.Status

	alert.Status = to
	alert.TransitionSeq++
	alert.LastUpdatedAt = now
	if to == domain.StatusResolved {
		alert.ResolvedAt = &now
		alert.ResolveReason = reason
	}
	alert.Actions = append(alert.Actions, domain.AlertAction{
		Timestamp: now,
		Type:      actionType,
		From:      from,
		To:        to,
		Reason:    reason,
		Actor:     actor,
	})

	if err := m.repo.UpdateAlert(ctx, alert, version); err != nil {
		return nil, fmt.Errorf("transition alert %s to %s: %w", alert.ID, to, err)
	}

	event := &domain.TransitionEvent{
		AlertID:    alert.ID,
		FromStatus: from,
		ToStatus:   to,
		Severity:   alert.Severity,
		Category:   alert.Category,
		RiskScore:  alert.MaxRiskScore,
		Timestamp:  now,
		Seq:        alert.TransitionSeq,
		Reason:     reason,
	}
	payload, _ := json.Marshal(event)
	if err := m.bus.Publish(ctx, domain.TopicAlertTransition, payload); err != nil {
		slog.Error("failed to publish transition event",
			"alert_id", alert.ID,
			"seq", alert.TransitionSeq,
			"error", err,
		)
	}

	slog.Info("alert transition",
		"alert_id", alert.ID,
		"from", from,
		"to", to,
		"seq", alert.TransitionSeq,
		"actor", actor,
	)

	return event, nil
}

// ResolveStale resolves one stale alert found by the sweep. Re-checks the
// staleness condition under the alert lock: a signal may have merged while
// the sweep batch was in flight.
func (m *Manager) ResolveStale(ctx context.Context, alertID string, cutoff time.Time) (bool, error) {
	release := m.locks.Lock(alertID)
	defer release()

	alert, err := m.repo.GetAlert(ctx, alertID)
	if err != nil {
		return false, err
	}

	if alert.Status != domain.StatusActive ||
		alert.Severity.Rank() > domain.SeverityMedium.Rank() ||
		!alert.LastUpdatedAt.Before(cutoff) {
		return false, nil
	}

	if _, err := m.transitionLocked(ctx, alert, domain.StatusResolved, domain.ActionStaleResolve, "system", "stale"); err != nil {
		return false, err
	}
	return true, nil
}

// QuietPeriod exposes the configured stale threshold.
func (m *Manager) QuietPeriod() time.Duration {
	return m.cfg.QuietPeriod
}
