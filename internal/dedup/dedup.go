// Package dedup clusters signals that plausibly describe the same hazard
// event into a single alert, using spatial proximity, a time window, and
// category compatibility.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/coastwatch/breakwater/internal/domain"
)

// Deduplicator assigns each signal to an existing open alert or opens a
// new one. The pick-or-create step is serialized per geo cell, and the
// returned release function holds the chosen alert's lock so the caller's
// lifecycle mutation joins the same critical section.
type Deduplicator struct {
	cfg   domain.DedupConfig
	repo  domain.Repository
	locks *KeyLock
	clock clockwork.Clock
}

// New creates a deduplicator sharing the given keyed lock set with the
// lifecycle manager.
func New(cfg domain.DedupConfig, repo domain.Repository, locks *KeyLock, clock clockwork.Clock) *Deduplicator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Deduplicator{cfg: cfg, repo: repo, locks: locks, clock: clock}
}

// Assign finds the best open alert for the signal or creates a new one.
// On success the returned release function MUST be called once the caller
// has finished mutating the alert; until then the alert's per-key lock is
// held. created reports whether a new alert was opened.
func (d *Deduplicator) Assign(ctx context.Context, sig *domain.Signal, severity domain.Severity, riskScore float64) (alert *domain.Alert, created bool, release func(), err error) {
	cell := cellKey(sig.Location, d.cfg.CellSizeDeg)
	releaseCell := d.locks.Lock(cell)

	candidate, err := d.findCandidate(ctx, sig)
	if err != nil {
		releaseCell()
		return nil, false, nil, fmt.Errorf("candidate lookup: %w", err)
	}

	if candidate != nil {
		// Lock the alert before giving up the cell so no concurrent
		// worker resolves or merges it between the two steps.
		releaseAlert := d.locks.Lock(candidate.ID)
		releaseCell()

		// Re-read under the alert lock: the candidate may have changed
		// between the unlocked query and lock acquisition.
		fresh, err := d.repo.GetAlert(ctx, candidate.ID)
		if err != nil {
			releaseAlert()
			return nil, false, nil, fmt.Errorf("reload candidate %s: %w", candidate.ID, err)
		}
		if fresh.Status == domain.StatusResolved {
			// Resolved while we waited for the lock; open a new alert.
			releaseAlert()
			return d.createLocked(ctx, sig, severity, riskScore, cell)
		}
		return fresh, false, releaseAlert, nil
	}

	alert, release, err = d.create(ctx, sig, severity, riskScore)
	releaseCell()
	if err != nil {
		return nil, false, nil, err
	}
	return alert, true, release, nil
}

// createLocked re-acquires the cell lock before creating, for the rare
// path where a candidate resolved between selection and locking.
func (d *Deduplicator) createLocked(ctx context.Context, sig *domain.Signal, severity domain.Severity, riskScore float64, cell string) (*domain.Alert, bool, func(), error) {
	releaseCell := d.locks.Lock(cell)
	alert, release, err := d.create(ctx, sig, severity, riskScore)
	releaseCell()
	if err != nil {
		return nil, false, nil, err
	}
	return alert, true, release, nil
}

// findCandidate returns the best matching open alert, or nil.
// Candidates: unresolved, compatible category, centroid within the
// category radius, updated within the time window. Nearest centroid wins;
// ties break toward the most recently updated.
func (d *Deduplicator) findCandidate(ctx context.Context, sig *domain.Signal) (*domain.Alert, error) {
	categories := append([]domain.Category{sig.Category}, d.cfg.Compatible[sig.Category]...)
	updatedSince := sig.Timestamp.Add(-d.cfg.TimeWindow)

	open, err := d.repo.ListOpenAlerts(ctx, categories, updatedSince)
	if err != nil {
		return nil, err
	}

	radius := d.radiusFor(sig.Category)

	var best *domain.Alert
	var bestDist float64

	for _, a := range open {
		dist, ok := d.distance(sig, a)
		if !ok || dist > radius {
			continue
		}
		switch {
		case best == nil,
			dist < bestDist,
			dist == bestDist && a.LastUpdatedAt.After(best.LastUpdatedAt):
			best = a
			bestDist = dist
		}
	}

	if best != nil {
		slog.Debug("dedup candidate selected",
			"signal_id", sig.ID,
			"alert_id", best.ID,
			"distance_km", bestDist,
			"radius_km", radius,
		)
	}

	return best, nil
}

// distance computes signal-to-centroid distance. Without coordinates on
// either side we fall back to exact place-name match at distance zero.
func (d *Deduplicator) distance(sig *domain.Signal, a *domain.Alert) (float64, bool) {
	if sig.Location.HasCoords && a.Location.HasCoords {
		return haversineKM(sig.Location.Lat, sig.Location.Lon, a.Location.Lat, a.Location.Lon), true
	}
	if sig.Location.PlaceName != "" && sig.Location.PlaceName == a.Location.PlaceName {
		return 0, true
	}
	return 0, false
}

func (d *Deduplicator) radiusFor(c domain.Category) float64 {
	if r, ok := d.cfg.CategoryRadiusKM[c]; ok {
		return r
	}
	return d.cfg.DefaultRadiusKM
}

// create opens a new Active alert seeded with the signal, its severity
// derived solely from the signal's risk tier. Runs under the cell lock; the
// returned release holds the new alert's own lock.
func (d *Deduplicator) create(ctx context.Context, sig *domain.Signal, severity domain.Severity, riskScore float64) (*domain.Alert, func(), error) {
	now := d.clock.Now().UTC()

	alert := &domain.Alert{
		ID:              uuid.New().String(),
		Category:        sig.Category,
		Severity:        severity,
		Status:          domain.StatusActive,
		Location:        domain.Location{PlaceName: sig.Location.PlaceName},
		OpenedAt:        now,
		LastUpdatedAt:   now,
		MemberSignalIDs: []string{sig.ID},
		TransitionSeq:   1,
		MaxRiskScore:    riskScore,
		Actions: []domain.AlertAction{{
			Timestamp: now,
			Type:      domain.ActionOpened,
			To:        domain.StatusActive,
			SignalID:  sig.ID,
		}},
	}
	alert.MergeCentroid(sig.Location)

	releaseAlert := d.locks.Lock(alert.ID)

	if err := d.repo.CreateAlert(ctx, alert); err != nil {
		releaseAlert()
		return nil, nil, fmt.Errorf("create alert: %w", err)
	}

	slog.Info("alert opened",
		"alert_id", alert.ID,
		"category", alert.Category,
		"severity", alert.Severity,
		"signal_id", sig.ID,
	)

	return alert, releaseAlert, nil
}

// TimeWindow exposes the configured window for callers building candidate
// cutoffs in tests.
func (d *Deduplicator) TimeWindow() time.Duration {
	return d.cfg.TimeWindow
}
