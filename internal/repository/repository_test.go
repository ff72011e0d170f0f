package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/coastwatch/breakwater/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "breakwater-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func testSignal(id string, category domain.Category, lat, lon float64, at time.Time) *domain.Signal {
	return &domain.Signal{
		ID:       id,
		Source:   domain.SourceCrowdReport,
		Category: category,
		Location: domain.Location{
			Lat:       lat,
			Lon:       lon,
			HasCoords: true,
		},
		Timestamp:     at,
		ReceivedAt:    at,
		ReporterTrust: 0.7,
		Content:       "dark sheen spreading near the pier",
	}
}

func testAlert(id string, category domain.Category, status domain.Status, severity domain.Severity, lat, lon float64, at time.Time) *domain.Alert {
	return &domain.Alert{
		ID:       id,
		Category: category,
		Severity: severity,
		Status:   status,
		Location: domain.Location{
			Lat:       lat,
			Lon:       lon,
			HasCoords: true,
		},
		OpenedAt:        at,
		LastUpdatedAt:   at,
		MemberSignalIDs: []string{id + "-sig"},
		Actions: []domain.AlertAction{
			{Timestamp: at, Type: domain.ActionOpened, To: status},
		},
		TransitionSeq: 1,
		CoordCount:    1,
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetSignal", func(t *testing.T) {
		sig := testSignal("sig-001", domain.CategoryOilSpill, 36.6002, -121.8947, now)
		score := &domain.RiskScore{
			Value: 72.5,
			Features: []domain.FeatureContribution{
				{Name: "source_trust", Weight: 0.30, Raw: 0.7, Contribution: 21.0},
			},
		}

		if err := repo.SaveSignal(ctx, sig, score); err != nil {
			t.Fatalf("SaveSignal failed: %v", err)
		}

		retrieved, retrievedScore, err := repo.GetSignal(ctx, sig.ID)
		if err != nil {
			t.Fatalf("GetSignal failed: %v", err)
		}

		if retrieved.ID != sig.ID {
			t.Errorf("expected ID %s, got %s", sig.ID, retrieved.ID)
		}
		if retrieved.Category != sig.Category {
			t.Errorf("expected Category %s, got %s", sig.Category, retrieved.Category)
		}
		if !retrieved.Location.HasCoords {
			t.Error("expected HasCoords to survive round trip")
		}
		if retrievedScore.Value != score.Value {
			t.Errorf("expected score %.1f, got %.1f", score.Value, retrievedScore.Value)
		}
		if len(retrievedScore.Features) != 1 {
			t.Errorf("expected 1 feature contribution, got %d", len(retrievedScore.Features))
		}
	})

	t.Run("SaveSignalRequiresID", func(t *testing.T) {
		err := repo.SaveSignal(ctx, &domain.Signal{}, nil)
		if err == nil {
			t.Error("expected error for signal without id")
		}
	})

	t.Run("BindSignalToAlert", func(t *testing.T) {
		alert := testAlert("alert-bind", domain.CategoryOilSpill, domain.StatusActive, domain.SeverityHigh, 36.6, -121.89, now)
		if err := repo.CreateAlert(ctx, alert); err != nil {
			t.Fatalf("CreateAlert failed: %v", err)
		}

		if err := repo.BindSignalToAlert(ctx, "sig-001", alert.ID); err != nil {
			t.Fatalf("BindSignalToAlert failed: %v", err)
		}

		signals, err := repo.GetSignalsByAlert(ctx, alert.ID)
		if err != nil {
			t.Fatalf("GetSignalsByAlert failed: %v", err)
		}
		if len(signals) != 1 || signals[0].ID != "sig-001" {
			t.Errorf("expected [sig-001], got %d signals", len(signals))
		}

		if err := repo.BindSignalToAlert(ctx, "nonexistent", alert.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown signal, got: %v", err)
		}
	})

	t.Run("SignalsByAlertArrivalOrder", func(t *testing.T) {
		alert := testAlert("alert-order", domain.CategoryPollution, domain.StatusActive, domain.SeverityMedium, 36.6, -121.89, now)
		if err := repo.CreateAlert(ctx, alert); err != nil {
			t.Fatalf("CreateAlert failed: %v", err)
		}

		// Insert out of chronological order; the query orders by received_at.
		late := testSignal("sig-late", domain.CategoryPollution, 36.6, -121.89, now.Add(2*time.Minute))
		early := testSignal("sig-early", domain.CategoryPollution, 36.6, -121.89, now.Add(1*time.Minute))

		for _, s := range []*domain.Signal{late, early} {
			if err := repo.SaveSignal(ctx, s, nil); err != nil {
				t.Fatalf("SaveSignal failed: %v", err)
			}
			if err := repo.BindSignalToAlert(ctx, s.ID, alert.ID); err != nil {
				t.Fatalf("BindSignalToAlert failed: %v", err)
			}
		}

		signals, err := repo.GetSignalsByAlert(ctx, alert.ID)
		if err != nil {
			t.Fatalf("GetSignalsByAlert failed: %v", err)
		}
		if len(signals) != 2 {
			t.Fatalf("expected 2 signals, got %d", len(signals))
		}
		if signals[0].ID != "sig-early" || signals[1].ID != "sig-late" {
			t.Errorf("expected arrival order [sig-early sig-late], got [%s %s]", signals[0].ID, signals[1].ID)
		}
	})

	t.Run("CreateAndGetAlert", func(t *testing.T) {
		alert := testAlert("alert-001", domain.CategoryWaveTsunami, domain.StatusActive, domain.SeverityCritical, 38.29, 141.0, now)
		alert.MaxRiskScore = 91.2

		if err := repo.CreateAlert(ctx, alert); err != nil {
			t.Fatalf("CreateAlert failed: %v", err)
		}

		retrieved, err := repo.GetAlert(ctx, alert.ID)
		if err != nil {
			t.Fatalf("GetAlert failed: %v", err)
		}

		if retrieved.Status != domain.StatusActive {
			t.Errorf("expected status active, got %s", retrieved.Status)
		}
		if retrieved.Severity != domain.SeverityCritical {
			t.Errorf("expected severity critical, got %s", retrieved.Severity)
		}
		if retrieved.MaxRiskScore != 91.2 {
			t.Errorf("expected max risk score 91.2, got %.1f", retrieved.MaxRiskScore)
		}
		if len(retrieved.MemberSignalIDs) != 1 {
			t.Errorf("expected 1 member, got %d", len(retrieved.MemberSignalIDs))
		}
		if len(retrieved.Actions) != 1 || retrieved.Actions[0].Type != domain.ActionOpened {
			t.Errorf("expected one opened action, got %+v", retrieved.Actions)
		}
		if retrieved.ResolvedAt != nil {
			t.Errorf("expected nil ResolvedAt, got %v", retrieved.ResolvedAt)
		}
	})

	t.Run("UpdateAlert", func(t *testing.T) {
		alert, err := repo.GetAlert(ctx, "alert-001")
		if err != nil {
			t.Fatalf("GetAlert failed: %v", err)
		}

		version := alert.LastUpdatedAt
		alert.Status = domain.StatusResponding
		alert.TransitionSeq++
		alert.LastUpdatedAt = now.Add(time.Minute)
		alert.Actions = append(alert.Actions, domain.AlertAction{
			Timestamp: alert.LastUpdatedAt,
			Type:      domain.ActionTransition,
			From:      domain.StatusActive,
			To:        domain.StatusResponding,
		})

		if err := repo.UpdateAlert(ctx, alert, version); err != nil {
			t.Fatalf("UpdateAlert failed: %v", err)
		}

		retrieved, err := repo.GetAlert(ctx, alert.ID)
		if err != nil {
			t.Fatalf("GetAlert failed: %v", err)
		}
		if retrieved.Status != domain.StatusResponding {
			t.Errorf("expected status responding, got %s", retrieved.Status)
		}
		if retrieved.TransitionSeq != 2 {
			t.Errorf("expected transition seq 2, got %d", retrieved.TransitionSeq)
		}
	})

	t.Run("UpdateAlertVersionConflict", func(t *testing.T) {
		alert, err := repo.GetAlert(ctx, "alert-001")
		if err != nil {
			t.Fatalf("GetAlert failed: %v", err)
		}

		staleVersion := alert.LastUpdatedAt.Add(-time.Hour)
		alert.Status = domain.StatusResolved

		err = repo.UpdateAlert(ctx, alert, staleVersion)
		if !errors.Is(err, domain.ErrVersionConflict) {
			t.Errorf("expected ErrVersionConflict, got: %v", err)
		}
	})

	t.Run("UpdateMissingAlert", func(t *testing.T) {
		alert := testAlert("alert-missing", domain.CategoryErosion, domain.StatusActive, domain.SeverityLow, 0, 0, now)
		err := repo.UpdateAlert(ctx, alert, now)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("ResolvedAtRoundTrip", func(t *testing.T) {
		alert := testAlert("alert-resolved", domain.CategoryErosion, domain.StatusActive, domain.SeverityLow, 43.65, -70.25, now)
		if err := repo.CreateAlert(ctx, alert); err != nil {
			t.Fatalf("CreateAlert failed: %v", err)
		}

		version := alert.LastUpdatedAt
		resolvedAt := now.Add(5 * time.Minute)
		alert.Status = domain.StatusResolved
		alert.ResolvedAt = &resolvedAt
		alert.ResolveReason = "operator"
		alert.LastUpdatedAt = resolvedAt

		if err := repo.UpdateAlert(ctx, alert, version); err != nil {
			t.Fatalf("UpdateAlert failed: %v", err)
		}

		retrieved, err := repo.GetAlert(ctx, alert.ID)
		if err != nil {
			t.Fatalf("GetAlert failed: %v", err)
		}
		if retrieved.ResolvedAt == nil {
			t.Fatal("expected non-nil ResolvedAt")
		}
		if retrieved.ResolveReason != "operator" {
			t.Errorf("expected resolve reason operator, got %q", retrieved.ResolveReason)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, _, err := repo.GetSignal(ctx, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetAlert(ctx, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestListAlerts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)

	alerts := []*domain.Alert{
		testAlert("a-active-oil", domain.CategoryOilSpill, domain.StatusActive, domain.SeverityHigh, 36.60, -121.89, now.Add(-10*time.Minute)),
		testAlert("a-responding-oil", domain.CategoryOilSpill, domain.StatusResponding, domain.SeverityCritical, 36.62, -121.90, now.Add(-5*time.Minute)),
		testAlert("a-resolved-wave", domain.CategoryWaveTsunami, domain.StatusResolved, domain.SeverityMedium, 38.29, 141.0, now.Add(-2*time.Hour)),
		testAlert("a-active-erosion", domain.CategoryErosion, domain.StatusActive, domain.SeverityLow, 43.65, -70.25, now.Add(-30*time.Minute)),
	}
	for _, a := range alerts {
		if err := repo.CreateAlert(ctx, a); err != nil {
			t.Fatalf("CreateAlert failed: %v", err)
		}
	}

	t.Run("NoFilter", func(t *testing.T) {
		got, err := repo.ListAlerts(ctx, domain.AlertFilter{})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(got) != 4 {
			t.Errorf("expected 4 alerts, got %d", len(got))
		}
		// Most recently updated first
		if got[0].ID != "a-responding-oil" {
			t.Errorf("expected a-responding-oil first, got %s", got[0].ID)
		}
	})

	t.Run("ByStatus", func(t *testing.T) {
		got, err := repo.ListAlerts(ctx, domain.AlertFilter{Status: domain.StatusActive})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("expected 2 active alerts, got %d", len(got))
		}
	})

	t.Run("ByCategory", func(t *testing.T) {
		got, err := repo.ListAlerts(ctx, domain.AlertFilter{Category: domain.CategoryOilSpill})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("expected 2 oil spill alerts, got %d", len(got))
		}
	})

	t.Run("ByBBox", func(t *testing.T) {
		// Monterey Bay box: only the two oil alerts fall inside.
		bbox := [4]float64{-122.5, 36.0, -121.0, 37.0}
		got, err := repo.ListAlerts(ctx, domain.AlertFilter{BBox: &bbox})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("expected 2 alerts in bbox, got %d", len(got))
		}
	})

	t.Run("Limit", func(t *testing.T) {
		got, err := repo.ListAlerts(ctx, domain.AlertFilter{Limit: 1})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(got) != 1 {
			t.Errorf("expected 1 alert, got %d", len(got))
		}
	})

	t.Run("ListOpenAlerts", func(t *testing.T) {
		got, err := repo.ListOpenAlerts(ctx,
			[]domain.Category{domain.CategoryOilSpill, domain.CategoryWaveTsunami},
			now.Add(-time.Hour))
		if err != nil {
			t.Fatalf("ListOpenAlerts failed: %v", err)
		}
		// The resolved wave alert is excluded by status; the erosion alert by
		// category.
		if len(got) != 2 {
			t.Errorf("expected 2 open alerts, got %d", len(got))
		}
	})

	t.Run("ListOpenAlertsEmptyCategories", func(t *testing.T) {
		got, err := repo.ListOpenAlerts(ctx, nil, now)
		if err != nil {
			t.Fatalf("ListOpenAlerts failed: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected no alerts, got %d", len(got))
		}
	})

	t.Run("ListStaleAlerts", func(t *testing.T) {
		got, err := repo.ListStaleAlerts(ctx, now.Add(-20*time.Minute), domain.SeverityMedium)
		if err != nil {
			t.Fatalf("ListStaleAlerts failed: %v", err)
		}
		// Only a-active-erosion: active, low severity, untouched for 30m.
		// a-active-oil is high severity; a-responding-oil is not active.
		if len(got) != 1 || got[0].ID != "a-active-erosion" {
			t.Errorf("expected [a-active-erosion], got %d alerts", len(got))
		}
	})

	t.Run("Stats", func(t *testing.T) {
		stats, err := repo.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats.Total != 4 {
			t.Errorf("expected total 4, got %d", stats.Total)
		}
		if stats.TotalOpen != 3 {
			t.Errorf("expected 3 open, got %d", stats.TotalOpen)
		}
		if stats.ByStatus[domain.StatusActive] != 2 {
			t.Errorf("expected 2 active, got %d", stats.ByStatus[domain.StatusActive])
		}
		if stats.ByCategory[domain.CategoryOilSpill] != 2 {
			t.Errorf("expected 2 oil spill, got %d", stats.ByCategory[domain.CategoryOilSpill])
		}
	})
}

func TestPolicies(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	policy := &domain.DispatchPolicy{
		ID:          "pol-001",
		Name:        "critical-everywhere",
		Description: "Route critical transitions to all channels",
		Expression:  `severity == "critical"`,
		Channels:    []string{"sms", "webhook"},
		Enabled:     true,
	}

	t.Run("SaveAndList", func(t *testing.T) {
		if err := repo.SavePolicy(ctx, policy); err != nil {
			t.Fatalf("SavePolicy failed: %v", err)
		}

		policies, err := repo.ListPolicies(ctx)
		if err != nil {
			t.Fatalf("ListPolicies failed: %v", err)
		}
		if len(policies) != 1 {
			t.Fatalf("expected 1 policy, got %d", len(policies))
		}
		if policies[0].Expression != policy.Expression {
			t.Errorf("expected expression %q, got %q", policy.Expression, policies[0].Expression)
		}
		if len(policies[0].Channels) != 2 {
			t.Errorf("expected 2 channels, got %d", len(policies[0].Channels))
		}
	})

	t.Run("UpsertReplaces", func(t *testing.T) {
		policy.Channels = []string{"sms"}
		if err := repo.SavePolicy(ctx, policy); err != nil {
			t.Fatalf("SavePolicy failed: %v", err)
		}

		policies, err := repo.ListPolicies(ctx)
		if err != nil {
			t.Fatalf("ListPolicies failed: %v", err)
		}
		if len(policies) != 1 {
			t.Fatalf("expected 1 policy after upsert, got %d", len(policies))
		}
		if len(policies[0].Channels) != 1 {
			t.Errorf("expected 1 channel after upsert, got %d", len(policies[0].Channels))
		}
	})

	t.Run("DisabledExcluded", func(t *testing.T) {
		disabled := &domain.DispatchPolicy{
			ID:         "pol-002",
			Name:       "muted",
			Expression: "true",
			Channels:   []string{"email"},
			Enabled:    false,
		}
		if err := repo.SavePolicy(ctx, disabled); err != nil {
			t.Fatalf("SavePolicy failed: %v", err)
		}

		policies, err := repo.ListPolicies(ctx)
		if err != nil {
			t.Fatalf("ListPolicies failed: %v", err)
		}
		if len(policies) != 1 {
			t.Errorf("expected disabled policy to be excluded, got %d policies", len(policies))
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
