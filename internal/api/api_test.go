package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/coastwatch/breakwater/internal/bus"
	"github.com/coastwatch/breakwater/internal/dedup"
	"github.com/coastwatch/breakwater/internal/dispatch"
	"github.com/coastwatch/breakwater/internal/domain"
	"github.com/coastwatch/breakwater/internal/lifecycle"
	"github.com/coastwatch/breakwater/internal/normalizer"
	"github.com/coastwatch/breakwater/internal/observability"
	"github.com/coastwatch/breakwater/internal/pipeline"
	"github.com/coastwatch/breakwater/internal/repository"
	"github.com/coastwatch/breakwater/internal/scoring"
)

// createTestServer wires a server against a temp sqlite database and an
// in-process channel bus.
func createTestServer(t *testing.T) (*Server, domain.Repository) {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	tmpFile, err := os.CreateTemp("", "breakwater-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	appCfg := domain.DefaultConfig()
	locks := dedup.NewKeyLock()
	norm := normalizer.New(nil)
	scorer := scoring.New(appCfg.Scoring, nil)
	dd := dedup.New(appCfg.Dedup, repo, locks, nil)
	lm := lifecycle.New(appCfg.Lifecycle, repo, eventBus, scorer, locks, nil)
	metrics := observability.NewMetricsForTesting()

	pl := pipeline.New(domain.PipelineConfig{QueueSize: 100, WorkerCount: 2}, norm, scorer, dd, lm, repo, eventBus, metrics)
	pl.Start(context.Background())
	t.Cleanup(pl.Stop)

	engine, err := dispatch.NewPolicyEngine()
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}

	return NewServer(cfg, repo, nil, eventBus, pl, lm, engine, "test-v1"), repo
}

func seedAlert(t *testing.T, repo domain.Repository, id string, status domain.Status) *domain.Alert {
	t.Helper()

	now := time.Now().UTC()
	alert := &domain.Alert{
		ID:       id,
		Category: domain.CategoryOilSpill,
		Severity: domain.SeverityHigh,
		Status:   status,
		Location: domain.Location{Lat: 36.6, Lon: -121.89, HasCoords: true},
		Actions: []domain.AlertAction{{
			Type:      domain.ActionOpened,
			Actor:     "system",
			Timestamp: now,
		}},
		MemberSignalIDs: []string{"sig-" + id},
		MaxRiskScore:    72,
		TransitionSeq:   1,
		CoordCount:      1,
		OpenedAt:        now,
		LastUpdatedAt:   now,
	}
	if err := repo.CreateAlert(context.Background(), alert); err != nil {
		t.Fatalf("failed to seed alert: %v", err)
	}
	return alert
}

func TestSubmitSignalEndpoint(t *testing.T) {
	server, repo := createTestServer(t)

	t.Run("AcceptedSignal", func(t *testing.T) {
		lat, lon := 36.6002, -121.8947
		raw := domain.RawSignal{
			Source:    "crowd_report",
			Category:  "oil_spill",
			Lat:       &lat,
			Lon:       &lon,
			Timestamp: time.Now().UTC(),
			Content:   "dark sheen spreading near the harbor mouth",
		}

		body, _ := json.Marshal(raw)
		req := httptest.NewRequest(http.MethodPost, "/signals", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp SubmitResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.SignalID == "" {
			t.Error("expected signalId in response")
		}
		if resp.Trust != 0.7 {
			t.Errorf("expected crowd_report trust 0.7, got %.2f", resp.Trust)
		}
		if resp.Metadata.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Metadata.Version)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}

		// The pipeline processes asynchronously; poll for the alert.
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			alerts, err := repo.ListAlerts(context.Background(), domain.AlertFilter{})
			if err != nil {
				t.Fatalf("ListAlerts failed: %v", err)
			}
			if len(alerts) > 0 {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatal("signal was accepted but no alert appeared")
	})

	t.Run("ValidationErrorIs422", func(t *testing.T) {
		raw := domain.RawSignal{
			Source:    "crowd_report",
			Category:  "volcano",
			PlaceName: "Lovers Point",
			Timestamp: time.Now().UTC(),
			Content:   "something odd",
		}

		body, _ := json.Marshal(raw)
		req := httptest.NewRequest(http.MethodPost, "/signals", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["field"] != "category" {
			t.Errorf("expected field category, got %q", resp["field"])
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/signals", bytes.NewBufferString("not-json"))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestAlertEndpoints(t *testing.T) {
	server, repo := createTestServer(t)
	seedAlert(t, repo, "alert-001", domain.StatusActive)

	t.Run("ListAlerts", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/alerts", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Alerts []*domain.Alert `json:"alerts"`
			Count  int             `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 1 {
			t.Errorf("expected 1 alert, got %d", resp.Count)
		}
	})

	t.Run("ListAlertsWithBBox", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/alerts?bbox=-122.5,36.0,-121.0,37.0", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 alert in bbox, got %d", resp.Count)
		}
	})

	t.Run("ListAlertsBadBBox", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/alerts?bbox=1,2,3", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ListAlertsBadStatus", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/alerts?status=snoozed", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("GetAlert", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/alerts/alert-001", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var alert domain.Alert
		if err := json.Unmarshal(rr.Body.Bytes(), &alert); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if alert.ID != "alert-001" {
			t.Errorf("expected alert-001, got %s", alert.ID)
		}
	})

	t.Run("GetAlertNotFound", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/alerts/no-such", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("GetAlertSignalsNotFound", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/alerts/no-such/signals", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/stats", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var stats domain.AlertStats
		if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if stats.ByStatus[domain.StatusActive] != 1 {
			t.Errorf("expected 1 active alert in stats, got %d", stats.ByStatus[domain.StatusActive])
		}
	})
}

func TestTransitionEndpoint(t *testing.T) {
	server, repo := createTestServer(t)

	t.Run("ValidTransition", func(t *testing.T) {
		seedAlert(t, repo, "alert-t1", domain.StatusActive)

		body, _ := json.Marshal(TransitionRequest{
			To:    "responding",
			Actor: "operator-7",
		})
		req := httptest.NewRequest(http.MethodPost, "/alerts/alert-t1/transition", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Alert *domain.Alert           `json:"alert"`
			Event *domain.TransitionEvent `json:"event"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Alert.Status != domain.StatusResponding {
			t.Errorf("expected responding, got %s", resp.Alert.Status)
		}
		if resp.Event.Seq != 2 {
			t.Errorf("expected seq 2, got %d", resp.Event.Seq)
		}
	})

	t.Run("InvalidTransitionIs409", func(t *testing.T) {
		seedAlert(t, repo, "alert-t2", domain.StatusResolved)

		body, _ := json.Marshal(TransitionRequest{
			To:    "active",
			Actor: "operator-7",
		})
		req := httptest.NewRequest(http.MethodPost, "/alerts/alert-t2/transition", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("StaleVersionIs409", func(t *testing.T) {
		seedAlert(t, repo, "alert-t3", domain.StatusActive)

		stale := time.Now().UTC().Add(-1 * time.Hour)
		body, _ := json.Marshal(TransitionRequest{
			To:              "responding",
			Actor:           "operator-7",
			ExpectedVersion: &stale,
		})
		req := httptest.NewRequest(http.MethodPost, "/alerts/alert-t3/transition", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("UnknownStatusIs422", func(t *testing.T) {
		body, _ := json.Marshal(TransitionRequest{
			To:    "snoozed",
			Actor: "operator-7",
		})
		req := httptest.NewRequest(http.MethodPost, "/alerts/alert-t1/transition", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422, got %d", rr.Code)
		}
	})

	t.Run("MissingActorIs422", func(t *testing.T) {
		body, _ := json.Marshal(TransitionRequest{To: "responding"})
		req := httptest.NewRequest(http.MethodPost, "/alerts/alert-t1/transition", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422, got %d", rr.Code)
		}
	})

	t.Run("UnknownAlertIs404", func(t *testing.T) {
		body, _ := json.Marshal(TransitionRequest{
			To:    "responding",
			Actor: "operator-7",
		})
		req := httptest.NewRequest(http.MethodPost, "/alerts/no-such/transition", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestPolicyEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("CreatePolicy", func(t *testing.T) {
		body, _ := json.Marshal(CreatePolicyRequest{
			ID:         "policy-critical",
			Name:       "Critical pager",
			Expression: `severity == "critical"`,
			Channels:   []string{"pager"},
			Enabled:    true,
		})
		req := httptest.NewRequest(http.MethodPost, "/policies", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("ListPolicies", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/policies", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 loaded policy, got %d", resp.Count)
		}
	})

	t.Run("BadExpressionRejected", func(t *testing.T) {
		body, _ := json.Marshal(CreatePolicyRequest{
			ID:         "policy-bad",
			Name:       "Broken",
			Expression: "risk_score +",
			Channels:   []string{"sms"},
			Enabled:    true,
		})
		req := httptest.NewRequest(http.MethodPost, "/policies", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ReloadPolicies", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/policies/reload", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 policy after reload, got %d", resp.Count)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("Health", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected healthy, got %s", resp["status"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}
