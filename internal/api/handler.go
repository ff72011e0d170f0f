package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coastwatch/breakwater/internal/dispatch"
	"github.com/coastwatch/breakwater/internal/domain"
	"github.com/coastwatch/breakwater/internal/lifecycle"
	"github.com/coastwatch/breakwater/internal/pipeline"
	"github.com/coastwatch/breakwater/internal/repository"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo         domain.Repository
	cache        domain.Cache
	bus          domain.EventBus
	pipeline     *pipeline.Pipeline
	lifecycle    *lifecycle.Manager
	policyEngine *dispatch.PolicyEngine
	version      string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, pl *pipeline.Pipeline, lm *lifecycle.Manager, engine *dispatch.PolicyEngine, version string) *Handler {
	return &Handler{
		repo:         repo,
		cache:        cache,
		bus:          bus,
		pipeline:     pl,
		lifecycle:    lm,
		policyEngine: engine,
		version:      version,
	}
}

// SubmitResponse is the response for POST /signals.
type SubmitResponse struct {
	SignalID string  `json:"signalId"`
	Source   string  `json:"source"`
	Category string  `json:"category"`
	Trust    float64 `json:"trust"`
	Metadata struct {
		TraceID string `json:"traceId"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// SubmitSignal handles POST /signals. The signal is validated
// synchronously and processed asynchronously; 201 means accepted into
// the pipeline, not yet assigned to an alert.
func (h *Handler) SubmitSignal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var raw domain.RawSignal
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	sig, err := h.pipeline.Submit(ctx, &raw)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := SubmitResponse{
		SignalID: sig.ID,
		Source:   string(sig.Source),
		Category: string(sig.Category),
		Trust:    sig.ReporterTrust,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusCreated, resp)
}

// ListAlerts handles GET /alerts with optional status, category, bbox,
// and limit query parameters.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := domain.AlertFilter{}

	if status := r.URL.Query().Get("status"); status != "" {
		s := domain.Status(status)
		if !s.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "unknown status: " + status,
			})
			return
		}
		filter.Status = s
	}

	if category := r.URL.Query().Get("category"); category != "" {
		c := domain.Category(category)
		if !c.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "unknown category: " + category,
			})
			return
		}
		filter.Category = c
	}

	if bbox := r.URL.Query().Get("bbox"); bbox != "" {
		box, err := parseBBox(bbox)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		filter.BBox = box
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		filter.Limit = limit
	}

	alerts, err := h.repo.ListAlerts(ctx, filter)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetAlert handles GET /alerts/{id}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alertID := chi.URLParam(r, "id")

	alert, err := h.repo.GetAlert(ctx, alertID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// GetAlertSignals handles GET /alerts/{id}/signals, returning the
// member signals in arrival order.
func (h *Handler) GetAlertSignals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alertID := chi.URLParam(r, "id")

	// 404 for unknown alerts rather than an empty list.
	if _, err := h.repo.GetAlert(ctx, alertID); err != nil {
		writeError(w, err)
		return
	}

	signals, err := h.repo.GetSignalsByAlert(ctx, alertID)
	if err != nil {
		slog.Error("failed to get alert signals", "alert_id", alertID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get alert signals",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alertId": alertID,
		"signals": signals,
		"count":   len(signals),
	})
}

// TransitionRequest is the request body for POST /alerts/{id}/transition.
type TransitionRequest struct {
	To     string `json:"to"`
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`

	// ExpectedVersion is the lastUpdatedAt the caller read. When set,
	// the transition fails with 409 if the alert has changed since.
	ExpectedVersion *time.Time `json:"expectedVersion,omitempty"`
}

// Transition handles POST /alerts/{id}/transition.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alertID := chi.URLParam(r, "id")

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	to := domain.Status(req.To)
	if !to.Valid() {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "unknown target status: " + req.To,
		})
		return
	}
	if req.Actor == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "actor is required",
		})
		return
	}

	var expectedVersion time.Time
	if req.ExpectedVersion != nil {
		expectedVersion = *req.ExpectedVersion
	}

	alert, event, err := h.lifecycle.ApplyTransition(ctx, alertID, to, req.Actor, req.Reason, expectedVersion)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alert": alert,
		"event": event,
	})
}

// statsCacheTTL bounds how stale the dashboard aggregates may be.
const statsCacheTTL = 10 * time.Second

// Stats handles GET /stats. The aggregate query scans the alert table,
// so results are cached briefly; dashboards poll this endpoint.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.cache != nil {
		if cached, err := h.cache.Get(ctx, "stats"); err == nil && cached != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(cached)
			return
		}
	}

	stats, err := h.repo.Stats(ctx)
	if err != nil {
		slog.Error("failed to aggregate stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to aggregate stats",
		})
		return
	}

	if h.cache != nil {
		if body, err := json.Marshal(stats); err == nil {
			h.cache.Set(ctx, "stats", body, statsCacheTTL)
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

// ListPolicies returns all dispatch policies loaded in the engine.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies := h.policyEngine.LoadedPolicies()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies": policies,
		"count":    len(policies),
		"source":   "database",
	})
}

// CreatePolicyRequest is the request body for creating a dispatch policy.
type CreatePolicyRequest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Expression  string   `json:"expression"`
	Channels    []string `json:"channels"`
	Enabled     bool     `json:"enabled"`
}

// CreatePolicy creates a dispatch policy, validates its expression,
// persists it, and loads it into the engine.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}
	if len(req.Channels) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one channel is required",
		})
		return
	}

	policy := &domain.DispatchPolicy{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Channels:    req.Channels,
		Enabled:     req.Enabled,
		UpdatedAt:   time.Now().UTC(),
	}

	// Compile before persisting so a bad expression never reaches the
	// database.
	if err := h.policyEngine.ValidatePolicy(policy); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid policy expression: " + err.Error(),
		})
		return
	}

	if err := h.repo.SavePolicy(ctx, policy); err != nil {
		slog.Error("failed to save policy", "id", policy.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save policy",
		})
		return
	}

	if policy.Enabled {
		if err := h.policyEngine.LoadPolicy(policy); err != nil {
			slog.Error("failed to load policy into engine", "id", policy.ID, "error", err)
		}
	}

	slog.Info("dispatch policy created", "id", policy.ID, "name", policy.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"policy": policy,
	})
}

// ReloadPolicies reloads all dispatch policies from the database into
// the engine. This enables hot-reloading without server restart.
func (h *Handler) ReloadPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	policies, err := h.repo.ListPolicies(ctx)
	if err != nil {
		slog.Error("failed to list policies from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load policies from database",
		})
		return
	}

	if err := h.policyEngine.ReloadPolicies(policies); err != nil {
		slog.Error("failed to reload policies into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload policies: " + err.Error(),
		})
		return
	}

	slog.Info("dispatch policies reloaded from database", "count", len(policies))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "policies reloaded successfully",
		"count":   len(policies),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// parseBBox parses "minLon,minLat,maxLon,maxLat".
func parseBBox(s string) (*[4]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, errors.New("bbox must be minLon,minLat,maxLon,maxLat")
	}
	var box [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errors.New("bbox must contain four numbers")
		}
		box[i] = v
	}
	if box[0] > box[2] || box[1] > box[3] {
		return nil, errors.New("bbox min must not exceed max")
	}
	return &box, nil
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  verr.Error(),
			"field":  verr.Field,
			"reason": verr.Reason,
		})
		return
	}

	var terr *domain.InvalidTransitionError
	if errors.As(err, &terr) {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error": terr.Error(),
			"from":  terr.From,
			"to":    terr.To,
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrVersionConflict):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, domain.ErrOverloaded):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":  err.Error(),
			"reason": "overloaded",
		})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "not found",
		})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
