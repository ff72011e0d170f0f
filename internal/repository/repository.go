// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coastwatch/breakwater/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveSignal appends a signal and its computed risk score. Signals are
// append-only: there is deliberately no update path.
func (r *SQLRepository) SaveSignal(ctx context.Context, sig *domain.Signal, score *domain.RiskScore) error {
	if sig == nil || sig.ID == "" {
		return fmt.Errorf("%w: signal with id is required", ErrInvalidInput)
	}

	var scoreValue float64
	var features []byte
	if score != nil {
		scoreValue = score.Value
		features, _ = json.Marshal(score.Features)
	}

	hasCoords := 0
	if sig.Location.HasCoords {
		hasCoords = 1
	}

	query := `
		INSERT INTO signals (
			id, source, category, lat, lon, has_coords, place_name,
			timestamp, received_at, raw_severity_hint, engagement_score,
			reporter_trust, content, risk_score, risk_features
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		sig.ID, sig.Source, sig.Category,
		sig.Location.Lat, sig.Location.Lon, hasCoords, sig.Location.PlaceName,
		sig.Timestamp, sig.ReceivedAt, sig.RawSeverityHint, sig.EngagementScore,
		sig.ReporterTrust, sig.Content, scoreValue, string(features),
	)
	return err
}

// GetSignal retrieves a signal and its score by ID.
func (r *SQLRepository) GetSignal(ctx context.Context, signalID string) (*domain.Signal, *domain.RiskScore, error) {
	query := `
		SELECT id, source, category, lat, lon, has_coords, place_name,
			   timestamp, received_at, raw_severity_hint, engagement_score,
			   reporter_trust, content, risk_score, risk_features
		FROM signals
		WHERE id = ?
	`

	sig, score, err := scanSignal(r.db.QueryRowContext(ctx, r.rebind(query), signalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return sig, score, nil
}

// GetSignalsByAlert retrieves an alert's member signals in arrival order.
func (r *SQLRepository) GetSignalsByAlert(ctx context.Context, alertID string) ([]*domain.Signal, error) {
	query := `
		SELECT id, source, category, lat, lon, has_coords, place_name,
			   timestamp, received_at, raw_severity_hint, engagement_score,
			   reporter_trust, content, risk_score, risk_features
		FROM signals
		WHERE alert_id = ?
		ORDER BY received_at ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []*domain.Signal
	for rows.Next() {
		sig, _, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}

	return signals, rows.Err()
}

// BindSignalToAlert records alert ownership of a signal.
func (r *SQLRepository) BindSignalToAlert(ctx context.Context, signalID, alertID string) error {
	query := `UPDATE signals SET alert_id = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), alertID, signalID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateAlert stores a newly opened alert.
func (r *SQLRepository) CreateAlert(ctx context.Context, alert *domain.Alert) error {
	if alert == nil || alert.ID == "" {
		return fmt.Errorf("%w: alert with id is required", ErrInvalidInput)
	}
	alert.MustHaveMembers()

	members, _ := json.Marshal(alert.MemberSignalIDs)
	actions, _ := json.Marshal(alert.Actions)

	hasCoords := 0
	if alert.Location.HasCoords {
		hasCoords = 1
	}

	var resolvedAt any
	if alert.ResolvedAt != nil {
		resolvedAt = *alert.ResolvedAt
	}

	query := `
		INSERT INTO alerts (
			id, category, severity, status, lat, lon, has_coords, coord_count,
			place_name, opened_at, last_updated_at, resolved_at, resolve_reason,
			member_signal_ids, responder_count, affected_estimate, actions,
			transition_seq, max_risk_score
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, alert.Category, alert.Severity, alert.Status,
		alert.Location.Lat, alert.Location.Lon, hasCoords, alert.CoordCount,
		alert.Location.PlaceName, alert.OpenedAt, alert.LastUpdatedAt,
		resolvedAt, alert.ResolveReason,
		string(members), alert.ResponderCount, alert.AffectedEstimate, string(actions),
		alert.TransitionSeq, alert.MaxRiskScore,
	)
	return err
}

// GetAlert retrieves an alert by ID.
func (r *SQLRepository) GetAlert(ctx context.Context, alertID string) (*domain.Alert, error) {
	query := selectAlerts + ` WHERE id = ?`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// UpdateAlert persists a mutated alert. The update only applies when the
// stored last_updated_at still matches expectedVersion, giving optimistic
// concurrency for operator actions.
func (r *SQLRepository) UpdateAlert(ctx context.Context, alert *domain.Alert, expectedVersion time.Time) error {
	if alert == nil || alert.ID == "" {
		return fmt.Errorf("%w: alert with id is required", ErrInvalidInput)
	}
	alert.MustHaveMembers()

	members, _ := json.Marshal(alert.MemberSignalIDs)
	actions, _ := json.Marshal(alert.Actions)

	hasCoords := 0
	if alert.Location.HasCoords {
		hasCoords = 1
	}

	var resolvedAt any
	if alert.ResolvedAt != nil {
		resolvedAt = *alert.ResolvedAt
	}

	query := `
		UPDATE alerts SET
			severity = ?, status = ?, lat = ?, lon = ?, has_coords = ?,
			coord_count = ?, place_name = ?, last_updated_at = ?,
			resolved_at = ?, resolve_reason = ?, member_signal_ids = ?,
			responder_count = ?, affected_estimate = ?, actions = ?,
			transition_seq = ?, max_risk_score = ?
		WHERE id = ? AND last_updated_at = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.Severity, alert.Status,
		alert.Location.Lat, alert.Location.Lon, hasCoords,
		alert.CoordCount, alert.Location.PlaceName, alert.LastUpdatedAt,
		resolvedAt, alert.ResolveReason, string(members),
		alert.ResponderCount, alert.AffectedEstimate, string(actions),
		alert.TransitionSeq, alert.MaxRiskScore,
		alert.ID, expectedVersion,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a missing alert from a stale version.
		if _, err := r.GetAlert(ctx, alert.ID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return domain.ErrVersionConflict
	}

	return nil
}

// ListAlerts returns alert snapshots matching the filter, ordered
// most-recently-updated first.
func (r *SQLRepository) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	var conds []string
	var args []any

	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.BBox != nil {
		b := *filter.BBox
		conds = append(conds, "has_coords = 1", "lon >= ?", "lat >= ?", "lon <= ?", "lat <= ?")
		args = append(args, b[0], b[1], b[2], b[3])
	}

	query := selectAlerts
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY last_updated_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	return r.queryAlerts(ctx, query, args...)
}

// ListOpenAlerts returns unresolved alerts in the given categories updated
// at or after the cutoff. This is the dedup candidate query.
func (r *SQLRepository) ListOpenAlerts(ctx context.Context, categories []domain.Category, updatedSince time.Time) ([]*domain.Alert, error) {
	if len(categories) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(categories))
	args := make([]any, 0, len(categories)+1)
	for i, c := range categories {
		placeholders[i] = "?"
		args = append(args, c)
	}
	args = append(args, updatedSince)

	query := selectAlerts + `
		WHERE status != 'resolved'
		  AND category IN (` + strings.Join(placeholders, ", ") + `)
		  AND last_updated_at >= ?
		ORDER BY last_updated_at DESC
	`

	return r.queryAlerts(ctx, query, args...)
}

// ListStaleAlerts returns Active alerts at or below maxSeverity whose last
// update precedes the cutoff (the staleness sweep query).
func (r *SQLRepository) ListStaleAlerts(ctx context.Context, before time.Time, maxSeverity domain.Severity) ([]*domain.Alert, error) {
	severities := []string{}
	for _, s := range []domain.Severity{domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical} {
		if s.Rank() <= maxSeverity.Rank() {
			severities = append(severities, "?")
		}
	}

	args := []any{}
	for _, s := range []domain.Severity{domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical} {
		if s.Rank() <= maxSeverity.Rank() {
			args = append(args, s)
		}
	}
	args = append(args, before)

	query := selectAlerts + `
		WHERE status = 'active'
		  AND severity IN (` + strings.Join(severities, ", ") + `)
		  AND last_updated_at < ?
		ORDER BY last_updated_at ASC
	`

	return r.queryAlerts(ctx, query, args...)
}

// Stats aggregates alert counts for dashboard views.
func (r *SQLRepository) Stats(ctx context.Context) (*domain.AlertStats, error) {
	stats := &domain.AlertStats{
		ByStatus:   make(map[domain.Status]int),
		BySeverity: make(map[domain.Severity]int),
		ByCategory: make(map[domain.Category]int),
	}

	rows, err := r.db.QueryContext(ctx, `SELECT status, severity, category, COUNT(*) FROM alerts GROUP BY status, severity, category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status domain.Status
		var severity domain.Severity
		var category domain.Category
		var count int
		if err := rows.Scan(&status, &severity, &category, &count); err != nil {
			return nil, err
		}
		stats.ByStatus[status] += count
		stats.BySeverity[severity] += count
		stats.ByCategory[category] += count
		stats.Total += count
		if status != domain.StatusResolved {
			stats.TotalOpen += count
		}
	}

	return stats, rows.Err()
}

// SavePolicy stores or replaces a dispatch policy.
func (r *SQLRepository) SavePolicy(ctx context.Context, policy *domain.DispatchPolicy) error {
	if policy == nil || policy.ID == "" {
		return fmt.Errorf("%w: policy with id is required", ErrInvalidInput)
	}

	channels, _ := json.Marshal(policy.Channels)

	enabled := 0
	if policy.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO dispatch_policies (
			id, name, description, expression, channels, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			channels = excluded.channels,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		policy.ID, policy.Name, policy.Description, policy.Expression,
		string(channels), enabled, now, now,
	)
	return err
}

// ListPolicies retrieves all enabled dispatch policies.
func (r *SQLRepository) ListPolicies(ctx context.Context) ([]*domain.DispatchPolicy, error) {
	query := `
		SELECT id, name, description, expression, channels, enabled, created_at, updated_at
		FROM dispatch_policies
		WHERE enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*domain.DispatchPolicy
	for rows.Next() {
		var p domain.DispatchPolicy
		var channels string
		var enabled int

		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Expression, &channels, &enabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}

		p.Enabled = enabled == 1
		if err := json.Unmarshal([]byte(channels), &p.Channels); err != nil {
			return nil, fmt.Errorf("failed to parse policy channels for %s: %w", p.ID, err)
		}
		policies = append(policies, &p)
	}

	return policies, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

const selectAlerts = `
	SELECT id, category, severity, status, lat, lon, has_coords, coord_count,
		   place_name, opened_at, last_updated_at, resolved_at, resolve_reason,
		   member_signal_ids, responder_count, affected_estimate, actions,
		   transition_seq, max_risk_score
	FROM alerts`

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSignal(s scanner) (*domain.Signal, *domain.RiskScore, error) {
	var sig domain.Signal
	var hasCoords int
	var features sql.NullString
	var placeName, hint, content sql.NullString
	var scoreValue float64

	err := s.Scan(
		&sig.ID, &sig.Source, &sig.Category,
		&sig.Location.Lat, &sig.Location.Lon, &hasCoords, &placeName,
		&sig.Timestamp, &sig.ReceivedAt, &hint, &sig.EngagementScore,
		&sig.ReporterTrust, &content, &scoreValue, &features,
	)
	if err != nil {
		return nil, nil, err
	}

	sig.Location.HasCoords = hasCoords == 1
	sig.Location.PlaceName = placeName.String
	sig.RawSeverityHint = hint.String
	sig.Content = content.String

	score := &domain.RiskScore{Value: scoreValue}
	if features.Valid && features.String != "" {
		json.Unmarshal([]byte(features.String), &score.Features)
	}

	return &sig, score, nil
}

func scanAlert(s scanner) (*domain.Alert, error) {
	var a domain.Alert
	var hasCoords int
	var placeName, resolveReason sql.NullString
	var resolvedAt sql.NullTime
	var members, actions string

	err := s.Scan(
		&a.ID, &a.Category, &a.Severity, &a.Status,
		&a.Location.Lat, &a.Location.Lon, &hasCoords, &a.CoordCount,
		&placeName, &a.OpenedAt, &a.LastUpdatedAt, &resolvedAt, &resolveReason,
		&members, &a.ResponderCount, &a.AffectedEstimate, &actions,
		&a.TransitionSeq, &a.MaxRiskScore,
	)
	if err != nil {
		return nil, err
	}

	a.Location.HasCoords = hasCoords == 1
	a.Location.PlaceName = placeName.String
	a.ResolveReason = resolveReason.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}

	if err := json.Unmarshal([]byte(members), &a.MemberSignalIDs); err != nil {
		return nil, fmt.Errorf("failed to parse member signal ids for %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(actions), &a.Actions); err != nil {
		return nil, fmt.Errorf("failed to parse actions for %s: %w", a.ID, err)
	}

	return &a, nil
}

func (r *SQLRepository) queryAlerts(ctx context.Context, query string, args ...any) ([]*domain.Alert, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
