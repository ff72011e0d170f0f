package domain

import (
	"context"
	"time"
)

// Repository defines the interface for durable storage. Signals are
// append-only; alerts are versioned by lastUpdatedAt for optimistic
// concurrency on operator actions.
type Repository interface {
	// Signal operations (append-only, no update or delete)
	SaveSignal(ctx context.Context, sig *Signal, score *RiskScore) error
	GetSignal(ctx context.Context, signalID string) (*Signal, *RiskScore, error)
	GetSignalsByAlert(ctx context.Context, alertID string) ([]*Signal, error)

	// BindSignalToAlert records which alert owns a signal. Bookkeeping
	// only; the signal record itself is never mutated.
	BindSignalToAlert(ctx context.Context, signalID, alertID string) error

	// Alert operations
	CreateAlert(ctx context.Context, alert *Alert) error
	GetAlert(ctx context.Context, alertID string) (*Alert, error)

	// UpdateAlert persists a mutated alert. expectedVersion must match the
	// stored last_updated_at or ErrVersionConflict is returned.
	UpdateAlert(ctx context.Context, alert *Alert, expectedVersion time.Time) error

	// ListAlerts returns alert snapshots matching the filter, ordered
	// most-recently-updated first.
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error)

	// ListOpenAlerts returns unresolved alerts in any of the given
	// categories updated at or after the cutoff (dedup candidate query).
	ListOpenAlerts(ctx context.Context, categories []Category, updatedSince time.Time) ([]*Alert, error)

	// ListStaleAlerts returns Active alerts with severity at or below
	// maxSeverity whose last update precedes the cutoff.
	ListStaleAlerts(ctx context.Context, before time.Time, maxSeverity Severity) ([]*Alert, error)

	// Stats aggregates alert counts for dashboard views.
	Stats(ctx context.Context) (*AlertStats, error)

	// Dispatch policy operations
	SavePolicy(ctx context.Context, policy *DispatchPolicy) error
	ListPolicies(ctx context.Context) ([]*DispatchPolicy, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AlertFilter narrows ListAlerts results. Zero values mean "no constraint".
type AlertFilter struct {
	Status   Status
	Category Category

	// BBox is [minLon, minLat, maxLon, maxLat]; nil means unbounded.
	BBox *[4]float64

	Limit int
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
