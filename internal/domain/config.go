package domain

import "time"

// Config holds the complete Breakwater configuration. Every threshold from
// the scoring, deduplication, lifecycle, and dispatch components is an
// explicit knob here, not a hidden constant.
type Config struct {
	Server ServerConfig `json:"server"`

	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	Pipeline  PipelineConfig  `json:"pipeline"`
	Scoring   ScoringConfig   `json:"scoring"`
	Dedup     DedupConfig     `json:"dedup"`
	Lifecycle LifecycleConfig `json:"lifecycle"`
	Dispatch  DispatchConfig  `json:"dispatch"`

	Logging LoggingConfig `json:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// PipelineConfig controls the bounded ingest queue and worker pool.
type PipelineConfig struct {
	// QueueSize is the ingest queue capacity. Submissions beyond it are
	// rejected with ErrOverloaded rather than growing unbounded.
	QueueSize int `json:"queueSize"`

	// WorkerCount is the number of concurrent pipeline workers.
	WorkerCount int `json:"workerCount"`
}

// ScoringConfig holds the risk scorer's weights and decay settings.
// Weights are normalized to sum to 1 before use.
type ScoringConfig struct {
	TrustWeight         float64 `json:"trustWeight"`
	CategoryPriorWeight float64 `json:"categoryPriorWeight"`
	EngagementWeight    float64 `json:"engagementWeight"`
	RecencyWeight       float64 `json:"recencyWeight"`
	CorroborationWeight float64 `json:"corroborationWeight"`

	// RecencyHalfLife controls how fast the recency feature decays.
	RecencyHalfLife time.Duration `json:"recencyHalfLife"`

	// CategoryPriors maps categories to a 0-100 severity prior. Unknown
	// categories fall back to UnknownCategoryPrior, a conservative
	// mid-tier value so unclassified signals never score as critical.
	CategoryPriors       map[Category]float64 `json:"categoryPriors"`
	UnknownCategoryPrior float64              `json:"unknownCategoryPrior"`

	// Severity holds the score-to-tier cutoffs.
	Severity SeverityThresholds `json:"severity"`
}

// DedupConfig holds the geo-temporal clustering knobs.
type DedupConfig struct {
	// DefaultRadiusKM is the centroid distance threshold for candidate
	// alerts when no per-category override exists.
	DefaultRadiusKM float64 `json:"defaultRadiusKm"`

	// CategoryRadiusKM overrides the radius per category: tsunami waves
	// cluster over a larger area than a localized oil spill.
	CategoryRadiusKM map[Category]float64 `json:"categoryRadiusKm"`

	// TimeWindow is how recently a candidate alert must have been updated.
	TimeWindow time.Duration `json:"timeWindow"`

	// Compatible lists cross-category co-clustering sets: a signal of the
	// key category may also merge into alerts of the listed categories.
	Compatible map[Category][]Category `json:"compatible"`

	// CellSizeDeg is the geo-cell grid size (degrees) used to serialize
	// alert creation for signals arriving in the same instant.
	CellSizeDeg float64 `json:"cellSizeDeg"`
}

// LifecycleConfig holds the alert lifecycle knobs.
type LifecycleConfig struct {
	// QuietPeriod is how long an Active alert with severity <= Medium may
	// go without corroboration before it auto-resolves as stale.
	QuietPeriod time.Duration `json:"quietPeriod"`

	// StaleSweepSchedule is the cron spec for the staleness sweep.
	StaleSweepSchedule string `json:"staleSweepSchedule"`
}

// DispatchConfig holds notification delivery settings.
type DispatchConfig struct {
	// MaxAttempts bounds retries against the notification collaborator.
	MaxAttempts int `json:"maxAttempts"`

	// InitialBackoff is the first retry delay; it doubles per attempt.
	InitialBackoff time.Duration `json:"initialBackoff"`

	// DedupTTL is how long delivery dedup keys are retained.
	DedupTTL time.Duration `json:"dedupTtl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// DefaultConfig returns the single-node default configuration:
// SQLite + in-process channel bus + local LRU cache.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./breakwater.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Pipeline: PipelineConfig{
			QueueSize:   1000,
			WorkerCount: 8,
		},
		Scoring: ScoringConfig{
			TrustWeight:         0.30,
			CategoryPriorWeight: 0.30,
			EngagementWeight:    0.15,
			RecencyWeight:       0.15,
			CorroborationWeight: 0.10,
			RecencyHalfLife:     2 * time.Hour,
			CategoryPriors: map[Category]float64{
				CategoryWaveTsunami:    90,
				CategoryOilSpill:       75,
				CategoryPollution:      60,
				CategoryErosion:        50,
				CategoryWeatherAnomaly: 65,
				CategoryMarineLife:     40,
			},
			UnknownCategoryPrior: 50,
			Severity: SeverityThresholds{
				Critical: 85,
				High:     65,
				Medium:   40,
			},
		},
		Dedup: DedupConfig{
			DefaultRadiusKM: 5,
			CategoryRadiusKM: map[Category]float64{
				CategoryWaveTsunami:    50,
				CategoryWeatherAnomaly: 25,
				CategoryOilSpill:       10,
			},
			TimeWindow: 60 * time.Minute,
			Compatible: map[Category][]Category{
				CategoryWeatherAnomaly: {CategoryWaveTsunami},
				CategoryWaveTsunami:    {CategoryWeatherAnomaly},
			},
			CellSizeDeg: 0.5,
		},
		Lifecycle: LifecycleConfig{
			QuietPeriod:        4 * time.Hour,
			StaleSweepSchedule: "@every 5m",
		},
		Dispatch: DispatchConfig{
			MaxAttempts:    4,
			InitialBackoff: 200 * time.Millisecond,
			DedupTTL:       24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// DistributedConfig returns a configuration for multi-node deployments:
// PostgreSQL + NATS + Redis two-phase cache.
func DistributedConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "breakwater",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	return cfg
}
