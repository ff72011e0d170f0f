// Breakwater - Coastal hazard alert aggregation engine.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coastwatch/breakwater/internal/api"
	"github.com/coastwatch/breakwater/internal/bus"
	"github.com/coastwatch/breakwater/internal/cache"
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

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration before logging so the log format honors it
	cfg := loadConfig()

	initLogging(cfg.Logging)

	slog.Info("starting breakwater",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Metrics registry
	metrics := observability.NewMetrics()

	// Core pipeline components. The keyed lock set is shared between
	// dedup, lifecycle, and dispatch so every alert mutation serializes
	// on the same mutex.
	locks := dedup.NewKeyLock()
	norm := normalizer.New(nil)
	scorer := scoring.New(cfg.Scoring, nil)
	deduplicator := dedup.New(cfg.Dedup, repo, locks, nil)
	lifecycleMgr := lifecycle.New(cfg.Lifecycle, repo, busImpl, scorer, locks, nil)

	ingest := pipeline.New(cfg.Pipeline, norm, scorer, deduplicator, lifecycleMgr, repo, busImpl, metrics)
	ingest.Start(ctx)
	slog.Info("ingest pipeline started",
		"queue_size", cfg.Pipeline.QueueSize,
		"workers", cfg.Pipeline.WorkerCount,
	)

	// Staleness sweeper
	sweeper := lifecycle.NewSweeper(lifecycleMgr)
	if err := sweeper.Start(); err != nil {
		slog.Error("failed to start staleness sweeper", "error", err)
		os.Exit(1)
	}
	slog.Info("staleness sweeper started", "schedule", cfg.Lifecycle.StaleSweepSchedule)

	// Dispatch policy engine, loaded from the database at boot
	policyEngine, err := dispatch.NewPolicyEngine()
	if err != nil {
		slog.Error("failed to initialize policy engine", "error", err)
		os.Exit(1)
	}
	if err := loadPoliciesFromDatabase(ctx, repo, policyEngine); err != nil {
		slog.Error("failed to load dispatch policies", "error", err)
		os.Exit(1)
	}
	slog.Info("policy engine initialized", "policies_count", policyEngine.PoliciesCount())

	// Dispatch coordinator, consuming transitions off the bus
	coordinator := dispatch.NewCoordinator(cfg.Dispatch, policyEngine, buildNotifier(), cacheImpl, busImpl, repo, locks, nil)
	if err := coordinator.Start(ctx); err != nil {
		slog.Error("failed to start dispatch coordinator", "error", err)
		os.Exit(1)
	}
	slog.Info("dispatch coordinator started")

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, ingest, lifecycleMgr, policyEngine, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("breakwater is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop ingest first so in-flight signals drain before the bus closes
	ingest.Stop()
	sweeper.Stop()
	coordinator.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("breakwater shutdown complete")
}

// loadConfig builds configuration from defaults plus environment
// overrides. BREAKWATER_MODE=distributed switches to the
// postgres/NATS/redis stack.
func loadConfig() *domain.Config {
	var cfg *domain.Config
	if os.Getenv("BREAKWATER_MODE") == "distributed" {
		cfg = domain.DistributedConfig()
	} else {
		cfg = domain.DefaultConfig()
	}

	if v := os.Getenv("BREAKWATER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("BREAKWATER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("BREAKWATER_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("BREAKWATER_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("BREAKWATER_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("BREAKWATER_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("BREAKWATER_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if os.Getenv("BREAKWATER_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}

	return cfg
}

func initLogging(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// buildNotifier wires webhook endpoints from BREAKWATER_WEBHOOKS
// ("channel=url,channel=url"). With no endpoints configured every
// channel falls back to the structured log.
func buildNotifier() dispatch.Notifier {
	raw := os.Getenv("BREAKWATER_WEBHOOKS")
	if raw == "" {
		return dispatch.LogNotifier{}
	}

	endpoints := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		channel, url, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || channel == "" || url == "" {
			slog.Warn("skipping malformed webhook mapping", "entry", pair)
			continue
		}
		endpoints[channel] = url
	}
	slog.Info("webhook notifier configured", "channels", len(endpoints))
	return dispatch.NewWebhookNotifier(endpoints)
}

// loadPoliciesFromDatabase loads dispatch policies into the engine.
// All policies are configured via POST /policies - no hardcoded defaults.
func loadPoliciesFromDatabase(ctx context.Context, repo domain.Repository, engine *dispatch.PolicyEngine) error {
	policies, err := repo.ListPolicies(ctx)
	if err != nil {
		slog.Warn("failed to list policies from database", "error", err)
		return nil // Start with empty policies - they can be added via API
	}

	if len(policies) > 0 {
		slog.Info("loading dispatch policies from database", "count", len(policies))
		return engine.ReloadPolicies(policies)
	}

	slog.Info("no dispatch policies in database - configure via POST /policies API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║              🌊 BREAKWATER                ║")
	fmt.Println("  ║      Hazard Alert Aggregation Engine      ║")
	fmt.Println("  ║       Every signal, one clear alert.      ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /signals                 - Submit a hazard signal")
	fmt.Println("    GET  /alerts                  - List alerts (status/category/bbox filters)")
	fmt.Println("    GET  /alerts/{id}             - Get alert by ID")
	fmt.Println("    GET  /alerts/{id}/signals     - Member signals of an alert")
	fmt.Println("    POST /alerts/{id}/transition  - Apply a lifecycle transition")
	fmt.Println("    GET  /events                  - Live alert event stream (SSE)")
	fmt.Println("    GET  /stats                   - Alert aggregates")
	fmt.Println("    GET  /policies                - List dispatch policies")
	fmt.Println("    POST /policies                - Create a dispatch policy")
	fmt.Println("    POST /policies/reload         - Hot-reload policies from database")
	fmt.Println("    GET  /health                  - Health check")
	fmt.Println("    GET  /metrics                 - Prometheus metrics")
	fmt.Println()
}
