// Package pipeline runs the signal ingestion path: normalize, enqueue,
// score, assign to an alert, merge. The queue is bounded; when it fills,
// submissions are rejected with ErrOverloaded instead of queueing
// unboundedly.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coastwatch/breakwater/internal/dedup"
	"github.com/coastwatch/breakwater/internal/domain"
	"github.com/coastwatch/breakwater/internal/lifecycle"
	"github.com/coastwatch/breakwater/internal/normalizer"
	"github.com/coastwatch/breakwater/internal/observability"
	"github.com/coastwatch/breakwater/internal/scoring"
)

// Pipeline is the bounded ingest queue plus its worker pool.
type Pipeline struct {
	cfg        domain.PipelineConfig
	normalizer *normalizer.Normalizer
	scorer     *scoring.Scorer
	dedup      *dedup.Deduplicator
	lifecycle  *lifecycle.Manager
	repo       domain.Repository
	bus        domain.EventBus
	metrics    *observability.Metrics

	queue chan *domain.Signal
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a pipeline. Call Start to launch the workers.
func New(cfg domain.PipelineConfig, norm *normalizer.Normalizer, scorer *scoring.Scorer, dd *dedup.Deduplicator, lm *lifecycle.Manager, repo domain.Repository, eventBus domain.EventBus, metrics *observability.Metrics) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 8
	}
	return &Pipeline{
		cfg:        cfg,
		normalizer: norm,
		scorer:     scorer,
		dedup:      dd,
		lifecycle:  lm,
		repo:       repo,
		bus:        eventBus,
		metrics:    metrics,
	}
}

// Start launches the worker pool.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.queue != nil {
		return
	}
	p.queue = make(chan *domain.Signal, p.cfg.QueueSize)

	// Workers get a context detached from the caller's: once a signal is
	// queued it runs to completion even while the process is shutting
	// down. Stop closes the queue and waits for the drain.
	workCtx := context.WithoutCancel(ctx)
	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(workCtx)
	}
	p.metrics.WorkersRunning.Set(float64(p.cfg.WorkerCount))

	slog.Info("pipeline started",
		"workers", p.cfg.WorkerCount,
		"queue_size", p.cfg.QueueSize,
	)
}

// Stop rejects further submissions, drains the queue, and waits for the
// workers to finish.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.closed || p.queue == nil {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	p.metrics.WorkersRunning.Set(0)
	slog.Info("pipeline stopped")
}

// Submit validates a raw signal and enqueues it. Returns the accepted
// Signal, a *domain.ValidationError for malformed input, or ErrOverloaded
// when the queue is full.
func (p *Pipeline) Submit(ctx context.Context, raw *domain.RawSignal) (*domain.Signal, error) {
	sig, err := p.normalizer.Normalize(raw)
	if err != nil {
		reason := "invalid"
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			reason = verr.Reason
		}
		p.metrics.SignalsRejected.WithLabelValues(reason).Inc()

		payload, _ := json.Marshal(map[string]any{"error": err.Error(), "source": raw.Source})
		if perr := p.bus.Publish(ctx, domain.TopicSignalRejected, payload); perr != nil {
			slog.Error("failed to publish rejection", "error", perr)
		}
		return nil, err
	}

	p.mu.Lock()
	if p.closed || p.queue == nil {
		p.mu.Unlock()
		return nil, domain.ErrOverloaded
	}
	queue := p.queue
	p.mu.Unlock()

	select {
	case queue <- sig:
	default:
		p.metrics.QueueRejections.Inc()
		return nil, domain.ErrOverloaded
	}

	p.metrics.QueueDepth.Set(float64(len(queue)))
	p.metrics.SignalsIngested.WithLabelValues(string(sig.Source), string(sig.Category)).Inc()

	payload, _ := json.Marshal(sig)
	if err := p.bus.Publish(ctx, domain.TopicSignalIngested, payload); err != nil {
		slog.Error("failed to publish ingested signal",
			"signal_id", sig.ID,
			"error", err,
		)
	}

	return sig, nil
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()

	for sig := range p.queue {
		p.metrics.QueueDepth.Set(float64(len(p.queue)))
		if err := p.process(ctx, sig); err != nil {
			slog.Error("signal processing failed",
				"signal_id", sig.ID,
				"error", err,
			)
		}
	}
}

// process runs one signal through score, persist, assign, merge.
func (p *Pipeline) process(ctx context.Context, sig *domain.Signal) error {
	start := time.Now()

	scoreStart := time.Now()
	score := p.scorer.Score(sig, 0)
	p.metrics.ScoringDuration.Observe(time.Since(scoreStart).Seconds())

	if err := p.repo.SaveSignal(ctx, sig, score); err != nil {
		return fmt.Errorf("save signal: %w", err)
	}

	severity := p.scorer.SeverityFor(score)

	alert, created, release, err := p.dedup.Assign(ctx, sig, severity, score.Value)
	if err != nil {
		return fmt.Errorf("assign signal: %w", err)
	}
	defer release()

	if created {
		if err := p.repo.BindSignalToAlert(ctx, sig.ID, alert.ID); err != nil {
			slog.Error("failed to bind opening signal",
				"signal_id", sig.ID,
				"alert_id", alert.ID,
				"error", err,
			)
		}
		p.metrics.AlertsOpened.WithLabelValues(string(alert.Category), string(alert.Severity)).Inc()

		payload, _ := json.Marshal(alert)
		if err := p.bus.Publish(ctx, domain.TopicAlertOpened, payload); err != nil {
			slog.Error("failed to publish opened alert",
				"alert_id", alert.ID,
				"error", err,
			)
		}

		// An open is also the alert's first transition (none -> active,
		// seq 1), so dispatch policies can route brand-new alerts.
		opened := &domain.TransitionEvent{
			AlertID:   alert.ID,
			ToStatus:  alert.Status,
			Severity:  alert.Severity,
			Category:  alert.Category,
			RiskScore: alert.MaxRiskScore,
			Timestamp: alert.OpenedAt,
			Seq:       alert.TransitionSeq,
		}
		transitionPayload, _ := json.Marshal(opened)
		if err := p.bus.Publish(ctx, domain.TopicAlertTransition, transitionPayload); err != nil {
			slog.Error("failed to publish opening transition",
				"alert_id", alert.ID,
				"error", err,
			)
		}
	} else {
		if _, err := p.lifecycle.MergeSignal(ctx, alert, sig); err != nil {
			return fmt.Errorf("merge signal: %w", err)
		}
		p.metrics.SignalsMerged.Inc()
	}

	p.metrics.PipelineDuration.Observe(time.Since(start).Seconds())

	slog.Debug("signal processed",
		"signal_id", sig.ID,
		"alert_id", alert.ID,
		"created", created,
		"score", score.Value,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// QueueDepth reports how many signals are waiting.
func (p *Pipeline) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queue == nil {
		return 0
	}
	return len(p.queue)
}
