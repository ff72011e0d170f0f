package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/coastwatch/breakwater/internal/dedup"
	"github.com/coastwatch/breakwater/internal/domain"
)

// Notifier delivers a notification on one channel. Implementations wrap
// SMS gateways, webhooks, or responder paging systems.
type Notifier interface {
	Notify(ctx context.Context, channel string, n *domain.Notification) error
}

// Coordinator consumes committed transition events and delivers
// notifications. Delivery is decoupled from the transition itself: a
// failed dispatch is recorded and published but never fails the
// transition that produced it.
type Coordinator struct {
	cfg      domain.DispatchConfig
	engine   *PolicyEngine
	notifier Notifier
	cache    domain.Cache
	bus      domain.EventBus
	repo     domain.Repository
	locks    *dedup.KeyLock
	clock    clockwork.Clock

	sub domain.Subscription
}

// NewCoordinator creates a dispatch coordinator.
func NewCoordinator(cfg domain.DispatchConfig, engine *PolicyEngine, notifier Notifier, cache domain.Cache, eventBus domain.EventBus, repo domain.Repository, locks *dedup.KeyLock, clock clockwork.Clock) *Coordinator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 24 * time.Hour
	}
	return &Coordinator{
		cfg:      cfg,
		engine:   engine,
		notifier: notifier,
		cache:    cache,
		bus:      eventBus,
		repo:     repo,
		locks:    locks,
		clock:    clock,
	}
}

// Start subscribes to the transition topic and dispatches events as they
// are committed.
func (c *Coordinator) Start(ctx context.Context) error {
	sub, err := c.bus.Subscribe(ctx, domain.TopicAlertTransition, func(ctx context.Context, msg *domain.Message) error {
		var event domain.TransitionEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			slog.Error("failed to unmarshal transition event",
				"message_id", msg.ID,
				"error", err,
			)
			return nil
		}
		c.Dispatch(ctx, &event)
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribe to transitions: %w", err)
	}
	c.sub = sub
	return nil
}

// Stop unsubscribes from the transition topic.
func (c *Coordinator) Stop() {
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}
}

// Dispatch routes one transition event. The bus delivers at-least-once;
// the counter on (alertId, seq) ensures at most one delivery per
// committed transition across replays and restarts.
func (c *Coordinator) Dispatch(ctx context.Context, event *domain.TransitionEvent) {
	channels := c.engine.Channels(event)
	if len(channels) == 0 {
		return
	}

	key := fmt.Sprintf("dispatch:%s:%d", event.AlertID, event.Seq)
	count, err := c.cache.IncrementCounter(ctx, key, c.cfg.DedupTTL)
	if err != nil {
		// Cache down: deliver anyway. A duplicate notification beats a
		// dropped one.
		slog.Warn("dispatch dedup unavailable",
			"alert_id", event.AlertID,
			"seq", event.Seq,
			"error", err,
		)
	} else if count > 1 {
		slog.Debug("dispatch suppressed, already delivered",
			"alert_id", event.AlertID,
			"seq", event.Seq,
		)
		return
	}

	notification := &domain.Notification{
		AlertID:   event.AlertID,
		Seq:       event.Seq,
		Channels:  channels,
		Event:     *event,
		CreatedAt: c.clock.Now().UTC(),
	}

	for _, channel := range channels {
		if err := c.deliver(ctx, channel, notification); err != nil {
			c.recordFailure(ctx, event, channel, err)
		}
	}
}

// deliver retries one channel with exponential backoff.
func (c *Coordinator) deliver(ctx context.Context, channel string, n *domain.Notification) error {
	backoff := c.cfg.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		lastErr = c.notifier.Notify(ctx, channel, n)
		if lastErr == nil {
			slog.Info("notification delivered",
				"alert_id", n.AlertID,
				"seq", n.Seq,
				"channel", channel,
				"attempt", attempt,
			)
			return nil
		}

		slog.Warn("notification attempt failed",
			"alert_id", n.AlertID,
			"seq", n.Seq,
			"channel", channel,
			"attempt", attempt,
			"error", lastErr,
		)

		if attempt < c.cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.clock.After(backoff):
			}
			backoff *= 2
		}
	}

	return fmt.Errorf("delivery to %s failed after %d attempts: %w", channel, c.cfg.MaxAttempts, lastErr)
}

// recordFailure appends a dispatch_failed entry to the alert's action log
// and publishes the failure for operational visibility.
func (c *Coordinator) recordFailure(ctx context.Context, event *domain.TransitionEvent, channel string, cause error) {
	slog.Error("dispatch failed",
		"alert_id", event.AlertID,
		"seq", event.Seq,
		"channel", channel,
		"error", cause,
	)

	release := c.locks.Lock(event.AlertID)
	defer release()

	alert, err := c.repo.GetAlert(ctx, event.AlertID)
	if err == nil {
		version := alert.LastUpdatedAt
		now := c.clock.Now().UTC()
		alert.Actions = append(alert.Actions, domain.AlertAction{
			Timestamp: now,
			Type:      domain.ActionDispatchFailed,
			Reason:    fmt.Sprintf("channel %s: %v", channel, cause),
			Actor:     "system",
		})
		alert.LastUpdatedAt = now
		if err := c.repo.UpdateAlert(ctx, alert, version); err != nil {
			slog.Error("failed to record dispatch failure",
				"alert_id", event.AlertID,
				"error", err,
			)
		}
	}

	payload, _ := json.Marshal(map[string]any{
		"alertId": event.AlertID,
		"seq":     event.Seq,
		"channel": channel,
		"error":   cause.Error(),
	})
	if err := c.bus.Publish(ctx, domain.TopicDispatchFailed, payload); err != nil {
		slog.Error("failed to publish dispatch failure",
			"alert_id", event.AlertID,
			"error", err,
		)
	}
}
