package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coastwatch/breakwater/internal/domain"
)

// LogNotifier writes notifications to the structured log. It is the
// default collaborator for single-node deployments without any external
// paging or messaging integration configured.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(ctx context.Context, channel string, n *domain.Notification) error {
	slog.Info("notification dispatched",
		"channel", channel,
		"alert_id", n.AlertID,
		"seq", n.Seq,
		"to_status", n.Event.ToStatus,
		"severity", n.Event.Severity,
	)
	return nil
}

// WebhookNotifier POSTs notifications as JSON to a per-channel URL.
// Channels without a configured URL fall back to the structured log, so
// a policy naming an unwired channel degrades instead of erroring.
type WebhookNotifier struct {
	endpoints map[string]string
	client    *http.Client
	fallback  LogNotifier
}

// NewWebhookNotifier builds a notifier from a channel -> URL map.
func NewWebhookNotifier(endpoints map[string]string) *WebhookNotifier {
	return &WebhookNotifier{
		endpoints: endpoints,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify implements Notifier.
func (w *WebhookNotifier) Notify(ctx context.Context, channel string, n *domain.Notification) error {
	url, ok := w.endpoints[channel]
	if !ok {
		return w.fallback.Notify(ctx, channel, n)
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned %d", channel, resp.StatusCode)
	}
	return nil
}
