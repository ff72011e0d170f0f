package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coastwatch/breakwater/internal/domain"
)

// streamTopics are the bus topics fanned out to SSE clients.
var streamTopics = []string{
	domain.TopicAlertOpened,
	domain.TopicAlertMerged,
	domain.TopicAlertTransition,
	domain.TopicDispatchFailed,
}

// Events handles GET /events: a Server-Sent Events stream of alert
// lifecycle activity. Each bus message becomes one SSE event whose
// event name is the topic and whose data is the raw JSON payload.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "streaming not supported",
		})
		return
	}

	// The stream outlives the server's write timeout; clear the deadline
	// so long-lived dashboard connections are not severed mid-stream.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()

	// A buffered channel decouples bus delivery from the client's write
	// speed; a slow client drops events rather than stalling the bus.
	events := make(chan *domain.Message, 64)

	subs := make([]domain.Subscription, 0, len(streamTopics))
	for _, topic := range streamTopics {
		sub, err := h.bus.Subscribe(ctx, topic, func(ctx context.Context, msg *domain.Message) error {
			select {
			case events <- msg:
			default:
			}
			return nil
		})
		if err != nil {
			slog.Error("event stream subscribe failed", "topic", topic, "error", err)
			continue
		}
		subs = append(subs, sub)
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-events:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Topic, msg.Payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
