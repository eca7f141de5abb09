package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"go.uber.org/zap"
)

const DefaultKeepAlive = 15 * time.Second

const pingFrame = "event: ping\ndata: {}\n\n"

type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan domain.Summary, error)
}

// StreamHandler отдает live-сводки событий через Server-Sent Events.
// Каждое подключение получает собственную подписку на шину.
type StreamHandler struct {
	bus       Subscriber
	keepAlive time.Duration
	logger    *zap.Logger
}

func NewStreamHandler(bus Subscriber, keepAlive time.Duration, logger *zap.Logger) *StreamHandler {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &StreamHandler{bus: bus, keepAlive: keepAlive, logger: logger}
}

// GET /events/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	ch, err := h.bus.Subscribe(ctx)
	if err != nil {
		h.logger.Warn("live stream subscribe failed", zap.Error(err))
		http.Error(w, "live stream unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// первый ping, чтобы клиент сразу увидел открытый поток
	if _, err := fmt.Fprint(w, pingFrame); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(s)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, pingFrame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
