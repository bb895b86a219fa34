// events.go — SSE-поток событий прогресса скачиваний владельца.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bigkaa/concerthall/internal/api/middleware"
	"github.com/bigkaa/concerthall/internal/service"
)

const defaultHeartbeatInterval = 15 * time.Second

// GetDownloadEvents — GET /api/v1/downloads/events.
// Поток Server-Sent Events с прогрессом всех активных скачиваний владельца.
// Каждое событие — "event: progress" с JSON-снимком состояния задания.
// Периодические комментарии-heartbeat не дают прокси закрыть соединение.
func (h *APIHandler) GetDownloadEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// Поток живёт дольше WriteTimeout сервера
	_ = rc.SetWriteDeadline(time.Time{})

	owner := middleware.OwnerFromContext(r.Context())
	events, unsubscribe := h.progress.Subscribe(owner)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		// Writer не поддерживает стриминг — SSE невозможен
		h.logger.Error("ResponseWriter не поддерживает Flush, SSE недоступен",
			slog.String("error", err.Error()),
		)
		return
	}

	interval := h.heartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	heartbeat := time.NewTicker(interval)
	defer heartbeat.Stop()

	h.logger.Debug("SSE-подписка открыта", slog.String("owner_id", owner))

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("SSE-подписка закрыта клиентом", slog.String("owner_id", owner))
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, rc, event); err != nil {
				h.logger.Debug("Обрыв SSE-потока",
					slog.String("owner_id", owner),
					slog.String("error", err.Error()),
				)
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// writeSSEEvent сериализует событие прогресса в формат SSE и сбрасывает буфер.
func writeSSEEvent(w http.ResponseWriter, rc *http.ResponseController, event service.ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: progress\ndata: %s\n\n", payload); err != nil {
		return err
	}
	return rc.Flush()
}
