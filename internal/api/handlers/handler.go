// handler.go — агрегирующая структура API-обработчиков и общие утилиты:
// сериализация ответов, нормализация пагинации, маппинг ошибок сервисного
// слоя в HTTP-статусы.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/bigkaa/concerthall/internal/api/errors"
	"github.com/bigkaa/concerthall/internal/archive"
	"github.com/bigkaa/concerthall/internal/service"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// APIHandler объединяет обработчики всех доменных эндпоинтов.
type APIHandler struct {
	browse    *service.BrowseService
	concerts  *service.AggregationService
	downloads *service.DownloadService
	cache     *service.CacheService
	progress  *service.ProgressHub
	logger    *slog.Logger

	// heartbeatInterval — период keep-alive комментариев SSE-потока
	heartbeatInterval time.Duration
}

// NewAPIHandler создаёт обработчик API-эндпоинтов.
func NewAPIHandler(
	browse *service.BrowseService,
	concerts *service.AggregationService,
	downloads *service.DownloadService,
	cache *service.CacheService,
	progress *service.ProgressHub,
	heartbeatInterval time.Duration,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		browse:            browse,
		concerts:          concerts,
		downloads:         downloads,
		cache:             cache,
		progress:          progress,
		heartbeatInterval: heartbeatInterval,
		logger:            logger.With(slog.String("component", "api_handler")),
	}
}

// writeJSON сериализует data в JSON и пишет ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError транслирует ошибку сервисного слоя в HTTP-ответ.
// Неклассифицированные ошибки логируются и отдаются как 500 без деталей.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound), errors.Is(err, archive.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, archive.ErrTimeout):
		apierrors.ArchiveTimeout(w, "внешний архив не ответил вовремя")
	case errors.Is(err, archive.ErrUnavailable):
		apierrors.ArchiveUnavailable(w, "внешний архив недоступен")
	default:
		h.logger.Error("Внутренняя ошибка обработки запроса",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "внутренняя ошибка сервера")
	}
}

// paginationParams извлекает и нормализует page/per_page из query-строки.
// Нечисловые и неположительные значения заменяются значениями по умолчанию,
// per_page ограничен сверху.
func paginationParams(r *http.Request) (page, perPage int) {
	page = 1
	perPage = defaultPerPage

	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("per_page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			perPage = n
		}
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}

// listResponse — стандартная обёртка списочных ответов с пагинацией.
type listResponse struct {
	Items   any `json:"items"`
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}
