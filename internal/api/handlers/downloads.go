// downloads.go — обработчики заданий на скачивание файлов из архива.
// Все операции ограничены владельцем из контекста запроса.
package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/concerthall/internal/api/errors"
	"github.com/bigkaa/concerthall/internal/api/middleware"
	"github.com/bigkaa/concerthall/internal/domain/model"
	"github.com/bigkaa/concerthall/internal/repository"
)

// createDownloadRequest — тело POST /api/v1/downloads.
type createDownloadRequest struct {
	ArchiveIdentifier string `json:"archive_identifier"`
	Filename          string `json:"filename"`
}

// PostDownload — POST /api/v1/downloads.
// Создаёт задание на скачивание одного файла и сразу отвечает 202:
// скачивание выполняется в фоне, прогресс доступен через
// GET /api/v1/downloads/{id} и SSE-поток событий.
func (h *APIHandler) PostDownload(w http.ResponseWriter, r *http.Request) {
	var req createDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "некорректное тело запроса: ожидается JSON")
		return
	}

	owner := middleware.OwnerFromContext(r.Context())
	job, err := h.downloads.Create(r.Context(), owner, req.ArchiveIdentifier, req.Filename)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

// GetDownloads — GET /api/v1/downloads.
// Список заданий владельца, опционально отфильтрованный по статусу.
func (h *APIHandler) GetDownloads(w http.ResponseWriter, r *http.Request) {
	page, perPage := paginationParams(r)

	params := repository.DownloadListParams{
		OwnerID: middleware.OwnerFromContext(r.Context()),
		Limit:   perPage,
		Offset:  (page - 1) * perPage,
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := model.DownloadStatus(v)
		switch status {
		case model.StatusPending, model.StatusDownloading, model.StatusCompleted,
			model.StatusFailed, model.StatusCancelled:
			params.Status = &status
		default:
			apierrors.ValidationError(w, fmt.Sprintf("неизвестный статус задания: %q", v))
			return
		}
	}

	jobs, total, err := h.downloads.List(r.Context(), params)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		Items:   jobs,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}

// GetDownload — GET /api/v1/downloads/{id}.
// Текущее состояние задания, включая прогресс.
func (h *APIHandler) GetDownload(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	job, err := h.downloads.GetOwned(r.Context(), chi.URLParam(r, "id"), owner)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// PostDownloadCancel — POST /api/v1/downloads/{id}/cancel.
// Останавливает активное задание; частично скачанный файл удаляется.
func (h *APIHandler) PostDownloadCancel(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := h.downloads.Cancel(r.Context(), id, owner); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	job, err := h.downloads.GetOwned(r.Context(), id, owner)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// DeleteDownload — DELETE /api/v1/downloads/{id}.
// Удаляет терминальное задание вместе со скачанным файлом.
func (h *APIHandler) DeleteDownload(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	if err := h.downloads.Delete(r.Context(), chi.URLParam(r, "id"), owner); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetDownloadFile — GET /api/v1/downloads/{id}/file.
// Отдаёт содержимое завершённого скачивания как attachment.
func (h *APIHandler) GetDownloadFile(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())

	file, job, err := h.downloads.OpenFile(r.Context(), chi.URLParam(r, "id"), owner)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(job.Filename)))
	if info, err := file.Stat(); err == nil {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	}

	if _, err := io.Copy(w, file); err != nil {
		// Ответ уже начат — остаётся только залогировать обрыв
		h.logger.Warn("Обрыв отдачи скачанного файла",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}
