// browse.go — обработчики просмотра внешнего архива:
// поиск записей, метаданные записи, листинг файлов.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/concerthall/internal/api/errors"
	"github.com/bigkaa/concerthall/internal/archive"
	"github.com/bigkaa/concerthall/internal/service"
)

// GetBrowse — GET /api/v1/browse.
// Поиск концертных записей во внешнем архиве с фильтрами, сортировкой
// и пагинацией. Параметр expand=true догружает полные метаданные
// (включая треки) для каждой записи страницы.
func (h *APIHandler) GetBrowse(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, perPage := paginationParams(r)

	params := service.BrowseParams{
		Query:     q.Get("query"),
		Artist:    q.Get("artist"),
		Venue:     q.Get("venue"),
		SortBy:    q.Get("sort"),
		SortOrder: q.Get("order"),
		Page:      page,
		PerPage:   perPage,
		Expand:    q.Get("expand") == "true",
	}

	var err error
	if params.DateFrom, err = parseDateParam(q.Get("date_from")); err != nil {
		apierrors.ValidationError(w, "параметр date_from должен иметь формат YYYY-MM-DD")
		return
	}
	if params.DateTo, err = parseDateParam(q.Get("date_to")); err != nil {
		apierrors.ValidationError(w, "параметр date_to должен иметь формат YYYY-MM-DD")
		return
	}
	if params.DateFrom != nil && params.DateTo != nil && params.DateTo.Before(*params.DateFrom) {
		apierrors.ValidationError(w, "date_to раньше date_from")
		return
	}

	result, err := h.browse.Search(r.Context(), params)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetItem — GET /api/v1/items/{identifier}.
// Полные метаданные одной записи архива, включая список треков.
func (h *APIHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")

	rec, err := h.browse.GetItem(r.Context(), identifier)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// GetItemFiles — GET /api/v1/items/{identifier}/files.
// Листинг всех файлов записи с категорией каждого файла
// и сводкой по категориям.
func (h *APIHandler) GetItemFiles(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")

	files, err := h.browse.ListFiles(r.Context(), identifier)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	var totalSize int64
	counts := make(map[string]int)
	for i := range files {
		totalSize += files[i].Size.Int64()
		counts[files[i].Category]++
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"identifier":     identifier,
		"files":          files,
		"count":          len(files),
		"total_size":     totalSize,
		"audio_count":    counts[archive.CategoryAudio],
		"image_count":    counts[archive.CategoryImage],
		"metadata_count": counts[archive.CategoryMetadata],
		"other_count":    counts[archive.CategoryOther],
	})
}

// parseDateParam разбирает необязательный параметр даты формата YYYY-MM-DD.
func parseDateParam(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
