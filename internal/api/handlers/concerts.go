// concerts.go — обработчики локального индекса концертов.
package handlers

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/concerthall/internal/api/errors"
	"github.com/bigkaa/concerthall/internal/repository"
	"github.com/bigkaa/concerthall/internal/service"
)

// GetConcerts — GET /api/v1/concerts.
// Страница концертов из локального индекса с фильтрами и сортировкой.
// Записи-участники в списочном ответе не раскрываются.
func (h *APIHandler) GetConcerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, perPage := paginationParams(r)

	params := repository.ConcertListParams{
		SortBy:        q.Get("sort"),
		SortOrder:     q.Get("order"),
		ByIndexedDate: q.Get("by") == "indexed",
		Limit:         perPage,
		Offset:        (page - 1) * perPage,
	}
	if v := q.Get("query"); v != "" {
		params.Query = &v
	}
	if v := q.Get("artist"); v != "" {
		params.Artist = &v
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

	concerts, total, err := h.concerts.ListConcerts(r.Context(), params)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		Items:   concerts,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}

// GetConcert — GET /api/v1/concerts/{concertKey}.
// Детальный ответ: концерт вместе со всеми записями-участниками.
// Ключ в URL закодирован (разделитель "|" — %7C).
func (h *APIHandler) GetConcert(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "concertKey")
	key, err := url.PathUnescape(raw)
	if err != nil {
		apierrors.ValidationError(w, "некорректная кодировка ключа концерта")
		return
	}

	if _, _, err := service.ParseConcertKey(key); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	concert, err := h.concerts.GetConcert(r.Context(), key)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, concert)
}
