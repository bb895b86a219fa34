// cache.go — служебные обработчики кэша: статистика и инвалидация.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/concerthall/internal/api/errors"
	"github.com/bigkaa/concerthall/internal/domain/model"
)

// GetCacheStats — GET /api/v1/cache/stats.
// Снимок состояния кэша: записи, объём, hit rate с момента старта процесса.
func (h *APIHandler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// deleteCacheResponse — ответ DELETE /api/v1/cache.
type deleteCacheResponse struct {
	Invalidated int64 `json:"invalidated"`
}

// DeleteCache — DELETE /api/v1/cache.
// Инвалидация по виду записей (?kind=search|metadata|directory),
// по префиксу ключа (?prefix=...) или полная очистка без параметров.
func (h *APIHandler) DeleteCache(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		removed int64
		err     error
	)
	switch {
	case q.Get("kind") != "":
		kind := model.CacheKind(q.Get("kind"))
		switch kind {
		case model.CacheKindSearch, model.CacheKindItemMetadata, model.CacheKindDirectory:
			removed, err = h.cache.InvalidateKind(r.Context(), kind)
		default:
			apierrors.ValidationError(w, "неизвестный вид записей кэша")
			return
		}
	case q.Get("prefix") != "":
		removed, err = h.cache.Invalidate(r.Context(), q.Get("prefix"))
	default:
		removed, err = h.cache.Invalidate(r.Context(), "")
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, deleteCacheResponse{Invalidated: removed})
}
