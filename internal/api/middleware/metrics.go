// metrics.go — Prometheus HTTP метрики Concert Hall.
// Регистрирует метрики: ch_http_requests_total, ch_http_request_duration_seconds.
// Нормализация путей предотвращает взрывной рост кардинальности.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики Concert Hall
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ch_http_requests_total",
			Help: "Общее количество HTTP-запросов к Concert Hall",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ch_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Concert Hall в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (идентификаторы записей и заданий заменяются на плейсхолдеры)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет идентификаторы в пути на плейсхолдеры.
// /api/v1/items/gd1977-05-08/files → /api/v1/items/{identifier}/files
// /api/v1/downloads/a1b2.../cancel → /api/v1/downloads/{id}/cancel
func normalizePath(path string) string {
	// Статические пути — возвращаем как есть
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/browse", "/api/v1/concerts", "/api/v1/downloads",
		"/api/v1/downloads/events", "/api/v1/cache/stats", "/api/v1/cache":
		return path
	}

	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(segments) < 4 || segments[0] != "api" || segments[1] != "v1" {
		return path
	}

	switch segments[2] {
	case "items":
		if len(segments) == 5 && segments[4] == "files" {
			return "/api/v1/items/{identifier}/files"
		}
		if len(segments) == 4 {
			return "/api/v1/items/{identifier}"
		}
	case "concerts":
		if len(segments) == 4 {
			return "/api/v1/concerts/{concert_key}"
		}
	case "downloads":
		if len(segments) == 5 && (segments[4] == "cancel" || segments[4] == "file") {
			return "/api/v1/downloads/{id}/" + segments[4]
		}
		if len(segments) == 4 {
			return "/api/v1/downloads/{id}"
		}
	}

	return path
}
