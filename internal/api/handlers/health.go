// health.go — обработчики health-проб и метрик Prometheus.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/concerthall/internal/config"
)

const (
	serviceName = "concert-backend"

	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// ReadinessChecker — проверка готовности внешней зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и человекочитаемое сообщение.
	CheckReady() (status string, message string)
}

// HealthHandler обслуживает /health/live, /health/ready и /metrics.
type HealthHandler struct {
	pgChecker   ReadinessChecker
	promHandler http.Handler
	logger      *slog.Logger
}

// NewHealthHandler создаёт обработчик health-проб.
// pgChecker может быть nil — тогда проверка PostgreSQL пропускается.
func NewHealthHandler(pgChecker ReadinessChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		pgChecker:   pgChecker,
		promHandler: promhttp.Handler(),
		logger:      logger.With(slog.String("component", "health")),
	}
}

// healthLiveResponse — ответ liveness-пробы.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse — ответ readiness-пробы с деталями по зависимостям.
type healthReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version"`
	Service   string            `json:"service"`
	Checks    healthReadyChecks `json:"checks"`
}

type healthReadyChecks struct {
	PostgreSQL *checkResult `json:"postgresql,omitempty"`
}

type checkResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// GetHealthLive — liveness-проба. Процесс жив — отвечаем 200.
func (h *HealthHandler) GetHealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	})
}

// GetHealthReady — readiness-проба. Проверяет доступность PostgreSQL.
// При статусе fail отвечает 503, иначе 200.
func (h *HealthHandler) GetHealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	}

	if h.pgChecker != nil {
		status, message := h.pgChecker.CheckReady()
		resp.Checks.PostgreSQL = &checkResult{Status: status, Message: message}
		resp.Status = overallStatus(resp.Status, status)
	}

	code := http.StatusOK
	if resp.Status == statusFail {
		code = http.StatusServiceUnavailable
		h.logger.Warn("readiness-проба провалена", slog.Any("checks", resp.Checks))
	}
	writeJSON(w, code, resp)
}

// GetMetrics отдаёт метрики Prometheus.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// overallStatus объединяет статусы проверок: fail > degraded > ok.
func overallStatus(current, next string) string {
	if current == statusFail || next == statusFail {
		return statusFail
	}
	if current == statusDegraded || next == statusDegraded {
		return statusDegraded
	}
	return statusOK
}
