// server.go — HTTP-сервер: маршрутизация chi, цепочка middleware,
// graceful shutdown по сигналам SIGINT/SIGTERM.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/concerthall/internal/api/handlers"
	"github.com/bigkaa/concerthall/internal/api/middleware"
	"github.com/bigkaa/concerthall/internal/config"
)

// Server — HTTP-сервер приложения.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт сервер с настроенной маршрутизацией.
// authMiddleware применяется ко всем маршрутам, кроме health-проб и метрик.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	api *handlers.APIHandler,
	health *handlers.HealthHandler,
	authMiddleware func(http.Handler) http.Handler,
) *Server {
	router := chi.NewRouter()

	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	router.Use(withExclusions(authMiddleware, "/health/", "/metrics"))

	router.Get("/health/live", health.GetHealthLive)
	router.Get("/health/ready", health.GetHealthReady)
	router.Get("/metrics", health.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/browse", api.GetBrowse)
		r.Get("/items/{identifier}", api.GetItem)
		r.Get("/items/{identifier}/files", api.GetItemFiles)

		r.Get("/concerts", api.GetConcerts)
		r.Get("/concerts/{concertKey}", api.GetConcert)

		r.Route("/downloads", func(r chi.Router) {
			r.Post("/", api.PostDownload)
			r.Get("/", api.GetDownloads)
			r.Get("/events", api.GetDownloadEvents)
			r.Get("/{id}", api.GetDownload)
			r.Post("/{id}/cancel", api.PostDownloadCancel)
			r.Delete("/{id}", api.DeleteDownload)
			r.Get("/{id}/file", api.GetDownloadFile)
		})

		r.Get("/cache/stats", api.GetCacheStats)
		r.Delete("/cache", api.DeleteCache)
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: httpServer,
		logger:     logger.With(slog.String("component", "server")),
		cfg:        cfg,
	}
}

// withExclusions оборачивает middleware так, что запросы к путям
// с перечисленными префиксами проходят без него. Нужен для health-проб
// и метрик: Kubernetes и Prometheus не присылают токены.
func withExclusions(mw func(http.Handler) http.Handler, excludePrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		protected := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range excludePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}
			protected.ServeHTTP(w, r)
		})
	}
}

// Run запускает сервер и блокируется до сигнала завершения
// или фатальной ошибки прослушивания. Завершение — graceful,
// с таймаутом из конфигурации.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
