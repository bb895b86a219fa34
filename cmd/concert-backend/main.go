// main.go — точка входа Concert Backend.
// Собирает все слои: конфигурация, логгер, миграции и подключение к
// PostgreSQL, репозитории, сервисы, auth middleware, HTTP-сервер.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/concerthall/internal/api/handlers"
	"github.com/bigkaa/concerthall/internal/api/middleware"
	"github.com/bigkaa/concerthall/internal/archive"
	"github.com/bigkaa/concerthall/internal/config"
	"github.com/bigkaa/concerthall/internal/database"
	"github.com/bigkaa/concerthall/internal/repository"
	"github.com/bigkaa/concerthall/internal/server"
	"github.com/bigkaa/concerthall/internal/service"
	"github.com/bigkaa/concerthall/internal/storage/filestore"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// 2. Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Concert Backend запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	ctx := context.Background()

	// 3. Миграции и подключение к PostgreSQL
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		log.Fatalf("Ошибка миграций БД: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к БД", slog.String("error", err.Error()))
		log.Fatalf("Ошибка подключения к БД: %v", err)
	}
	defer pool.Close()

	// 4. Репозитории
	cacheRepo := repository.NewCacheRepository(pool)
	concertRepo := repository.NewConcertRepository(pool)
	recordingRepo := repository.NewRecordingRepository(pool)
	downloadRepo := repository.NewDownloadRepository(pool)

	// 5. Клиент внешнего архива
	archiveClient := archive.New(cfg.ArchiveBaseURL, cfg.ArchiveTimeout, logger)

	// 6. Сервисы
	cacheService := service.NewCacheService(
		cacheRepo,
		cfg.CacheSearchTTL, cfg.CacheMetadataTTL, cfg.CacheDirectoryTTL,
		cfg.CacheCleanupInterval,
		logger,
	)
	cacheService.Start(ctx)
	defer cacheService.Stop()

	aggService := service.NewAggregationService(
		concertRepo, recordingRepo,
		cfg.ConcertCacheSize, cfg.ConcertCacheTTL,
		logger,
	)

	browseService := service.NewBrowseService(
		archiveClient, cacheService, aggService,
		cfg.ArchiveCollection, cfg.ArchiveExcludeCollection,
		logger,
	)

	store, err := filestore.New(cfg.DownloadsDir)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища скачиваний", slog.String("error", err.Error()))
		log.Fatalf("Ошибка инициализации хранилища скачиваний: %v", err)
	}

	progressHub := service.NewProgressHub()
	downloadService := service.NewDownloadService(
		downloadRepo, browseService, archiveClient, store, progressHub, logger,
	)
	defer downloadService.Stop()

	// 7. Мониторинг зависимостей (topologymetrics)
	sqlDB := stdlib.OpenDBFromPool(pool)
	dephealthService, err := service.NewDephealthService(
		"concert-backend", "concerthall",
		sqlDB, cfg.DatabaseDSN(), cfg.ArchiveBaseURL,
		cfg.DephealthCheckInterval,
		true,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка инициализации dephealth", slog.String("error", err.Error()))
		log.Fatalf("Ошибка инициализации dephealth: %v", err)
	}
	if err := dephealthService.Start(ctx); err != nil {
		logger.Error("Ошибка запуска dephealth", slog.String("error", err.Error()))
		log.Fatalf("Ошибка запуска dephealth: %v", err)
	}
	defer dephealthService.Stop()

	// 8. Auth middleware: JWT через JWKS либо заголовок X-Owner-Id
	var authMiddleware func(http.Handler) http.Handler
	if cfg.AuthEnabled {
		jwtAuth, err := middleware.NewJWTAuth(cfg.JWTJWKSURL, cfg.JWTIssuer, logger)
		if err != nil {
			logger.Error("Ошибка инициализации JWT auth", slog.String("error", err.Error()))
			log.Fatalf("Ошибка инициализации JWT auth: %v", err)
		}
		authMiddleware = jwtAuth.Middleware()
		logger.Info("Аутентификация JWT включена", slog.String("jwks_url", cfg.JWTJWKSURL))
	} else {
		authMiddleware = middleware.HeaderAuth()
		logger.Warn("Аутентификация отключена: владелец берётся из заголовка X-Owner-Id")
	}

	// 9. HTTP-обработчики
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), logger)
	apiHandler := handlers.NewAPIHandler(
		browseService, aggService, downloadService, cacheService, progressHub,
		cfg.SSEHeartbeatInterval,
		logger,
	)

	// 10. Запуск сервера (блокирующий вызов с graceful shutdown)
	srv := server.New(cfg, logger, apiHandler, healthHandler, authMiddleware)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		log.Fatalf("Сервер завершился с ошибкой: %v", err)
	}

	logger.Info("Concert Backend остановлен")
}
