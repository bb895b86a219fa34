// Пакет database — подключение к PostgreSQL через pgxpool,
// применение миграций (golang-migrate) и проверка готовности.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/concerthall/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	// connectAttempts — попытки подключения при старте.
	// Бэкенд обычно поднимается одновременно с PostgreSQL.
	connectAttempts = 5
	// connectRetryDelay — пауза между попытками.
	connectRetryDelay = 2 * time.Second

	// readyPingTimeout — таймаут ping в readiness-пробе.
	readyPingTimeout = 3 * time.Second
	// readySlowThreshold — порог деградации: ping дольше — статус degraded.
	readySlowThreshold = 500 * time.Millisecond
)

// Connect создаёт пул подключений к PostgreSQL с ретраями на старте.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
		}

		pingErr := pool.Ping(ctx)
		if pingErr == nil {
			logger.Info("Подключение к PostgreSQL установлено",
				slog.String("host", cfg.DBHost),
				slog.Int("port", cfg.DBPort),
				slog.String("database", cfg.DBName),
				slog.Int("attempt", attempt),
			)
			return pool, nil
		}
		lastErr = pingErr
		pool.Close()

		logger.Warn("PostgreSQL недоступен, повтор",
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("подключение к PostgreSQL прервано: %w", ctx.Err())
		case <-time.After(connectRetryDelay):
		}
	}

	return nil, fmt.Errorf("ошибка подключения к PostgreSQL после %d попыток: %w",
		connectAttempts, lastErr)
}

// Migrate применяет SQL-миграции из embedded FS.
// Схема: cache_entries, recordings, concerts, download_jobs.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	// Формат URL golang-migrate для драйвера pgx5
	dbURL := fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.DBSSLMode,
	)

	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("Миграции применены",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)

	return nil
}

// ReadinessChecker — проверка готовности PostgreSQL для health endpoint.
// Реализует интерфейс handlers.ReadinessChecker.
type ReadinessChecker struct {
	pool *pgxpool.Pool
}

// NewReadinessChecker создаёт проверку готовности PostgreSQL.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool}
}

// CheckReady пингует PostgreSQL и оценивает латентность.
// Возвращает "ok", "degraded" (медленный ping) или "fail".
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), readyPingTimeout)
	defer cancel()

	start := time.Now()
	if err := c.pool.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed > readySlowThreshold {
		return "degraded", fmt.Sprintf("медленный отклик PostgreSQL: %s", elapsed.Round(time.Millisecond))
	}
	return "ok", "подключение активно"
}
