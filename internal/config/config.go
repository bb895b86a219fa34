// Пакет config — загрузка и валидация конфигурации Concert Hall
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Concert Hall.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера. 0 — без ограничения:
	// стриминг файлов и SSE живут дольше любого разумного таймаута.
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration

	// --- Внешний архив ---

	// Базовый URL внешнего архива
	ArchiveBaseURL string
	// Коллекция живых записей для поиска
	ArchiveCollection string
	// Коллекция, исключаемая из поиска (стрим-онли записи недоступны для скачивания)
	ArchiveExcludeCollection string
	// Таймаут запросов к архиву
	ArchiveTimeout time.Duration

	// --- Кэш ---

	// TTL кэша результатов поиска
	CacheSearchTTL time.Duration
	// TTL кэша метаданных записей
	CacheMetadataTTL time.Duration
	// TTL кэша списков файлов
	CacheDirectoryTTL time.Duration
	// Интервал фоновой уборки истёкших записей кэша
	CacheCleanupInterval time.Duration

	// --- Агрегация ---

	// Размер LRU-кэша деталей концертов
	ConcertCacheSize int
	// TTL LRU-кэша деталей концертов
	ConcertCacheTTL time.Duration

	// --- Скачивание ---

	// Каталог для скачанных файлов
	DownloadsDir string
	// Интервал heartbeat для SSE-потока прогресса
	SSEHeartbeatInterval time.Duration

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Пользователь PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- JWT ---

	// Включена ли проверка JWT (без неё владелец берётся из заголовка)
	AuthEnabled bool
	// URL JWKS endpoint провайдера идентификации
	JWTJWKSURL string
	// Ожидаемый issuer JWT
	JWTIssuer string

	// --- Topologymetrics ---

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
//
//nolint:cyclop,funlen // линейная последовательность чтения переменных
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// CH_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("CH_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("CH_PORT: %w", err)
	}

	// CH_LOG_LEVEL — уровень логирования (по умолчанию info)
	logLevel := getEnvDefault("CH_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("CH_LOG_LEVEL: %w", err)
	}

	// CH_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("CH_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CH_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	// CH_HTTP_READ_TIMEOUT — таймаут чтения (по умолчанию 30s)
	cfg.HTTPReadTimeout, err = getEnvDuration("CH_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CH_HTTP_READ_TIMEOUT: %w", err)
	}

	// CH_HTTP_WRITE_TIMEOUT — таймаут записи (по умолчанию 0 — отключён:
	// скачивание больших файлов и SSE несовместимы с фиксированным таймаутом)
	cfg.HTTPWriteTimeout, err = getEnvDuration("CH_HTTP_WRITE_TIMEOUT", 0)
	if err != nil {
		return nil, fmt.Errorf("CH_HTTP_WRITE_TIMEOUT: %w", err)
	}

	// CH_HTTP_IDLE_TIMEOUT — таймаут простоя (по умолчанию 120s)
	cfg.HTTPIdleTimeout, err = getEnvDuration("CH_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CH_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Graceful shutdown ---

	// CH_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("CH_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CH_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Внешний архив ---

	// CH_ARCHIVE_BASE_URL — базовый URL архива (по умолчанию https://archive.org)
	cfg.ArchiveBaseURL = getEnvDefault("CH_ARCHIVE_BASE_URL", "https://archive.org")

	// CH_ARCHIVE_COLLECTION — коллекция живых записей (по умолчанию etree)
	cfg.ArchiveCollection = getEnvDefault("CH_ARCHIVE_COLLECTION", "etree")

	// CH_ARCHIVE_EXCLUDE_COLLECTION — исключаемая коллекция (по умолчанию stream_only)
	cfg.ArchiveExcludeCollection = getEnvDefault("CH_ARCHIVE_EXCLUDE_COLLECTION", "stream_only")

	// CH_ARCHIVE_TIMEOUT — таймаут запросов к архиву (по умолчанию 30s)
	cfg.ArchiveTimeout, err = getEnvDuration("CH_ARCHIVE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CH_ARCHIVE_TIMEOUT: %w", err)
	}

	// --- Кэш ---

	// CH_CACHE_TTL_SEARCH — TTL результатов поиска (по умолчанию 30m)
	cfg.CacheSearchTTL, err = getEnvDuration("CH_CACHE_TTL_SEARCH", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CH_CACHE_TTL_SEARCH: %w", err)
	}

	// CH_CACHE_TTL_METADATA — TTL метаданных записей (по умолчанию 60m)
	cfg.CacheMetadataTTL, err = getEnvDuration("CH_CACHE_TTL_METADATA", 60*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CH_CACHE_TTL_METADATA: %w", err)
	}

	// CH_CACHE_TTL_DIRECTORY — TTL списков файлов (по умолчанию 120m)
	cfg.CacheDirectoryTTL, err = getEnvDuration("CH_CACHE_TTL_DIRECTORY", 120*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CH_CACHE_TTL_DIRECTORY: %w", err)
	}

	// CH_CACHE_CLEANUP_INTERVAL — интервал уборки истёкших записей (по умолчанию 10m)
	cfg.CacheCleanupInterval, err = getEnvDuration("CH_CACHE_CLEANUP_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CH_CACHE_CLEANUP_INTERVAL: %w", err)
	}

	// --- Агрегация ---

	// CH_CONCERT_CACHE_SIZE — размер LRU-кэша деталей концертов (по умолчанию 256)
	cfg.ConcertCacheSize, err = getEnvInt("CH_CONCERT_CACHE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("CH_CONCERT_CACHE_SIZE: %w", err)
	}
	if cfg.ConcertCacheSize <= 0 {
		return nil, fmt.Errorf("CH_CONCERT_CACHE_SIZE: значение должно быть > 0")
	}

	// CH_CONCERT_CACHE_TTL — TTL LRU-кэша деталей концертов (по умолчанию 5m)
	cfg.ConcertCacheTTL, err = getEnvDuration("CH_CONCERT_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CH_CONCERT_CACHE_TTL: %w", err)
	}

	// --- Скачивание ---

	// CH_DOWNLOADS_DIR — каталог скачанных файлов (по умолчанию ./downloads)
	cfg.DownloadsDir = getEnvDefault("CH_DOWNLOADS_DIR", "downloads")

	// CH_SSE_HEARTBEAT_INTERVAL — интервал heartbeat SSE (по умолчанию 15s)
	cfg.SSEHeartbeatInterval, err = getEnvDuration("CH_SSE_HEARTBEAT_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CH_SSE_HEARTBEAT_INTERVAL: %w", err)
	}

	// --- PostgreSQL ---

	// CH_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("CH_DB_HOST")
	if err != nil {
		return nil, err
	}

	// CH_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("CH_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("CH_DB_PORT: %w", err)
	}

	// CH_DB_NAME — имя базы (по умолчанию concerthall)
	cfg.DBName = getEnvDefault("CH_DB_NAME", "concerthall")

	// CH_DB_USER — пользователь (по умолчанию concerthall)
	cfg.DBUser = getEnvDefault("CH_DB_USER", "concerthall")

	// CH_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("CH_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// CH_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("CH_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("CH_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- JWT ---

	// CH_AUTH_ENABLED — проверка JWT (по умолчанию false)
	cfg.AuthEnabled, err = getEnvBool("CH_AUTH_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("CH_AUTH_ENABLED: %w", err)
	}

	if cfg.AuthEnabled {
		// CH_JWT_JWKS_URL — обязательный при включённой проверке
		cfg.JWTJWKSURL, err = getEnvRequired("CH_JWT_JWKS_URL")
		if err != nil {
			return nil, err
		}

		// CH_JWT_ISSUER — ожидаемый issuer (пустой — не проверяется)
		cfg.JWTIssuer = getEnvDefault("CH_JWT_ISSUER", "")
	}

	// --- Topologymetrics ---

	// CH_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("CH_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CH_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
