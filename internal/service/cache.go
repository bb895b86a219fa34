// cache.go — кэш ответов внешнего архива с TTL per-entry.
// Хранится в PostgreSQL (таблица cache_entries): кэш переживает рестарты
// и разделяется между экземплярами. Ошибки кэша не фатальны — сервис
// продолжает работу напрямую с архивом (fail-open).
package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/concerthall/internal/domain/model"
	"github.com/bigkaa/concerthall/internal/repository"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ch_cache_hits_total",
		Help: "Общее количество попаданий в кэш архивных ответов (по виду записи).",
	}, []string{"kind"})
	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ch_cache_misses_total",
		Help: "Общее количество промахов кэша архивных ответов (по виду записи).",
	}, []string{"kind"})
	cacheErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ch_cache_errors_total",
		Help: "Количество ошибок кэша, обработанных в режиме fail-open.",
	})
)

// CacheStats — статистика кэша для API.
type CacheStats struct {
	// EntryCount — количество живых записей
	EntryCount int64 `json:"entry_count"`
	// ExpiredCount — количество истёкших, но не убранных записей
	ExpiredCount int64 `json:"expired_count"`
	// BytesStored — суммарный размер живых записей
	BytesStored int64 `json:"bytes_stored"`
	// Hits — попадания с момента старта процесса
	Hits int64 `json:"hits"`
	// Misses — промахи с момента старта процесса
	Misses int64 `json:"misses"`
	// HitRate — доля попаданий (0 при отсутствии обращений)
	HitRate float64 `json:"hit_rate"`
}

// CacheService — кэш ответов внешнего архива с TTL на запись.
// TTL выбирается по виду записи: поиск, метаданные, списки файлов.
type CacheService struct {
	repo   repository.CacheRepository
	ttls   map[model.CacheKind]time.Duration
	logger *slog.Logger

	// Счётчики текущего процесса для /cache/stats
	hits   atomic.Int64
	misses atomic.Int64

	// Фоновая уборка истёкших записей
	cleanupInterval time.Duration
	cancel          context.CancelFunc
	done            chan struct{}
}

// NewCacheService создаёт кэш с TTL по видам записей.
func NewCacheService(
	repo repository.CacheRepository,
	searchTTL, metadataTTL, directoryTTL, cleanupInterval time.Duration,
	logger *slog.Logger,
) *CacheService {
	return &CacheService{
		repo: repo,
		ttls: map[model.CacheKind]time.Duration{
			model.CacheKindSearch:       searchTTL,
			model.CacheKindItemMetadata: metadataTTL,
			model.CacheKindDirectory:    directoryTTL,
		},
		logger:          logger.With(slog.String("component", "cache_service")),
		cleanupInterval: cleanupInterval,
	}
}

// BuildKey строит ключ кэша: вид записи + sha256 от частей запроса.
// Префикс вида позволяет инвалидировать целый класс записей одним вызовом.
func BuildKey(kind model.CacheKind, parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return fmt.Sprintf("%s:%x", kind, h)
}

// Get возвращает payload из кэша по ключу.
// Возвращает (payload, true) при hit или (nil, false) при miss.
// Ошибка хранилища трактуется как промах (fail-open).
func (c *CacheService) Get(ctx context.Context, kind model.CacheKind, key string) ([]byte, bool) {
	entry, err := c.repo.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			cacheErrorsTotal.Inc()
			c.logger.Warn("Кэш недоступен, запрос уйдёт в архив",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		cacheMissesTotal.WithLabelValues(string(kind)).Inc()
		c.misses.Add(1)
		return nil, false
	}

	cacheHitsTotal.WithLabelValues(string(kind)).Inc()
	c.hits.Add(1)
	return entry.Payload, true
}

// Put сохраняет payload в кэш с TTL, соответствующим виду записи.
// Ошибка записи логируется и не возвращается (fail-open).
func (c *CacheService) Put(ctx context.Context, kind model.CacheKind, key string, payload []byte) {
	ttl, ok := c.ttls[kind]
	if !ok || ttl <= 0 {
		return
	}

	now := time.Now()
	entry := &model.CacheEntry{
		Key:       key,
		Payload:   payload,
		Kind:      kind,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := c.repo.Put(ctx, entry); err != nil {
		cacheErrorsTotal.Inc()
		c.logger.Warn("Не удалось сохранить запись в кэш",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Invalidate удаляет записи по точному ключу или префиксу.
// Пустая строка очищает весь кэш.
func (c *CacheService) Invalidate(ctx context.Context, keyOrPrefix string) (int64, error) {
	removed, err := c.repo.Invalidate(ctx, keyOrPrefix)
	if err != nil {
		return 0, fmt.Errorf("инвалидация кэша: %w", err)
	}
	c.logger.Info("Кэш инвалидирован",
		slog.String("prefix", keyOrPrefix),
		slog.Int64("removed", removed),
	)
	return removed, nil
}

// InvalidateKind удаляет все записи указанного вида.
func (c *CacheService) InvalidateKind(ctx context.Context, kind model.CacheKind) (int64, error) {
	return c.Invalidate(ctx, string(kind)+":")
}

// Stats возвращает статистику кэша: данные из БД + счётчики процесса.
func (c *CacheService) Stats(ctx context.Context) (*CacheStats, error) {
	repoStats, err := c.repo.Stats(ctx, time.Now())
	if err != nil {
		return nil, fmt.Errorf("статистика кэша: %w", err)
	}

	hits := c.hits.Load()
	misses := c.misses.Load()
	stats := &CacheStats{
		EntryCount:   repoStats.EntryCount,
		ExpiredCount: repoStats.ExpiredCount,
		BytesStored:  repoStats.BytesStored,
		Hits:         hits,
		Misses:       misses,
	}
	if hits+misses > 0 {
		stats.HitRate = float64(hits) / float64(hits+misses)
	}
	return stats, nil
}

// Start запускает фоновую уборку истёкших записей.
func (c *CacheService) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.cleanupLoop(ctx)
	c.logger.Info("Фоновая уборка кэша запущена",
		slog.Duration("interval", c.cleanupInterval),
	)
}

// Stop останавливает фоновую уборку и дожидается завершения горутины.
func (c *CacheService) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.logger.Info("Фоновая уборка кэша остановлена")
}

// cleanupLoop периодически удаляет истёкшие записи.
func (c *CacheService) cleanupLoop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := c.repo.DeleteExpired(ctx, time.Now())
			if err != nil {
				c.logger.Warn("Ошибка уборки истёкших записей кэша",
					slog.String("error", err.Error()),
				)
				continue
			}
			if removed > 0 {
				c.logger.Debug("Истёкшие записи кэша удалены",
					slog.Int64("removed", removed),
				)
			}
		}
	}
}
