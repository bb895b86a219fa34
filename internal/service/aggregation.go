// aggregation.go — движок агрегации: группировка записей в концерты
// по паре (канонический исполнитель, дата выступления).
//
// Инварианты:
//   - ключ концерта — чистая функция от записи, повторный ingest идемпотентен;
//   - агрегаты концерта всегда равны суммам по его записям (пересчёт в БД);
//   - смена ключа записи переносит её между концертами, опустевший концерт
//     удаляется;
//   - конкурентные ingest одного ключа сериализуются per-key мьютексом.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/concerthall/internal/domain/model"
	"github.com/bigkaa/concerthall/internal/repository"
)

// Имя исполнителя для записей без метаданных creator.
const unknownArtist = "Unknown Artist"

// Prometheus-метрики агрегации.
var (
	ingestedRecordingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ch_ingested_recordings_total",
		Help: "Количество записей, принятых движком агрегации.",
	})
	skippedRecordingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ch_skipped_recordings_total",
		Help: "Количество записей, отклонённых при агрегации (нет даты или идентификатора).",
	})
	concertMovesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ch_concert_moves_total",
		Help: "Количество переносов записей между концертами при смене ключа.",
	})
)

// IngestResult — итог одного вызова Ingest.
type IngestResult struct {
	// Ingested — количество принятых записей
	Ingested int `json:"ingested"`
	// Skipped — количество отклонённых записей (без даты или идентификатора)
	Skipped int `json:"skipped"`
	// Concerts — количество затронутых концертов
	Concerts int `json:"concerts"`
	// AffectedKeys — ключи концертов, чьи агрегаты были пересчитаны
	AffectedKeys []string `json:"affected_keys,omitempty"`
}

// keyLock — мьютекс одного ключа концерта со счётчиком ссылок.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// AggregationService — движок агрегации записей в концерты.
type AggregationService struct {
	concerts   repository.ConcertRepository
	recordings repository.RecordingRepository
	logger     *slog.Logger

	// Кэш собранных деталей концерта (с записями)
	detailCache *expirable.LRU[string, *model.Concert]

	// Per-key мьютексы: сериализация работы над одним концертом
	locksMu sync.Mutex
	locks   map[string]*keyLock
}

// NewAggregationService создаёт движок агрегации.
// detailCacheSize и detailCacheTTL управляют LRU-кэшем деталей концертов.
func NewAggregationService(
	concerts repository.ConcertRepository,
	recordings repository.RecordingRepository,
	detailCacheSize int,
	detailCacheTTL time.Duration,
	logger *slog.Logger,
) *AggregationService {
	return &AggregationService{
		concerts:    concerts,
		recordings:  recordings,
		logger:      logger.With(slog.String("component", "aggregation_service")),
		detailCache: expirable.NewLRU[string, *model.Concert](detailCacheSize, nil, detailCacheTTL),
		locks:       make(map[string]*keyLock),
	}
}

// lockKey захватывает мьютекс ключа концерта.
func (s *AggregationService) lockKey(key string) {
	s.locksMu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
}

// unlockKey освобождает мьютекс ключа и удаляет его, когда ссылок не осталось.
func (s *AggregationService) unlockKey(key string) {
	s.locksMu.Lock()
	l := s.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
	s.locksMu.Unlock()

	l.mu.Unlock()
}

// Ingest принимает пакет записей и раскладывает их по концертам.
// Записи без даты выступления или идентификатора пропускаются.
// Повторный ingest той же записи обновляет её содержимое, не создавая
// дубликата; смена ключа переносит запись в другой концерт.
func (s *AggregationService) Ingest(ctx context.Context, recs []*model.Recording) (*IngestResult, error) {
	now := time.Now()
	result := &IngestResult{}

	// Ключи, чьи агрегаты нужно пересчитать после приёма записей
	touched := make(map[string]struct{})

	for _, rec := range recs {
		if rec == nil || rec.Identifier == "" || rec.Date == nil {
			result.Skipped++
			skippedRecordingsTotal.Inc()
			continue
		}

		// Записи без исполнителя попадают в общий "Unknown Artist"
		artist := ""
		if rec.Artist != nil {
			artist = *rec.Artist
		}
		if CanonicalArtist(artist) == "" {
			artist = unknownArtist
			rec.Artist = &artist
		}

		key := ConcertKey(artist, *rec.Date)
		oldKey, err := s.ingestOne(ctx, rec, key, artist, now)
		if err != nil {
			return result, err
		}

		touched[key] = struct{}{}
		if oldKey != "" && oldKey != key {
			concertMovesTotal.Inc()
			touched[oldKey] = struct{}{}
		}
		result.Ingested++
		ingestedRecordingsTotal.Inc()
	}

	// Пересчёт агрегатов затронутых концертов
	for key := range touched {
		if err := s.recompute(ctx, key); err != nil {
			return result, err
		}
		result.AffectedKeys = append(result.AffectedKeys, key)
	}
	sort.Strings(result.AffectedKeys)
	result.Concerts = len(touched)

	return result, nil
}

// ingestOne сохраняет одну запись под per-key мьютексом.
// Возвращает прежний ключ концерта записи ("" для новой записи).
func (s *AggregationService) ingestOne(ctx context.Context, rec *model.Recording, key, artist string, now time.Time) (string, error) {
	s.lockKey(key)
	defer s.unlockKey(key)

	oldKey, err := s.recordings.GetConcertKey(ctx, rec.Identifier)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", err
	}

	// Концерт должен существовать до вставки записи (FK)
	if err := s.concerts.Upsert(ctx, key, artist, *rec.Date, now); err != nil {
		return "", err
	}

	// indexed_at новой записи — сейчас; у существующей сохраняется БД
	if rec.IndexedAt.IsZero() {
		rec.IndexedAt = now
	}
	rec.UpdatedAt = now

	if err := s.recordings.Upsert(ctx, rec, key); err != nil {
		return "", err
	}

	return oldKey, nil
}

// recompute пересчитывает агрегаты концерта по его записям.
// Опустевший концерт (все записи ушли к другим ключам) удаляется.
func (s *AggregationService) recompute(ctx context.Context, key string) error {
	s.lockKey(key)
	defer s.unlockKey(key)

	defer s.detailCache.Remove(key)

	agg, err := s.recordings.Aggregates(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Последняя запись покинула концерт
			if err := s.concerts.Delete(ctx, key); err != nil && !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			s.logger.Info("Опустевший концерт удалён", slog.String("concert_key", key))
			return nil
		}
		return err
	}

	venue, location, err := s.recordings.ResolveVenue(ctx, key)
	if err != nil {
		return err
	}

	if err := s.concerts.UpdateAggregates(ctx, key, venue, location, agg); err != nil {
		return fmt.Errorf("пересчёт концерта %s: %w", key, err)
	}
	return nil
}

// GetConcert возвращает концерт с его записями.
// Детали кэшируются в LRU с TTL; пересчёт агрегатов инвалидирует запись.
func (s *AggregationService) GetConcert(ctx context.Context, key string) (*model.Concert, error) {
	if concert, ok := s.detailCache.Get(key); ok {
		return concert, nil
	}

	concert, err := s.concerts.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	recs, err := s.recordings.ListByConcertKey(ctx, key)
	if err != nil {
		return nil, err
	}
	concert.Recordings = recs

	s.detailCache.Add(key, concert)
	return concert, nil
}

// ListConcerts возвращает страницу концертов (без записей) и общее количество.
func (s *AggregationService) ListConcerts(ctx context.Context, params repository.ConcertListParams) ([]*model.Concert, int, error) {
	return s.concerts.List(ctx, params)
}
