// browse.go — просмотр внешнего архива: поиск, метаданные, листинг файлов.
// Все операции read-through через кэш; свежие результаты поиска и метаданные
// скармливаются движку агрегации.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/concerthall/internal/archive"
	"github.com/bigkaa/concerthall/internal/domain/model"
)

// metadataFetchConcurrency — параллелизм догрузки метаданных при expand.
const metadataFetchConcurrency = 5

// BrowseParams — параметры поиска по архиву.
type BrowseParams struct {
	// Query — свободный текстовый запрос
	Query string
	// Artist — фильтр по исполнителю
	Artist string
	// Venue — фильтр по площадке
	Venue string
	// DateFrom, DateTo — диапазон дат выступления
	DateFrom *time.Time
	DateTo   *time.Time
	// SortBy — date, addeddate, title, relevance
	SortBy string
	// SortOrder — asc, desc
	SortOrder string
	// Page — номер страницы (с 1)
	Page int
	// PerPage — размер страницы
	PerPage int
	// Expand — догрузить полные метаданные (треки) для каждой записи
	Expand bool
}

// BrowseResult — страница результатов поиска по архиву.
type BrowseResult struct {
	// Recordings — найденные записи
	Recordings []*model.Recording `json:"recordings"`
	// Total — общее количество совпадений в архиве
	Total int `json:"total"`
	// Page, PerPage — эхо пагинации
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// BrowseService — просмотр внешнего архива с кэшированием и агрегацией.
type BrowseService struct {
	archive           *archive.Client
	cache             *CacheService
	agg               *AggregationService
	collection        string
	excludeCollection string
	logger            *slog.Logger
}

// NewBrowseService создаёт сервис просмотра архива.
func NewBrowseService(
	archiveClient *archive.Client,
	cache *CacheService,
	agg *AggregationService,
	collection, excludeCollection string,
	logger *slog.Logger,
) *BrowseService {
	return &BrowseService{
		archive:           archiveClient,
		cache:             cache,
		agg:               agg,
		collection:        collection,
		excludeCollection: excludeCollection,
		logger:            logger.With(slog.String("component", "browse_service")),
	}
}

// Search ищет записи в архиве (read-through через кэш).
// Свежие результаты (cache miss) скармливаются движку агрегации;
// при Expand для каждой записи догружаются полные метаданные.
func (b *BrowseService) Search(ctx context.Context, params BrowseParams) (*BrowseResult, error) {
	searchParams := archive.SearchParams{
		Query:             params.Query,
		Collection:        b.collection,
		ExcludeCollection: b.excludeCollection,
		Artist:            params.Artist,
		Venue:             params.Venue,
		DateFrom:          params.DateFrom,
		DateTo:            params.DateTo,
		SortBy:            params.SortBy,
		SortOrder:         params.SortOrder,
		Page:              params.Page,
		PerPage:           params.PerPage,
	}

	key := searchCacheKey(searchParams)

	var result archive.SearchResult
	fresh := false
	if payload, ok := b.cache.Get(ctx, model.CacheKindSearch, key); ok {
		if err := json.Unmarshal(payload, &result); err != nil {
			// Повреждённая запись кэша — запрос в архив
			b.logger.Warn("Повреждённая запись кэша поиска", slog.String("key", key))
			fresh = true
		}
	} else {
		fresh = true
	}

	if fresh {
		res, err := b.archive.Search(ctx, searchParams)
		if err != nil {
			return nil, err
		}
		result = *res

		if payload, err := json.Marshal(result); err == nil {
			b.cache.Put(ctx, model.CacheKindSearch, key, payload)
		}
	}

	recordings := make([]*model.Recording, 0, len(result.Docs))
	for _, doc := range result.Docs {
		recordings = append(recordings, docToRecording(doc))
	}

	// Expand: параллельная догрузка полных метаданных каждой записи
	if params.Expand {
		if err := b.expandRecordings(ctx, recordings); err != nil {
			return nil, err
		}
	}

	// Свежие результаты пополняют локальный индекс концертов
	if fresh {
		if _, err := b.agg.Ingest(ctx, recordings); err != nil {
			// Агрегация не ломает просмотр: архивные данные уже получены
			b.logger.Error("Ошибка агрегации результатов поиска",
				slog.String("error", err.Error()),
			)
		}
	}

	return &BrowseResult{
		Recordings: recordings,
		Total:      result.Total,
		Page:       params.Page,
		PerPage:    params.PerPage,
	}, nil
}

// expandRecordings догружает полные метаданные записей с ограниченным
// параллелизмом. Записи, пропавшие из архива, остаются в краткой форме.
func (b *BrowseService) expandRecordings(ctx context.Context, recordings []*model.Recording) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(metadataFetchConcurrency)

	for i := range recordings {
		g.Go(func() error {
			full, err := b.GetItem(ctx, recordings[i].Identifier)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return nil
				}
				return err
			}
			// Счётчик скачиваний есть только в документе поиска
			full.Downloads = recordings[i].Downloads
			recordings[i] = full
			return nil
		})
	}

	return g.Wait()
}

// GetItem возвращает запись с полными метаданными и треками
// (read-through через кэш метаданных).
func (b *BrowseService) GetItem(ctx context.Context, identifier string) (*model.Recording, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: пустой идентификатор записи", ErrValidation)
	}

	meta, fresh, err := b.getItemMetadata(ctx, identifier)
	if err != nil {
		return nil, err
	}

	rec := metadataToRecording(meta)

	if fresh && rec.Date != nil {
		if _, err := b.agg.Ingest(ctx, []*model.Recording{rec}); err != nil {
			b.logger.Error("Ошибка агрегации метаданных записи",
				slog.String("identifier", identifier),
				slog.String("error", err.Error()),
			)
		}
	}

	return rec, nil
}

// ListFiles возвращает листинг файлов записи
// (read-through через кэш листингов, TTL дольше, чем у метаданных).
func (b *BrowseService) ListFiles(ctx context.Context, identifier string) ([]archive.FileDoc, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: пустой идентификатор записи", ErrValidation)
	}

	key := BuildKey(model.CacheKindDirectory, identifier)

	if payload, ok := b.cache.Get(ctx, model.CacheKindDirectory, key); ok {
		var files []archive.FileDoc
		if err := json.Unmarshal(payload, &files); err == nil {
			return files, nil
		}
		b.logger.Warn("Повреждённая запись кэша листинга", slog.String("key", key))
	}

	files, err := b.archive.ListDirectory(ctx, identifier)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if payload, err := json.Marshal(files); err == nil {
		b.cache.Put(ctx, model.CacheKindDirectory, key, payload)
	}

	return files, nil
}

// getItemMetadata возвращает метаданные записи из кэша или архива.
// fresh=true означает, что данные получены из архива только что.
func (b *BrowseService) getItemMetadata(ctx context.Context, identifier string) (meta *archive.ItemMetadata, fresh bool, err error) {
	key := BuildKey(model.CacheKindItemMetadata, identifier)

	if payload, ok := b.cache.Get(ctx, model.CacheKindItemMetadata, key); ok {
		meta = &archive.ItemMetadata{}
		if err := json.Unmarshal(payload, meta); err == nil {
			return meta, false, nil
		}
		b.logger.Warn("Повреждённая запись кэша метаданных", slog.String("key", key))
	}

	meta, err = b.archive.GetItemMetadata(ctx, identifier)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			return nil, false, ErrNotFound
		}
		return nil, false, err
	}

	if payload, err := json.Marshal(meta); err == nil {
		b.cache.Put(ctx, model.CacheKindItemMetadata, key, payload)
	}

	return meta, true, nil
}

// searchCacheKey строит ключ кэша для нормализованных параметров поиска.
func searchCacheKey(p archive.SearchParams) string {
	from, to := "", ""
	if p.DateFrom != nil {
		from = p.DateFrom.Format("2006-01-02")
	}
	if p.DateTo != nil {
		to = p.DateTo.Format("2006-01-02")
	}
	return BuildKey(model.CacheKindSearch,
		p.Collection, p.ExcludeCollection, p.Query, p.Artist, p.Venue,
		from, to, p.SortBy, p.SortOrder,
		strconv.Itoa(p.Page), strconv.Itoa(p.PerPage),
	)
}
