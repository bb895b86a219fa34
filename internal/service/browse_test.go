package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bigkaa/concerthall/internal/archive"
)

// browseTestEnv — окружение browse-тестов: mock-архив и собранные сервисы.
type browseTestEnv struct {
	browse        *BrowseService
	agg           *AggregationService
	searchCalls   atomic.Int64
	metadataCalls atomic.Int64
}

// newBrowseTestEnv собирает BrowseService поверх mock-архива.
// metadata — ответы /metadata/{identifier} по идентификатору.
func newBrowseTestEnv(t *testing.T, searchBody string, metadata map[string]string) *browseTestEnv {
	t.Helper()

	env := &browseTestEnv{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/advancedsearch.php":
			env.searchCalls.Add(1)
			_, _ = w.Write([]byte(searchBody))
		case strings.HasPrefix(r.URL.Path, "/metadata/"):
			env.metadataCalls.Add(1)
			identifier := strings.TrimPrefix(r.URL.Path, "/metadata/")
			body, ok := metadata[identifier]
			if !ok {
				// Архив отвечает 200 с пустым объектом для неизвестных identifier
				body = `{}`
			}
			_, _ = w.Write([]byte(body))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	logger := slog.Default()
	client := archive.New(server.URL, 5*time.Second, logger)
	cache := newTestCacheService(newMemCacheRepo())
	env.agg = NewAggregationService(newMemConcertRepo(), newMemRecordingRepo(), 16, time.Minute, logger)
	env.browse = NewBrowseService(client, cache, env.agg, "etree", "stream_only", logger)
	return env
}

const searchBodyOneDoc = `{
	"response": {
		"numFound": 1,
		"docs": [{
			"identifier": "gd1977-05-08",
			"title": "Barton Hall",
			"creator": "Grateful Dead",
			"date": "1977-05-08T00:00:00Z",
			"venue": "Barton Hall",
			"coverage": "Ithaca, NY",
			"downloads": 123456
		}]
	}
}`

const metadataBodyGD = `{
	"metadata": {
		"identifier": "gd1977-05-08",
		"title": "Barton Hall",
		"creator": "Grateful Dead",
		"date": "1977-05-08"
	},
	"files": [
		{"name": "t01.flac", "format": "Flac", "title": "Help on the Way", "size": "1000", "track": "1"},
		{"name": "info.txt", "format": "Text", "size": "100"}
	]
}`

// TestBrowseService_Search проверяет поиск: разбор ответа архива
// и пополнение индекса концертов свежими результатами.
func TestBrowseService_Search(t *testing.T) {
	env := newBrowseTestEnv(t, searchBodyOneDoc, nil)
	ctx := context.Background()

	result, err := env.browse.Search(ctx, BrowseParams{Query: "barton", Page: 1, PerPage: 20})
	if err != nil {
		t.Fatalf("Search ошибка: %v", err)
	}

	if result.Total != 1 {
		t.Errorf("Total = %d, ожидался 1", result.Total)
	}
	if len(result.Recordings) != 1 {
		t.Fatalf("len(Recordings) = %d, ожидался 1", len(result.Recordings))
	}

	rec := result.Recordings[0]
	if rec.Identifier != "gd1977-05-08" {
		t.Errorf("Identifier = %q", rec.Identifier)
	}
	if rec.Downloads != 123456 {
		t.Errorf("Downloads = %d, ожидался 123456", rec.Downloads)
	}

	// Свежие результаты пополнили индекс концертов
	concert, err := env.agg.GetConcert(ctx, "grateful dead|1977-05-08")
	if err != nil {
		t.Fatalf("GetConcert после поиска: %v", err)
	}
	if concert.TotalRecordings != 1 {
		t.Errorf("TotalRecordings = %d, ожидался 1", concert.TotalRecordings)
	}
}

// TestBrowseService_SearchCached проверяет read-through кэш поиска:
// повторный запрос с теми же параметрами не ходит в архив.
func TestBrowseService_SearchCached(t *testing.T) {
	env := newBrowseTestEnv(t, searchBodyOneDoc, nil)
	ctx := context.Background()

	params := BrowseParams{Query: "barton", Page: 1, PerPage: 20}
	if _, err := env.browse.Search(ctx, params); err != nil {
		t.Fatalf("первый Search: %v", err)
	}
	if _, err := env.browse.Search(ctx, params); err != nil {
		t.Fatalf("повторный Search: %v", err)
	}

	if calls := env.searchCalls.Load(); calls != 1 {
		t.Errorf("запросов к архиву = %d, ожидался 1 (cache hit)", calls)
	}

	// Другая страница — другой ключ кэша
	params.Page = 2
	if _, err := env.browse.Search(ctx, params); err != nil {
		t.Fatalf("Search второй страницы: %v", err)
	}
	if calls := env.searchCalls.Load(); calls != 2 {
		t.Errorf("запросов к архиву = %d, ожидался 2", calls)
	}
}

// TestBrowseService_SearchExpand проверяет догрузку полных метаданных
// при Expand: записи получают треки, счётчик скачиваний сохраняется.
func TestBrowseService_SearchExpand(t *testing.T) {
	env := newBrowseTestEnv(t, searchBodyOneDoc, map[string]string{
		"gd1977-05-08": metadataBodyGD,
	})
	ctx := context.Background()

	result, err := env.browse.Search(ctx, BrowseParams{Page: 1, PerPage: 20, Expand: true})
	if err != nil {
		t.Fatalf("Search ошибка: %v", err)
	}

	rec := result.Recordings[0]
	if rec.TotalTracks != 1 {
		t.Errorf("TotalTracks = %d, ожидался 1 (текстовый файл не трек)", rec.TotalTracks)
	}
	if len(rec.Tracks) != 1 || rec.Tracks[0].Filename != "t01.flac" {
		t.Errorf("Tracks = %+v, ожидался один t01.flac", rec.Tracks)
	}
	if rec.Downloads != 123456 {
		t.Errorf("Downloads = %d, счётчик из документа поиска должен сохраниться", rec.Downloads)
	}
}

// TestBrowseService_GetItem проверяет чтение метаданных записи
// с кэшированием.
func TestBrowseService_GetItem(t *testing.T) {
	env := newBrowseTestEnv(t, searchBodyOneDoc, map[string]string{
		"gd1977-05-08": metadataBodyGD,
	})
	ctx := context.Background()

	rec, err := env.browse.GetItem(ctx, "gd1977-05-08")
	if err != nil {
		t.Fatalf("GetItem ошибка: %v", err)
	}
	if rec.Title != "Barton Hall" {
		t.Errorf("Title = %q", rec.Title)
	}
	if rec.TotalTracks != 1 {
		t.Errorf("TotalTracks = %d, ожидался 1", rec.TotalTracks)
	}

	// Повторное чтение — из кэша
	if _, err := env.browse.GetItem(ctx, "gd1977-05-08"); err != nil {
		t.Fatalf("повторный GetItem: %v", err)
	}
	if calls := env.metadataCalls.Load(); calls != 1 {
		t.Errorf("запросов метаданных = %d, ожидался 1 (cache hit)", calls)
	}

	// Свежие метаданные пополнили индекс концертов
	if _, err := env.agg.GetConcert(ctx, "grateful dead|1977-05-08"); err != nil {
		t.Errorf("GetConcert после GetItem: %v", err)
	}
}

// TestBrowseService_GetItemNotFound проверяет ErrNotFound для
// несуществующего identifier (архив отвечает пустым объектом).
func TestBrowseService_GetItemNotFound(t *testing.T) {
	env := newBrowseTestEnv(t, searchBodyOneDoc, nil)

	_, err := env.browse.GetItem(context.Background(), "no-such-item")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ошибка = %v, ожидалась ErrNotFound", err)
	}
}

// TestBrowseService_GetItemEmptyIdentifier проверяет валидацию identifier.
func TestBrowseService_GetItemEmptyIdentifier(t *testing.T) {
	env := newBrowseTestEnv(t, searchBodyOneDoc, nil)

	_, err := env.browse.GetItem(context.Background(), "")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("ошибка = %v, ожидалась ErrValidation", err)
	}
}

// TestBrowseService_ListFiles проверяет листинг файлов записи
// с кэшированием.
func TestBrowseService_ListFiles(t *testing.T) {
	env := newBrowseTestEnv(t, searchBodyOneDoc, map[string]string{
		"gd1977-05-08": metadataBodyGD,
	})
	ctx := context.Background()

	files, err := env.browse.ListFiles(ctx, "gd1977-05-08")
	if err != nil {
		t.Fatalf("ListFiles ошибка: %v", err)
	}

	// Листинг полный: и аудио, и сопутствующие файлы
	if len(files) != 2 {
		t.Fatalf("len(files) = %d, ожидался 2", len(files))
	}
	if files[0].Name != "t01.flac" || files[1].Name != "info.txt" {
		t.Errorf("files = %q, %q", files[0].Name, files[1].Name)
	}
	if files[0].Category != archive.CategoryAudio {
		t.Errorf("категория %q = %q, ожидалась audio", files[0].Name, files[0].Category)
	}
	if files[1].Category != archive.CategoryMetadata {
		t.Errorf("категория %q = %q, ожидалась metadata", files[1].Name, files[1].Category)
	}

	// Повторный листинг — из кэша
	if _, err := env.browse.ListFiles(ctx, "gd1977-05-08"); err != nil {
		t.Fatalf("повторный ListFiles: %v", err)
	}
	if calls := env.metadataCalls.Load(); calls != 1 {
		t.Errorf("запросов метаданных = %d, ожидался 1 (cache hit)", calls)
	}

	// Несуществующая запись
	if _, err := env.browse.ListFiles(ctx, "no-such-item"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ошибка = %v, ожидалась ErrNotFound", err)
	}
}

// TestBrowseService_ArchiveUnavailable проверяет проброс ошибки архива.
func TestBrowseService_ArchiveUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	logger := slog.Default()
	client := archive.New(server.URL, 5*time.Second, logger)
	cache := newTestCacheService(newMemCacheRepo())
	agg := NewAggregationService(newMemConcertRepo(), newMemRecordingRepo(), 16, time.Minute, logger)
	browse := NewBrowseService(client, cache, agg, "etree", "stream_only", logger)

	_, err := browse.Search(context.Background(), BrowseParams{Page: 1, PerPage: 20})
	if !errors.Is(err, archive.ErrUnavailable) {
		t.Errorf("ошибка = %v, ожидалась archive.ErrUnavailable", err)
	}
}
