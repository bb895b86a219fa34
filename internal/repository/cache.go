package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/concerthall/internal/domain/model"
)

// cacheColumns — список столбцов таблицы cache_entries для SELECT-запросов.
const cacheColumns = `cache_key, payload, kind, created_at, expires_at`

// CacheStats — агрегированная статистика по таблице кэша.
type CacheStats struct {
	// EntryCount — количество живых (не истёкших) записей.
	EntryCount int64
	// ExpiredCount — количество истёкших, но ещё не удалённых записей.
	ExpiredCount int64
	// BytesStored — суммарный размер payload живых записей.
	BytesStored int64
}

// CacheRepository — интерфейс доступа к таблице cache_entries.
// TTL хранится per-entry в expires_at: Get не возвращает истёкшие записи.
type CacheRepository interface {
	// Get возвращает живую запись по ключу или ErrNotFound.
	Get(ctx context.Context, key string) (*model.CacheEntry, error)
	// Put вставляет запись или заменяет существующую (новый payload и TTL).
	Put(ctx context.Context, entry *model.CacheEntry) error
	// Invalidate удаляет записи по точному ключу или префиксу ключа.
	// Возвращает количество удалённых записей.
	Invalidate(ctx context.Context, keyOrPrefix string) (int64, error)
	// DeleteExpired удаляет истёкшие записи (фоновая уборка).
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	// Stats возвращает статистику по таблице кэша.
	Stats(ctx context.Context, now time.Time) (*CacheStats, error)
}

// cacheRepo — реализация CacheRepository через pgx.
type cacheRepo struct {
	db DBTX
}

// NewCacheRepository создаёт репозиторий кэша.
func NewCacheRepository(db DBTX) CacheRepository {
	return &cacheRepo{db: db}
}

// Get возвращает живую запись по ключу или ErrNotFound.
// Истёкшая запись равносильна отсутствующей.
func (r *cacheRepo) Get(ctx context.Context, key string) (*model.CacheEntry, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM cache_entries WHERE cache_key = $1 AND expires_at > now()`,
		cacheColumns,
	)

	e := &model.CacheEntry{}
	err := r.db.QueryRow(ctx, query, key).Scan(
		&e.Key, &e.Payload, &e.Kind, &e.CreatedAt, &e.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения записи кэша: %w", err)
	}
	return e, nil
}

// Put вставляет запись или заменяет существующую по ключу.
func (r *cacheRepo) Put(ctx context.Context, entry *model.CacheEntry) error {
	query := `
		INSERT INTO cache_entries (cache_key, payload, kind, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cache_key) DO UPDATE
		SET payload = EXCLUDED.payload,
		    kind = EXCLUDED.kind,
		    created_at = EXCLUDED.created_at,
		    expires_at = EXCLUDED.expires_at`

	_, err := r.db.Exec(ctx, query,
		entry.Key, entry.Payload, entry.Kind, entry.CreatedAt, entry.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка записи в кэш: %w", err)
	}
	return nil
}

// Invalidate удаляет записи по ключу или префиксу.
// Пустой префикс очищает весь кэш.
func (r *cacheRepo) Invalidate(ctx context.Context, keyOrPrefix string) (int64, error) {
	query := `DELETE FROM cache_entries WHERE cache_key LIKE $1 || '%' ESCAPE '\'`

	tag, err := r.db.Exec(ctx, query, escapeLike(keyOrPrefix))
	if err != nil {
		return 0, fmt.Errorf("ошибка инвалидации кэша: %w", err)
	}
	return tag.RowsAffected(), nil
}

// escapeLike экранирует метасимволы LIKE в пользовательском префиксе:
// префикс сопоставляется буквально, а не как шаблон.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// DeleteExpired удаляет записи с истёкшим expires_at.
func (r *cacheRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления истёкших записей кэша: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats возвращает количество и суммарный объём записей кэша.
func (r *cacheRepo) Stats(ctx context.Context, now time.Time) (*CacheStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE expires_at > $1),
			COUNT(*) FILTER (WHERE expires_at <= $1),
			COALESCE(SUM(length(payload)) FILTER (WHERE expires_at > $1), 0)
		FROM cache_entries`

	s := &CacheStats{}
	err := r.db.QueryRow(ctx, query, now).Scan(
		&s.EntryCount, &s.ExpiredCount, &s.BytesStored,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики кэша: %w", err)
	}
	return s, nil
}
