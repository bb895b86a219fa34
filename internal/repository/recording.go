package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/concerthall/internal/domain/model"
)

// recordingColumns — список столбцов таблицы recordings для SELECT-запросов.
const recordingColumns = `identifier, title, artist, date, venue, location,
	source, taper, lineage, total_tracks, total_size, downloads, tracks,
	indexed_at, updated_at`

// RecordingAggregates — агрегаты по записям одного концерта.
// Считаются полностью на стороне БД.
type RecordingAggregates struct {
	// TotalRecordings — количество записей концерта.
	TotalRecordings int
	// TotalTracks — суммарное количество треков.
	TotalTracks int
	// TotalSizeBytes — суммарный размер всех записей.
	TotalSizeBytes int64
	// TotalDownloads — суммарный счётчик скачиваний.
	TotalDownloads int64
	// IndexedAt — время самой ранней индексации среди записей.
	IndexedAt time.Time
	// LastUpdatedAt — время самого позднего обновления среди записей.
	LastUpdatedAt time.Time
}

// RecordingRepository — интерфейс доступа к таблице recordings.
type RecordingRepository interface {
	// Upsert вставляет запись или полностью обновляет существующую.
	// indexed_at сохраняется от первой вставки, concert_key задаёт
	// принадлежность концерту.
	Upsert(ctx context.Context, rec *model.Recording, concertKey string) error
	// GetByIdentifier возвращает запись по идентификатору архива.
	GetByIdentifier(ctx context.Context, identifier string) (*model.Recording, error)
	// GetConcertKey возвращает ключ концерта, к которому привязана запись.
	GetConcertKey(ctx context.Context, identifier string) (string, error)
	// ListByConcertKey возвращает записи концерта, от ранних к поздним.
	ListByConcertKey(ctx context.Context, concertKey string) ([]*model.Recording, error)
	// Aggregates считает сводные показатели по записям концерта.
	Aggregates(ctx context.Context, concertKey string) (*RecordingAggregates, error)
	// ResolveVenue выбирает площадку и место концерта: самое частое
	// непустое значение, при равенстве — из самой ранней записи.
	ResolveVenue(ctx context.Context, concertKey string) (venue, location *string, err error)
}

// recordingRepo — реализация RecordingRepository через pgx.
type recordingRepo struct {
	db DBTX
}

// NewRecordingRepository создаёт репозиторий записей.
func NewRecordingRepository(db DBTX) RecordingRepository {
	return &recordingRepo{db: db}
}

// Upsert вставляет или полностью обновляет запись.
func (r *recordingRepo) Upsert(ctx context.Context, rec *model.Recording, concertKey string) error {
	query := `
		INSERT INTO recordings (identifier, title, artist, date, venue, location,
			source, taper, lineage, total_tracks, total_size, downloads, tracks,
			concert_key, indexed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (identifier) DO UPDATE
		SET title = EXCLUDED.title,
		    artist = EXCLUDED.artist,
		    date = EXCLUDED.date,
		    venue = EXCLUDED.venue,
		    location = EXCLUDED.location,
		    source = EXCLUDED.source,
		    taper = EXCLUDED.taper,
		    lineage = EXCLUDED.lineage,
		    total_tracks = EXCLUDED.total_tracks,
		    total_size = EXCLUDED.total_size,
		    downloads = EXCLUDED.downloads,
		    tracks = EXCLUDED.tracks,
		    concert_key = EXCLUDED.concert_key,
		    updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query,
		rec.Identifier, rec.Title, rec.Artist, rec.Date, rec.Venue, rec.Location,
		rec.Source, rec.Taper, rec.Lineage, rec.TotalTracks, rec.TotalSizeBytes,
		rec.Downloads, rec.Tracks, concertKey, rec.IndexedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения записи %s: %w", rec.Identifier, err)
	}
	return nil
}

// GetByIdentifier возвращает запись по идентификатору или ErrNotFound.
func (r *recordingRepo) GetByIdentifier(ctx context.Context, identifier string) (*model.Recording, error) {
	query := fmt.Sprintf(`SELECT %s FROM recordings WHERE identifier = $1`, recordingColumns)

	rec := &model.Recording{}
	err := r.db.QueryRow(ctx, query, identifier).Scan(
		&rec.Identifier, &rec.Title, &rec.Artist, &rec.Date, &rec.Venue, &rec.Location,
		&rec.Source, &rec.Taper, &rec.Lineage, &rec.TotalTracks, &rec.TotalSizeBytes,
		&rec.Downloads, &rec.Tracks, &rec.IndexedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи %s: %w", identifier, err)
	}
	return rec, nil
}

// GetConcertKey возвращает текущий ключ концерта записи или ErrNotFound.
func (r *recordingRepo) GetConcertKey(ctx context.Context, identifier string) (string, error) {
	var key string
	err := r.db.QueryRow(ctx,
		`SELECT concert_key FROM recordings WHERE identifier = $1`, identifier,
	).Scan(&key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("ошибка получения ключа концерта записи %s: %w", identifier, err)
	}
	return key, nil
}

// ListByConcertKey возвращает записи концерта в порядке индексации.
func (r *recordingRepo) ListByConcertKey(ctx context.Context, concertKey string) ([]*model.Recording, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM recordings WHERE concert_key = $1 ORDER BY indexed_at, identifier`,
		recordingColumns,
	)

	rows, err := r.db.Query(ctx, query, concertKey)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки записей концерта: %w", err)
	}
	defer rows.Close()

	var result []*model.Recording
	for rows.Next() {
		rec := &model.Recording{}
		if err := rows.Scan(
			&rec.Identifier, &rec.Title, &rec.Artist, &rec.Date, &rec.Venue, &rec.Location,
			&rec.Source, &rec.Taper, &rec.Lineage, &rec.TotalTracks, &rec.TotalSizeBytes,
			&rec.Downloads, &rec.Tracks, &rec.IndexedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации записей: %w", err)
	}
	return result, nil
}

// Aggregates считает сводные показатели концерта одним запросом.
// Для концерта без записей возвращает ErrNotFound.
func (r *recordingRepo) Aggregates(ctx context.Context, concertKey string) (*RecordingAggregates, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(total_tracks), 0),
		       COALESCE(SUM(total_size), 0),
		       COALESCE(SUM(downloads), 0),
		       MIN(indexed_at),
		       MAX(updated_at)
		FROM recordings
		WHERE concert_key = $1`

	a := &RecordingAggregates{}
	var indexedAt, updatedAt *time.Time
	err := r.db.QueryRow(ctx, query, concertKey).Scan(
		&a.TotalRecordings, &a.TotalTracks, &a.TotalSizeBytes, &a.TotalDownloads,
		&indexedAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта агрегатов концерта: %w", err)
	}
	if a.TotalRecordings == 0 {
		return nil, ErrNotFound
	}
	a.IndexedAt = *indexedAt
	a.LastUpdatedAt = *updatedAt
	return a, nil
}

// ResolveVenue выбирает площадку и место концерта. Оба поля разрешаются
// по одному правилу: побеждает самое частое непустое значение; при равенстве
// частот — значение из записи с самой ранней индексацией.
func (r *recordingRepo) ResolveVenue(ctx context.Context, concertKey string) (venue, location *string, err error) {
	venue, err = r.mostFrequentValue(ctx, concertKey, "venue")
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка определения площадки концерта: %w", err)
	}
	location, err = r.mostFrequentValue(ctx, concertKey, "location")
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка определения места концерта: %w", err)
	}
	return venue, location, nil
}

// mostFrequentValue возвращает самое частое непустое значение столбца среди
// записей концерта.
func (r *recordingRepo) mostFrequentValue(ctx context.Context, concertKey, column string) (*string, error) {
	var value *string
	if err := r.db.QueryRow(ctx, buildMostFrequentQuery(column), concertKey).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return value, nil
}

// buildMostFrequentQuery строит запрос «самое частое непустое значение
// столбца; при равенстве частот — из записи с самой ранней индексацией».
// Имя столбца задаётся кодом, не пользователем.
func buildMostFrequentQuery(column string) string {
	return fmt.Sprintf(`
		SELECT %s
		FROM recordings
		WHERE concert_key = $1 AND %s IS NOT NULL AND %s <> ''
		GROUP BY %s
		ORDER BY COUNT(*) DESC, MIN(indexed_at) ASC
		LIMIT 1`, column, column, column, column)
}
