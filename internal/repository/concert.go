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

// concertColumns — список столбцов таблицы concerts для SELECT-запросов.
const concertColumns = `concert_key, artist, date, venue, location,
	total_recordings, total_tracks, total_size, total_downloads,
	indexed_at, last_updated_at`

// ConcertListParams — параметры выборки концертов.
// Поля-указатели: nil = фильтр не применяется.
type ConcertListParams struct {
	// Query — свободный текстовый поиск по исполнителю и площадке (ILIKE)
	Query *string
	// Artist — фильтр по исполнителю (partial match)
	Artist *string
	// DateFrom — концерты не раньше указанной даты
	DateFrom *time.Time
	// DateTo — концерты не позже указанной даты
	DateTo *time.Time
	// ByIndexedDate — применять диапазон дат к дате индексации,
	// а не к дате выступления
	ByIndexedDate bool
	// SortBy — поле сортировки: date, artist, relevance
	SortBy string
	// SortOrder — направление: asc, desc
	SortOrder string
	// Limit — количество результатов
	Limit int
	// Offset — смещение
	Offset int
}

// ConcertRepository — интерфейс доступа к таблице concerts.
// Агрегаты концерта обновляются отдельно от вставки (UpdateAggregates),
// indexed_at фиксируется первой вставкой и не перезаписывается.
type ConcertRepository interface {
	// Upsert создаёт концерт, если его ещё нет. Существующий концерт
	// не изменяется: агрегаты пересчитывает UpdateAggregates.
	Upsert(ctx context.Context, key, artist string, date time.Time, now time.Time) error
	// GetByKey возвращает концерт по ключу (без списка записей).
	GetByKey(ctx context.Context, key string) (*model.Concert, error)
	// List возвращает страницу концертов и общее количество.
	List(ctx context.Context, params ConcertListParams) ([]*model.Concert, int, error)
	// UpdateAggregates записывает пересчитанные агрегаты и площадку.
	UpdateAggregates(ctx context.Context, key string, venue, location *string, agg *RecordingAggregates) error
	// Delete удаляет концерт (после ухода последней записи к другому ключу).
	Delete(ctx context.Context, key string) error
}

// concertRepo — реализация ConcertRepository через pgx.
type concertRepo struct {
	db DBTX
}

// NewConcertRepository создаёт репозиторий концертов.
func NewConcertRepository(db DBTX) ConcertRepository {
	return &concertRepo{db: db}
}

// Upsert создаёт концерт, если его ещё нет.
// Повторная вставка того же ключа — no-op: indexed_at остаётся от первой.
func (r *concertRepo) Upsert(ctx context.Context, key, artist string, date, now time.Time) error {
	query := `
		INSERT INTO concerts (concert_key, artist, date,
			total_recordings, total_tracks, total_size, total_downloads,
			indexed_at, last_updated_at)
		VALUES ($1, $2, $3, 0, 0, 0, 0, $4, $4)
		ON CONFLICT (concert_key) DO NOTHING`

	if _, err := r.db.Exec(ctx, query, key, artist, date, now); err != nil {
		return fmt.Errorf("ошибка создания концерта %s: %w", key, err)
	}
	return nil
}

// GetByKey возвращает концерт по ключу или ErrNotFound.
func (r *concertRepo) GetByKey(ctx context.Context, key string) (*model.Concert, error) {
	query := fmt.Sprintf(`SELECT %s FROM concerts WHERE concert_key = $1`, concertColumns)

	c := &model.Concert{}
	err := r.db.QueryRow(ctx, query, key).Scan(
		&c.ConcertKey, &c.Artist, &c.Date, &c.Venue, &c.Location,
		&c.TotalRecordings, &c.TotalTracks, &c.TotalSizeBytes, &c.TotalDownloads,
		&c.IndexedAt, &c.LastUpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения концерта %s: %w", key, err)
	}
	return c, nil
}

// List возвращает страницу концертов с фильтрами и общее количество.
// Порядок детерминирован: concert_key — вторичный ключ сортировки,
// поэтому страницы не «плывут» между запросами.
func (r *concertRepo) List(ctx context.Context, params ConcertListParams) ([]*model.Concert, int, error) {
	where, args := buildConcertWhere(params, 1)
	argNum := len(args) + 1

	orderBy := buildConcertOrderBy(params.SortBy, params.SortOrder)

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM concerts %s %s LIMIT $%d OFFSET $%d`,
		concertColumns, where, orderBy, argNum, argNum+1,
	)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.db.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка выборки концертов: %w", err)
	}
	defer rows.Close()

	var result []*model.Concert
	for rows.Next() {
		c := &model.Concert{}
		if err := rows.Scan(
			&c.ConcertKey, &c.Artist, &c.Date, &c.Venue, &c.Location,
			&c.TotalRecordings, &c.TotalTracks, &c.TotalSizeBytes, &c.TotalDownloads,
			&c.IndexedAt, &c.LastUpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования концерта: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации концертов: %w", err)
	}

	countWhere, countArgs := buildConcertWhere(params, 1)
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM concerts %s`, countWhere)

	var total int
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта концертов: %w", err)
	}

	return result, total, nil
}

// UpdateAggregates записывает агрегаты, площадку и место концерта.
func (r *concertRepo) UpdateAggregates(ctx context.Context, key string, venue, location *string, agg *RecordingAggregates) error {
	query := `
		UPDATE concerts
		SET venue = $2,
		    location = $3,
		    total_recordings = $4,
		    total_tracks = $5,
		    total_size = $6,
		    total_downloads = $7,
		    indexed_at = LEAST(indexed_at, $8),
		    last_updated_at = $9
		WHERE concert_key = $1`

	tag, err := r.db.Exec(ctx, query, key, venue, location,
		agg.TotalRecordings, agg.TotalTracks, agg.TotalSizeBytes, agg.TotalDownloads,
		agg.IndexedAt, agg.LastUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления агрегатов концерта %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет концерт по ключу.
func (r *concertRepo) Delete(ctx context.Context, key string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM concerts WHERE concert_key = $1`, key)
	if err != nil {
		return fmt.Errorf("ошибка удаления концерта %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// buildConcertWhere строит WHERE-условие и аргументы для выборки концертов.
// startArg — номер первого $-параметра.
func buildConcertWhere(params ConcertListParams, startArg int) (whereClause string, args []any) {
	var conditions []string
	argNum := startArg

	// Столбец для диапазона дат: дата выступления или дата индексации
	dateColumn := "date"
	if params.ByIndexedDate {
		dateColumn = "indexed_at"
	}

	// Свободный поиск по исполнителю, площадке и названиям записей
	if params.Query != nil && *params.Query != "" {
		conditions = append(conditions, fmt.Sprintf(
			`(artist ILIKE $%d OR venue ILIKE $%d OR EXISTS (
			SELECT 1 FROM recordings r
			WHERE r.concert_key = concerts.concert_key AND r.title ILIKE $%d))`,
			argNum, argNum, argNum))
		args = append(args, "%"+*params.Query+"%")
		argNum++
	}

	// Фильтр по исполнителю (partial match)
	if params.Artist != nil && *params.Artist != "" {
		conditions = append(conditions, fmt.Sprintf("artist ILIKE $%d", argNum))
		args = append(args, "%"+*params.Artist+"%")
		argNum++
	}

	// Нижняя граница диапазона дат
	if params.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("%s >= $%d", dateColumn, argNum))
		args = append(args, *params.DateFrom)
		argNum++
	}

	// Верхняя граница диапазона дат
	if params.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("%s <= $%d", dateColumn, argNum))
		args = append(args, *params.DateTo)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

// Поле сортировки концертов по умолчанию.
const defaultConcertSortColumn = "date"

// buildConcertOrderBy строит ORDER BY с безопасным whitelist полей.
// relevance отображается в популярность (total_downloads).
// concert_key всегда добавляется вторичным ключом для детерминизма.
func buildConcertOrderBy(sortBy, sortOrder string) string {
	column := defaultConcertSortColumn
	switch sortBy {
	case "artist":
		column = "artist"
	case "relevance":
		column = "total_downloads"
	case defaultConcertSortColumn:
		column = defaultConcertSortColumn
	}

	direction := "DESC"
	if strings.EqualFold(sortOrder, "asc") {
		direction = "ASC"
	}

	return fmt.Sprintf("ORDER BY %s %s, concert_key ASC", column, direction)
}
