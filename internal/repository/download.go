package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/concerthall/internal/domain/model"
)

// downloadColumns — список столбцов таблицы download_jobs для SELECT-запросов.
const downloadColumns = `id, owner_id, archive_identifier, filename, status,
	progress_percent, bytes_transferred, total_bytes, file_path, error_message,
	created_at, started_at, completed_at`

// DownloadListParams — параметры выборки заданий скачивания владельца.
type DownloadListParams struct {
	// OwnerID — владелец заданий (обязателен: задания видны только владельцу)
	OwnerID string
	// Status — фильтр по статусу (nil = все)
	Status *model.DownloadStatus
	// Limit — количество результатов
	Limit int
	// Offset — смещение
	Offset int
}

// DownloadRepository — интерфейс доступа к таблице download_jobs.
// Все операции чтения и изменения ограничены владельцем задания.
type DownloadRepository interface {
	// Create сохраняет новое задание скачивания.
	Create(ctx context.Context, job *model.DownloadJob) error
	// GetOwned возвращает задание по ID, если оно принадлежит владельцу.
	GetOwned(ctx context.Context, id, ownerID string) (*model.DownloadJob, error)
	// ListByOwner возвращает страницу заданий владельца и общее количество.
	ListByOwner(ctx context.Context, params DownloadListParams) ([]*model.DownloadJob, int, error)
	// Update записывает текущее состояние задания (статус, прогресс, итоги).
	Update(ctx context.Context, job *model.DownloadJob) error
	// DeleteOwned удаляет задание владельца в терминальном статусе.
	DeleteOwned(ctx context.Context, id, ownerID string) error
}

// downloadRepo — реализация DownloadRepository через pgx.
type downloadRepo struct {
	db DBTX
}

// NewDownloadRepository создаёт репозиторий заданий скачивания.
func NewDownloadRepository(db DBTX) DownloadRepository {
	return &downloadRepo{db: db}
}

// Create сохраняет новое задание.
func (r *downloadRepo) Create(ctx context.Context, job *model.DownloadJob) error {
	query := `
		INSERT INTO download_jobs (id, owner_id, archive_identifier, filename,
			status, progress_percent, bytes_transferred, total_bytes,
			file_path, error_message, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.Exec(ctx, query,
		job.ID, job.OwnerID, job.ArchiveIdentifier, job.Filename,
		job.Status, job.ProgressPercent, job.BytesTransferred, job.TotalBytes,
		job.FilePath, job.ErrorMessage, job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания задания скачивания: %w", err)
	}
	return nil
}

// GetOwned возвращает задание владельца или ErrNotFound.
// Чужое задание неотличимо от несуществующего.
func (r *downloadRepo) GetOwned(ctx context.Context, id, ownerID string) (*model.DownloadJob, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM download_jobs WHERE id = $1 AND owner_id = $2`,
		downloadColumns,
	)

	job := &model.DownloadJob{}
	err := r.db.QueryRow(ctx, query, id, ownerID).Scan(
		&job.ID, &job.OwnerID, &job.ArchiveIdentifier, &job.Filename, &job.Status,
		&job.ProgressPercent, &job.BytesTransferred, &job.TotalBytes,
		&job.FilePath, &job.ErrorMessage,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения задания %s: %w", id, err)
	}
	return job, nil
}

// ListByOwner возвращает задания владельца от новых к старым.
func (r *downloadRepo) ListByOwner(ctx context.Context, params DownloadListParams) ([]*model.DownloadJob, int, error) {
	where, args := buildDownloadWhere(params, 1)
	argNum := len(args) + 1

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM download_jobs %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		downloadColumns, where, argNum, argNum+1,
	)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.db.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка выборки заданий скачивания: %w", err)
	}
	defer rows.Close()

	var result []*model.DownloadJob
	for rows.Next() {
		job := &model.DownloadJob{}
		if err := rows.Scan(
			&job.ID, &job.OwnerID, &job.ArchiveIdentifier, &job.Filename, &job.Status,
			&job.ProgressPercent, &job.BytesTransferred, &job.TotalBytes,
			&job.FilePath, &job.ErrorMessage,
			&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования задания: %w", err)
		}
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации заданий: %w", err)
	}

	countWhere, countArgs := buildDownloadWhere(params, 1)
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM download_jobs %s`, countWhere)

	var total int
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта заданий: %w", err)
	}

	return result, total, nil
}

// Update записывает текущее состояние задания целиком.
func (r *downloadRepo) Update(ctx context.Context, job *model.DownloadJob) error {
	query := `
		UPDATE download_jobs
		SET status = $2,
		    progress_percent = $3,
		    bytes_transferred = $4,
		    total_bytes = $5,
		    file_path = $6,
		    error_message = $7,
		    started_at = $8,
		    completed_at = $9
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		job.ID, job.Status, job.ProgressPercent, job.BytesTransferred,
		job.TotalBytes, job.FilePath, job.ErrorMessage,
		job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления задания %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteOwned удаляет задание владельца, если оно в терминальном статусе.
// Активное задание сначала отменяют.
func (r *downloadRepo) DeleteOwned(ctx context.Context, id, ownerID string) error {
	query := `
		DELETE FROM download_jobs
		WHERE id = $1 AND owner_id = $2
		  AND status IN ('completed', 'failed', 'cancelled')`

	tag, err := r.db.Exec(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("ошибка удаления задания %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// buildDownloadWhere строит WHERE-условие для выборки заданий владельца.
func buildDownloadWhere(params DownloadListParams, startArg int) (whereClause string, args []any) {
	conditions := []string{fmt.Sprintf("owner_id = $%d", startArg)}
	args = append(args, params.OwnerID)
	argNum := startArg + 1

	if params.Status != nil && *params.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *params.Status)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}
