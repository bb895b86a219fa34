// download.go — оркестратор скачиваний: владелец запрашивает файл записи,
// задание автоматически стартует, прогресс публикуется в шину событий,
// активное задание можно отменить.
//
// Жизненный цикл: pending → downloading → completed | failed | cancelled.
// Терминальные статусы необратимы.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/concerthall/internal/archive"
	"github.com/bigkaa/concerthall/internal/domain/model"
	"github.com/bigkaa/concerthall/internal/repository"
	"github.com/bigkaa/concerthall/internal/storage/filestore"
)

// Границы публикации прогресса: не чаще, чем раз в progressMinInterval,
// и не реже, чем каждые progressByteStep байт.
const (
	progressByteStep    = 1 << 20 // 1 MiB
	progressMinInterval = time.Second
	copyBufferSize      = 256 * 1024
)

// Prometheus-метрики скачиваний.
var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ch_downloads_total",
		Help: "Количество завершённых заданий скачивания (по терминальному статусу).",
	}, []string{"status"})

	downloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ch_download_duration_seconds",
		Help:    "Длительность скачивания файла из архива (до терминального статуса).",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	})

	downloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ch_download_bytes_total",
		Help: "Общее количество байт, скачанных из архива.",
	})

	activeDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ch_active_downloads",
		Help: "Количество активных (in-progress) заданий скачивания.",
	})
)

// inflightJob — активное задание с возможностью отмены.
type inflightJob struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
	// done закрывается после записи терминального статуса в БД:
	// Cancel ждёт его, чтобы задание не осталось в downloading
	done chan struct{}
}

// DownloadService — оркестратор скачиваний файлов из архива.
type DownloadService struct {
	jobs    repository.DownloadRepository
	browse  *BrowseService
	archive *archive.Client
	store   *filestore.FileStore
	hub     *ProgressHub
	logger  *slog.Logger

	// Реестр активных заданий
	mu       sync.Mutex
	inflight map[string]*inflightJob
	wg       sync.WaitGroup

	// Базовый контекст скачиваний, обрывается при Stop
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// NewDownloadService создаёт оркестратор скачиваний.
func NewDownloadService(
	jobs repository.DownloadRepository,
	browse *BrowseService,
	archiveClient *archive.Client,
	store *filestore.FileStore,
	hub *ProgressHub,
	logger *slog.Logger,
) *DownloadService {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &DownloadService{
		jobs:       jobs,
		browse:     browse,
		archive:    archiveClient,
		store:      store,
		hub:        hub,
		logger:     logger.With(slog.String("component", "download_service")),
		inflight:   make(map[string]*inflightJob),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
}

// Create создаёт задание скачивания и сразу запускает его.
// Файл проверяется по листингу записи: несуществующая запись или файл
// дают задание в статусе failed, а не ошибку API — клиент видит итог
// в том же жизненном цикле, что и обычное задание.
func (ds *DownloadService) Create(ctx context.Context, ownerID, identifier, filename string) (*model.DownloadJob, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: не определён владелец задания", ErrValidation)
	}
	if identifier == "" || filename == "" {
		return nil, fmt.Errorf("%w: требуются идентификатор записи и имя файла", ErrValidation)
	}

	now := time.Now()
	job := &model.DownloadJob{
		ID:                uuid.NewString(),
		OwnerID:           ownerID,
		ArchiveIdentifier: identifier,
		Filename:          filename,
		Status:            model.StatusPending,
		CreatedAt:         now,
	}

	// Валидация по листингу записи (read-through через кэш)
	files, err := ds.browse.ListFiles(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ds.createFailed(ctx, job, "запись не найдена в архиве")
		}
		return nil, err
	}

	var fileDoc *archive.FileDoc
	for i := range files {
		if files[i].Name == filename {
			fileDoc = &files[i]
			break
		}
	}
	if fileDoc == nil {
		return ds.createFailed(ctx, job, fmt.Sprintf("файл %q отсутствует в записи", filename))
	}

	if size := fileDoc.Size.Int64(); size > 0 {
		job.TotalBytes = &size
	}

	if err := ds.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	ds.publish(job)

	ds.start(job)
	return job, nil
}

// createFailed сохраняет задание сразу в терминальном статусе failed.
func (ds *DownloadService) createFailed(ctx context.Context, job *model.DownloadJob, msg string) (*model.DownloadJob, error) {
	now := time.Now()
	job.Status = model.StatusFailed
	job.ErrorMessage = &msg
	job.CompletedAt = &now

	if err := ds.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	downloadsTotal.WithLabelValues(string(model.StatusFailed)).Inc()
	ds.publish(job)

	ds.logger.Info("Задание отклонено при валидации",
		slog.String("job_id", job.ID),
		slog.String("identifier", job.ArchiveIdentifier),
		slog.String("reason", msg),
	)
	return job, nil
}

// GetOwned возвращает задание владельца.
func (ds *DownloadService) GetOwned(ctx context.Context, id, ownerID string) (*model.DownloadJob, error) {
	job, err := ds.jobs.GetOwned(ctx, id, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// List возвращает страницу заданий владельца и общее количество.
func (ds *DownloadService) List(ctx context.Context, params repository.DownloadListParams) ([]*model.DownloadJob, int, error) {
	return ds.jobs.ListByOwner(ctx, params)
}

// Cancel отменяет активное задание владельца. Для задания в терминальном
// статусе отмена — no-op. После успешного возврата задание гарантированно
// не находится в статусе downloading.
func (ds *DownloadService) Cancel(ctx context.Context, id, ownerID string) error {
	job, err := ds.GetOwned(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		// Отмена завершённого задания — no-op: статус не меняется,
		// вызывающий код видит фактическое состояние
		return nil
	}

	ds.mu.Lock()
	inf := ds.inflight[id]
	ds.mu.Unlock()

	if inf != nil {
		// Горутина скачивания сама доведёт задание до статуса cancelled;
		// дожидаемся записи терминального статуса в БД
		inf.cancelled.Store(true)
		inf.cancel()
		select {
		case <-inf.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Задание не в полёте (например, процесс был перезапущен)
	now := time.Now()
	job.Status = model.StatusCancelled
	job.CompletedAt = &now
	if err := ds.jobs.Update(ctx, job); err != nil {
		return err
	}
	downloadsTotal.WithLabelValues(string(model.StatusCancelled)).Inc()
	ds.publish(job)
	return nil
}

// Delete удаляет задание владельца в терминальном статусе
// вместе со скачанным файлом.
func (ds *DownloadService) Delete(ctx context.Context, id, ownerID string) error {
	job, err := ds.GetOwned(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if !job.Status.Terminal() {
		return fmt.Errorf("%w: активное задание сначала отменяют", ErrConflict)
	}

	if job.Status == model.StatusCompleted {
		if err := ds.store.Delete(job.OwnerID, job.ArchiveIdentifier, job.Filename); err != nil {
			return err
		}
	}

	if err := ds.jobs.DeleteOwned(ctx, id, ownerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// OpenFile открывает скачанный файл завершённого задания для отдачи клиенту.
// Вызывающий код обязан закрыть файл.
func (ds *DownloadService) OpenFile(ctx context.Context, id, ownerID string) (*os.File, *model.DownloadJob, error) {
	job, err := ds.GetOwned(ctx, id, ownerID)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != model.StatusCompleted {
		return nil, nil, fmt.Errorf("%w: задание в статусе %s, файл недоступен", ErrConflict, job.Status)
	}

	f, err := ds.store.Open(job.OwnerID, job.ArchiveIdentifier, job.Filename)
	if err != nil {
		return nil, nil, err
	}
	return f, job, nil
}

// Stop обрывает все активные скачивания и дожидается их завершения.
func (ds *DownloadService) Stop() {
	ds.baseCancel()
	ds.wg.Wait()
	ds.logger.Info("Оркестратор скачиваний остановлен")
}

// start регистрирует задание в реестре активных и запускает горутину.
func (ds *DownloadService) start(job *model.DownloadJob) {
	ctx, cancel := context.WithCancel(ds.baseCtx)
	inf := &inflightJob{cancel: cancel, done: make(chan struct{})}

	ds.mu.Lock()
	ds.inflight[job.ID] = inf
	ds.mu.Unlock()

	ds.wg.Add(1)
	go func() {
		defer ds.wg.Done()
		defer cancel()
		defer func() {
			ds.mu.Lock()
			delete(ds.inflight, job.ID)
			ds.mu.Unlock()
			close(inf.done)
		}()
		ds.run(ctx, job, inf)
	}()
}

// run выполняет скачивание одного файла: стрим из архива → временный файл →
// атомарный commit. Прогресс публикуется не чаще раза в секунду и не реже,
// чем каждый мегабайт.
func (ds *DownloadService) run(ctx context.Context, job *model.DownloadJob, inf *inflightJob) {
	start := time.Now()
	activeDownloads.Inc()
	defer activeDownloads.Dec()

	now := time.Now()
	job.Status = model.StatusDownloading
	job.StartedAt = &now
	ds.persist(job)
	ds.publish(job)

	stream, err := ds.archive.OpenFileStream(ctx, job.ArchiveIdentifier, job.Filename)
	if err != nil {
		ds.finish(job, inf, start, fmt.Errorf("открытие потока из архива: %w", err))
		return
	}
	defer stream.Body.Close()

	// Размер из заголовка ответа уточняет оценку из листинга
	if stream.ContentLength != nil {
		job.TotalBytes = stream.ContentLength
	}

	pending, err := ds.store.Begin(job.OwnerID, job.ArchiveIdentifier, job.Filename, job.ID)
	if err != nil {
		ds.finish(job, inf, start, err)
		return
	}

	if err := ds.copyWithProgress(ctx, job, pending, stream.Body); err != nil {
		pending.Abort()
		ds.finish(job, inf, start, err)
		return
	}

	// Сверка размера: недокачанный файл не попадает в хранилище
	if job.TotalBytes != nil && job.BytesTransferred != *job.TotalBytes {
		pending.Abort()
		ds.finish(job, inf, start, fmt.Errorf(
			"размер скачанного файла %d не совпал с ожидаемым %d",
			job.BytesTransferred, *job.TotalBytes))
		return
	}

	path, err := pending.Commit()
	if err != nil {
		ds.finish(job, inf, start, err)
		return
	}
	job.FilePath = &path

	ds.finish(job, inf, start, nil)
}

// copyWithProgress копирует поток с публикацией прогресса.
func (ds *DownloadService) copyWithProgress(ctx context.Context, job *model.DownloadJob, dst io.Writer, src io.Reader) error {
	buf := make([]byte, copyBufferSize)
	lastPublish := time.Now()
	var lastBytes int64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("запись на диск: %w", err)
			}
			job.BytesTransferred += int64(n)
			downloadBytesTotal.Add(float64(n))

			// Событие — каждый мегабайт или каждую секунду, что наступит раньше
			if job.BytesTransferred-lastBytes >= progressByteStep ||
				time.Since(lastPublish) >= progressMinInterval {
				job.ProgressPercent = progressPercent(job.BytesTransferred, job.TotalBytes)
				ds.persist(job)
				ds.publish(job)
				lastBytes = job.BytesTransferred
				lastPublish = time.Now()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return fmt.Errorf("чтение потока архива: %w", readErr)
		}
	}
}

// finish переводит задание в терминальный статус и публикует итоговое событие.
func (ds *DownloadService) finish(job *model.DownloadJob, inf *inflightJob, start time.Time, err error) {
	now := time.Now()
	job.CompletedAt = &now

	switch {
	case err == nil:
		job.Status = model.StatusCompleted
		job.ProgressPercent = 100
	case inf.cancelled.Load() || errors.Is(err, context.Canceled):
		job.Status = model.StatusCancelled
	default:
		job.Status = model.StatusFailed
		msg := err.Error()
		job.ErrorMessage = &msg
	}

	ds.persist(job)
	ds.publish(job)

	duration := time.Since(start)
	downloadsTotal.WithLabelValues(string(job.Status)).Inc()
	downloadDuration.Observe(duration.Seconds())

	switch job.Status {
	case model.StatusCompleted:
		ds.logger.Info("Скачивание завершено",
			slog.String("job_id", job.ID),
			slog.Int64("bytes", job.BytesTransferred),
			slog.Duration("duration", duration),
		)
	case model.StatusCancelled:
		ds.logger.Info("Скачивание отменено",
			slog.String("job_id", job.ID),
			slog.Int64("bytes", job.BytesTransferred),
		)
	default:
		ds.logger.Error("Скачивание завершилось ошибкой",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// persist сохраняет состояние задания независимо от контекста скачивания:
// отменённое задание тоже должно попасть в БД.
func (ds *DownloadService) persist(job *model.DownloadJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ds.jobs.Update(ctx, job); err != nil {
		ds.logger.Error("Не удалось сохранить состояние задания",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// publish отправляет событие прогресса подписчикам владельца.
func (ds *DownloadService) publish(job *model.DownloadJob) {
	ds.hub.Publish(job.OwnerID, ProgressEvent{
		JobID:            job.ID,
		Status:           job.Status,
		ProgressPercent:  job.ProgressPercent,
		BytesTransferred: job.BytesTransferred,
		TotalBytes:       job.TotalBytes,
		Error:            job.ErrorMessage,
		Timestamp:        time.Now(),
	})
}

// progressPercent считает прогресс 0..100.
// При неизвестном размере — примерно процент за мегабайт, не больше 99:
// 100 появляется только в терминальном статусе completed.
func progressPercent(bytes int64, total *int64) float64 {
	if total != nil && *total > 0 {
		pct := float64(bytes) / float64(*total) * 100
		if pct > 100 {
			pct = 100
		}
		return pct
	}
	pct := float64(bytes) / progressByteStep
	if pct > 99 {
		pct = 99
	}
	return pct
}
