// download.go — DownloadJob: задание на скачивание файла из архива.
package model

import "time"

// DownloadStatus — статус задания на скачивание.
type DownloadStatus string

// Жизненный цикл: pending → downloading → {completed | failed};
// pending|downloading → cancelled. Из терминального статуса переходов нет.
const (
	StatusPending     DownloadStatus = "pending"
	StatusDownloading DownloadStatus = "downloading"
	StatusCompleted   DownloadStatus = "completed"
	StatusFailed      DownloadStatus = "failed"
	StatusCancelled   DownloadStatus = "cancelled"
)

// Terminal сообщает, является ли статус терминальным.
func (s DownloadStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// DownloadJob — задание на скачивание одного файла из внешнего архива.
// Жизненным циклом владеет исключительно Download Orchestrator.
type DownloadJob struct {
	// ID — UUID задания
	ID string `json:"id"`
	// OwnerID — непрозрачный идентификатор владельца (sub из JWT)
	OwnerID string `json:"owner_id"`
	// ArchiveIdentifier — identifier записи в архиве
	ArchiveIdentifier string `json:"archive_identifier"`
	// Filename — имя файла внутри записи
	Filename string `json:"filename"`
	// Status — текущий статус задания
	Status DownloadStatus `json:"status"`
	// ProgressPercent — прогресс 0..100
	ProgressPercent float64 `json:"progress"`
	// BytesTransferred — передано байт
	BytesTransferred int64 `json:"bytes_transferred"`
	// TotalBytes — ожидаемый размер (nil, если Content-Length неизвестен)
	TotalBytes *int64 `json:"total_bytes,omitempty"`
	// FilePath — путь к сохранённому файлу (после completed)
	FilePath *string `json:"file_path,omitempty"`
	// ErrorMessage — причина failed
	ErrorMessage *string `json:"error_message,omitempty"`
	// CreatedAt — время создания задания
	CreatedAt time.Time `json:"created_at"`
	// StartedAt — время перехода в downloading
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt — время перехода в терминальный статус
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
