// Пакет model — доменные модели Concert Hall.
// Recording — одна загрузка (запись концерта) из внешнего архива.
package model

import "time"

// Track — один трек внутри Recording.
// Filename уникален в пределах записи и служит ключом для скачивания.
type Track struct {
	// TrackNumber — номер трека (nil, если архив его не сообщил)
	TrackNumber *int `json:"track_number,omitempty"`
	// Title — название трека
	Title string `json:"title"`
	// Filename — имя файла в архиве (уникально в пределах Recording)
	Filename string `json:"filename"`
	// FileFormat — формат файла (Flac, VBR MP3, ...)
	FileFormat *string `json:"file_format,omitempty"`
	// FileSizeBytes — размер файла в байтах
	FileSizeBytes *int64 `json:"file_size,omitempty"`
	// DurationSeconds — длительность в секундах
	DurationSeconds *int `json:"duration,omitempty"`
}

// Recording — одна загрузка из внешнего архива, документирующая выступление.
// Неизменяема после получения, кроме счётчика Downloads и полного refresh
// при повторном ingest того же identifier.
type Recording struct {
	// Identifier — уникальный идентификатор, назначенный архивом
	Identifier string `json:"identifier"`
	// Title — заголовок записи
	Title string `json:"title"`
	// Artist — исполнитель (creator из метаданных архива)
	Artist *string `json:"artist,omitempty"`
	// Date — дата выступления (не дата загрузки в архив)
	Date *time.Time `json:"date,omitempty"`
	// Venue — площадка (структурное поле метаданных, не парсинг title)
	Venue *string `json:"venue,omitempty"`
	// Location — город/место
	Location *string `json:"location,omitempty"`
	// Source — источник записи (аппаратура тейпера)
	Source *string `json:"source,omitempty"`
	// Taper — автор записи
	Taper *string `json:"taper,omitempty"`
	// Lineage — цепочка обработки записи
	Lineage *string `json:"lineage,omitempty"`
	// TotalTracks — количество аудио-треков
	TotalTracks int `json:"total_tracks"`
	// TotalSizeBytes — суммарный размер аудио-файлов
	TotalSizeBytes int64 `json:"total_size"`
	// Downloads — счётчик скачиваний по данным архива
	Downloads int64 `json:"downloads"`
	// Tracks — упорядоченный список треков
	Tracks []Track `json:"tracks,omitempty"`
	// IndexedAt — время первого попадания в локальный индекс
	IndexedAt time.Time `json:"indexed_at"`
	// UpdatedAt — время последнего refresh
	UpdatedAt time.Time `json:"updated_at"`
}
