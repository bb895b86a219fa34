// concert.go — Concert: агрегат записей одного выступления.
package model

import "time"

// Concert — логический концерт: множество Recording, документирующих
// одно и то же выступление (канонический исполнитель + календарная дата).
// Агрегатные поля пересчитываются синхронно при каждом ingest,
// затрагивающем концерт, и никогда не отдаются устаревшими
// относительно известных на момент вызова Recording.
type Concert struct {
	// ConcertKey — стабильный ключ "canonical_artist|YYYY-MM-DD"
	ConcertKey string `json:"concert_key"`
	// Artist — канонический исполнитель
	Artist string `json:"artist"`
	// Date — календарная дата выступления (время суток игнорируется)
	Date time.Time `json:"date"`
	// Venue — площадка, выбранная по большинству среди участников
	Venue *string `json:"venue,omitempty"`
	// Location — место, выбранное по большинству среди участников
	Location *string `json:"location,omitempty"`
	// TotalRecordings — количество записей-участников (== len(Recordings))
	TotalRecordings int `json:"total_recordings"`
	// TotalTracks — сумма TotalTracks по участникам
	TotalTracks int `json:"total_tracks"`
	// TotalSizeBytes — сумма TotalSizeBytes по участникам
	TotalSizeBytes int64 `json:"total_size"`
	// TotalDownloads — сумма Downloads по участникам
	TotalDownloads int64 `json:"total_downloads"`
	// Recordings — записи-участники (заполняется в detail-ответах)
	Recordings []*Recording `json:"recordings,omitempty"`
	// IndexedAt — время создания концерта в индексе
	IndexedAt time.Time `json:"indexed_at"`
	// LastUpdatedAt — время последнего пересчёта агрегатов
	LastUpdatedAt time.Time `json:"last_updated"`
}
