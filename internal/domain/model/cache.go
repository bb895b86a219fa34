// cache.go — CacheEntry: запись TTL-кэша внешних ответов архива.
package model

import "time"

// CacheKind — тип кэшируемых данных. TTL выбирается вызывающим кодом
// по типу, сам кэш TTL-агностичен.
type CacheKind string

const (
	// CacheKindSearch — результаты поиска (короткий TTL)
	CacheKindSearch CacheKind = "search"
	// CacheKindItemMetadata — метаданные записи
	CacheKindItemMetadata CacheKind = "item_metadata"
	// CacheKindDirectory — листинги директорий
	CacheKindDirectory CacheKind = "directory"
)

// CacheEntry — одна запись кэша. Key — детерминированный хэш
// логического запроса (endpoint + нормализованные параметры).
// Записи после ExpiresAt считаются отсутствующими независимо от
// физического наличия (lazy eviction).
type CacheEntry struct {
	// Key — детерминированный ключ записи
	Key string
	// Payload — сериализованный ответ (JSON)
	Payload []byte
	// Kind — тип данных
	Kind CacheKind
	// CreatedAt — время записи
	CreatedAt time.Time
	// ExpiresAt — время истечения; инвариант ExpiresAt > CreatedAt
	ExpiresAt time.Time
}
