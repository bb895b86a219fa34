// progress.go — pub/sub шина событий прогресса скачивания.
// Подписчики (SSE-потоки) получают события своего владельца; медленный
// подписчик не блокирует оркестратор — событие для него отбрасывается.
package service

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/concerthall/internal/domain/model"
)

// Размер буфера канала подписчика.
const subscriberBufferSize = 16

// Prometheus-метрики шины прогресса.
var (
	progressSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ch_progress_subscribers",
		Help: "Текущее количество подписчиков на события прогресса.",
	})
	progressDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ch_progress_dropped_events_total",
		Help: "Количество событий, отброшенных из-за медленных подписчиков.",
	})
)

// ProgressEvent — событие изменения состояния задания скачивания.
type ProgressEvent struct {
	// JobID — идентификатор задания
	JobID string `json:"job_id"`
	// Status — текущий статус задания
	Status model.DownloadStatus `json:"status"`
	// ProgressPercent — прогресс 0..100 (не больше 99 при неизвестном размере)
	ProgressPercent float64 `json:"progress_percent"`
	// BytesTransferred — передано байт
	BytesTransferred int64 `json:"bytes_transferred"`
	// TotalBytes — полный размер файла (nil, если архив не сообщил)
	TotalBytes *int64 `json:"total_bytes,omitempty"`
	// Error — сообщение об ошибке для статуса failed
	Error *string `json:"error,omitempty"`
	// Timestamp — момент события
	Timestamp time.Time `json:"timestamp"`
}

// subscriber — один подписчик шины.
type subscriber struct {
	ownerID string
	ch      chan ProgressEvent
}

// ProgressHub — шина событий прогресса с маршрутизацией по владельцу.
type ProgressHub struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewProgressHub создаёт шину событий прогресса.
func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		subs: make(map[*subscriber]struct{}),
	}
}

// Subscribe подписывает на события заданий владельца.
// Возвращает канал событий и функцию отписки; отписка закрывает канал.
func (h *ProgressHub) Subscribe(ownerID string) (<-chan ProgressEvent, func()) {
	sub := &subscriber{
		ownerID: ownerID,
		ch:      make(chan ProgressEvent, subscriberBufferSize),
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	progressSubscribers.Inc()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			close(sub.ch)
			progressSubscribers.Dec()
		})
	}
	return sub.ch, unsubscribe
}

// Publish рассылает событие подписчикам владельца.
// Отправка неблокирующая: при переполненном буфере событие отбрасывается.
func (h *ProgressHub) Publish(ownerID string, event ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		if sub.ownerID != ownerID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			progressDroppedTotal.Inc()
		}
	}
}
