package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/concerthall/internal/domain/model"
	"github.com/bigkaa/concerthall/internal/repository"
)

// In-memory реализации репозиториев для unit-тестов сервисов.
// Семантика повторяет SQL-реализации: ErrNotFound для отсутствующих
// записей, lazy expiration в кэше, агрегаты как суммы по записям.

// --- memCacheRepo ---

// memCacheRepo — кэш в памяти с honoring ExpiresAt.
type memCacheRepo struct {
	mu      sync.Mutex
	entries map[string]*model.CacheEntry
}

func newMemCacheRepo() *memCacheRepo {
	return &memCacheRepo{entries: make(map[string]*model.CacheEntry)}
}

func (r *memCacheRepo) Get(_ context.Context, key string) (*model.CacheEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || !entry.ExpiresAt.After(time.Now()) {
		return nil, repository.ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

func (r *memCacheRepo) Put(_ context.Context, entry *model.CacheEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *entry
	r.entries[entry.Key] = &cp
	return nil
}

func (r *memCacheRepo) Invalidate(_ context.Context, keyOrPrefix string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for key := range r.entries {
		if strings.HasPrefix(key, keyOrPrefix) {
			delete(r.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (r *memCacheRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for key, entry := range r.entries {
		if !entry.ExpiresAt.After(now) {
			delete(r.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (r *memCacheRepo) Stats(_ context.Context, now time.Time) (*repository.CacheStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &repository.CacheStats{}
	for _, entry := range r.entries {
		if entry.ExpiresAt.After(now) {
			stats.EntryCount++
			stats.BytesStored += int64(len(entry.Payload))
		} else {
			stats.ExpiredCount++
		}
	}
	return stats, nil
}

// --- memConcertRepo ---

type memConcertRepo struct {
	mu       sync.Mutex
	concerts map[string]*model.Concert
}

func newMemConcertRepo() *memConcertRepo {
	return &memConcertRepo{concerts: make(map[string]*model.Concert)}
}

func (r *memConcertRepo) Upsert(_ context.Context, key, artist string, date time.Time, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.concerts[key]; ok {
		return nil
	}
	r.concerts[key] = &model.Concert{
		ConcertKey:    key,
		Artist:        artist,
		Date:          date,
		IndexedAt:     now,
		LastUpdatedAt: now,
	}
	return nil
}

func (r *memConcertRepo) GetByKey(_ context.Context, key string) (*model.Concert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	concert, ok := r.concerts[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *concert
	return &cp, nil
}

func (r *memConcertRepo) List(_ context.Context, params repository.ConcertListParams) ([]*model.Concert, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.Concert
	for _, concert := range r.concerts {
		if params.Artist != nil && !strings.Contains(
			strings.ToLower(concert.Artist), strings.ToLower(*params.Artist)) {
			continue
		}
		cp := *concert
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ConcertKey < out[j].ConcertKey
	})

	total := len(out)
	if params.Offset > 0 {
		if params.Offset >= len(out) {
			out = nil
		} else {
			out = out[params.Offset:]
		}
	}
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, total, nil
}

func (r *memConcertRepo) UpdateAggregates(_ context.Context, key string, venue, location *string, agg *repository.RecordingAggregates) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	concert, ok := r.concerts[key]
	if !ok {
		return repository.ErrNotFound
	}
	concert.Venue = venue
	concert.Location = location
	concert.TotalRecordings = agg.TotalRecordings
	concert.TotalTracks = agg.TotalTracks
	concert.TotalSizeBytes = agg.TotalSizeBytes
	concert.TotalDownloads = agg.TotalDownloads
	if agg.IndexedAt.Before(concert.IndexedAt) {
		concert.IndexedAt = agg.IndexedAt
	}
	concert.LastUpdatedAt = time.Now()
	return nil
}

func (r *memConcertRepo) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.concerts[key]; !ok {
		return repository.ErrNotFound
	}
	delete(r.concerts, key)
	return nil
}

// --- memRecordingRepo ---

type storedRecording struct {
	rec        model.Recording
	concertKey string
}

type memRecordingRepo struct {
	mu         sync.Mutex
	recordings map[string]*storedRecording
}

func newMemRecordingRepo() *memRecordingRepo {
	return &memRecordingRepo{recordings: make(map[string]*storedRecording)}
}

func (r *memRecordingRepo) Upsert(_ context.Context, rec *model.Recording, concertKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *rec
	if existing, ok := r.recordings[rec.Identifier]; ok {
		// indexed_at сохраняется от первой вставки
		cp.IndexedAt = existing.rec.IndexedAt
	}
	r.recordings[rec.Identifier] = &storedRecording{rec: cp, concertKey: concertKey}
	return nil
}

func (r *memRecordingRepo) GetByIdentifier(_ context.Context, identifier string) (*model.Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.recordings[identifier]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := stored.rec
	return &cp, nil
}

func (r *memRecordingRepo) GetConcertKey(_ context.Context, identifier string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.recordings[identifier]
	if !ok {
		return "", repository.ErrNotFound
	}
	return stored.concertKey, nil
}

// byConcert возвращает записи концерта от ранних к поздним (под мьютексом).
func (r *memRecordingRepo) byConcert(concertKey string) []*storedRecording {
	var out []*storedRecording
	for _, stored := range r.recordings {
		if stored.concertKey == concertKey {
			out = append(out, stored)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].rec.IndexedAt.Equal(out[j].rec.IndexedAt) {
			return out[i].rec.IndexedAt.Before(out[j].rec.IndexedAt)
		}
		return out[i].rec.Identifier < out[j].rec.Identifier
	})
	return out
}

func (r *memRecordingRepo) ListByConcertKey(_ context.Context, concertKey string) ([]*model.Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.Recording
	for _, stored := range r.byConcert(concertKey) {
		cp := stored.rec
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memRecordingRepo) Aggregates(_ context.Context, concertKey string) (*repository.RecordingAggregates, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.byConcert(concertKey)
	if len(members) == 0 {
		return nil, repository.ErrNotFound
	}

	agg := &repository.RecordingAggregates{
		IndexedAt:     members[0].rec.IndexedAt,
		LastUpdatedAt: members[0].rec.UpdatedAt,
	}
	for _, stored := range members {
		agg.TotalRecordings++
		agg.TotalTracks += stored.rec.TotalTracks
		agg.TotalSizeBytes += stored.rec.TotalSizeBytes
		agg.TotalDownloads += stored.rec.Downloads
		if stored.rec.IndexedAt.Before(agg.IndexedAt) {
			agg.IndexedAt = stored.rec.IndexedAt
		}
		if stored.rec.UpdatedAt.After(agg.LastUpdatedAt) {
			agg.LastUpdatedAt = stored.rec.UpdatedAt
		}
	}
	return agg, nil
}

func (r *memRecordingRepo) ResolveVenue(_ context.Context, concertKey string) (venue, location *string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.byConcert(concertKey)
	venue = mostFrequent(members, func(rec *model.Recording) *string { return rec.Venue })
	location = mostFrequent(members, func(rec *model.Recording) *string { return rec.Location })
	return venue, location, nil
}

// mostFrequent — самое частое непустое значение; при равенстве побеждает
// значение из самой ранней записи (members отсортированы по indexed_at).
func mostFrequent(members []*storedRecording, field func(*model.Recording) *string) *string {
	counts := make(map[string]int)
	for _, stored := range members {
		if v := field(&stored.rec); v != nil && *v != "" {
			counts[*v]++
		}
	}

	var best *string
	bestCount := 0
	for _, stored := range members {
		v := field(&stored.rec)
		if v == nil || *v == "" {
			continue
		}
		if counts[*v] > bestCount {
			cp := *v
			best = &cp
			bestCount = counts[*v]
		}
	}
	return best
}

// --- memDownloadRepo ---

type memDownloadRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.DownloadJob
}

func newMemDownloadRepo() *memDownloadRepo {
	return &memDownloadRepo{jobs: make(map[string]*model.DownloadJob)}
}

func (r *memDownloadRepo) Create(_ context.Context, job *model.DownloadJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *memDownloadRepo) GetOwned(_ context.Context, id, ownerID string) (*model.DownloadJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || job.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *memDownloadRepo) ListByOwner(_ context.Context, params repository.DownloadListParams) ([]*model.DownloadJob, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.DownloadJob
	for _, job := range r.jobs {
		if job.OwnerID != params.OwnerID {
			continue
		}
		if params.Status != nil && job.Status != *params.Status {
			continue
		}
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, len(out), nil
}

func (r *memDownloadRepo) Update(_ context.Context, job *model.DownloadJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *memDownloadRepo) DeleteOwned(_ context.Context, id, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || job.OwnerID != ownerID {
		return repository.ErrNotFound
	}
	delete(r.jobs, id)
	return nil
}
