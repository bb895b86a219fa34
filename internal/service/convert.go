// convert.go — преобразование ответов внешнего архива в доменные модели.
package service

import (
	"sort"
	"time"

	"github.com/bigkaa/concerthall/internal/archive"
	"github.com/bigkaa/concerthall/internal/domain/model"
)

// Форматы дат, встречающиеся в метаданных архива.
var archiveDateLayouts = []string{
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseArchiveDate разбирает дату выступления из метаданных архива.
// Возвращает nil для пустых и нераспознанных значений.
func parseArchiveDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range archiveDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			// Значима только календарная дата
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	return nil
}

// optional возвращает указатель на строку или nil для пустой строки.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// docToRecording строит Recording из документа поиска.
// Документ не содержит треков — они появятся при чтении метаданных.
func docToRecording(doc archive.ItemDoc) *model.Recording {
	return &model.Recording{
		Identifier: doc.Identifier,
		Title:      doc.Title,
		Artist:     optional(doc.Creator.String()),
		Date:       parseArchiveDate(doc.Date),
		Venue:      optional(doc.Venue),
		Location:   optional(doc.Coverage),
		Source:     optional(doc.Source),
		Downloads:  doc.Downloads,
	}
}

// metadataToRecording строит полный Recording из метаданных записи.
// Треки — только аудио-файлы, отсортированные по номеру трека, затем по имени.
func metadataToRecording(meta *archive.ItemMetadata) *model.Recording {
	rec := &model.Recording{
		Identifier: meta.Metadata.Identifier,
		Title:      meta.Metadata.Title.String(),
		Artist:     optional(meta.Metadata.Creator.String()),
		Date:       parseArchiveDate(meta.Metadata.Date),
		Venue:      optional(meta.Metadata.Venue),
		Location:   optional(meta.Metadata.Coverage),
		Source:     optional(meta.Metadata.Source),
		Taper:      optional(meta.Metadata.Taper),
		Lineage:    optional(meta.Metadata.Lineage),
	}

	for i := range meta.Files {
		f := &meta.Files[i]
		if !f.IsAudio() {
			continue
		}
		rec.Tracks = append(rec.Tracks, fileDocToTrack(f))
	}

	sort.SliceStable(rec.Tracks, func(i, j int) bool {
		a, b := rec.Tracks[i], rec.Tracks[j]
		switch {
		case a.TrackNumber == nil && b.TrackNumber == nil:
			return a.Filename < b.Filename
		case a.TrackNumber == nil:
			return false
		case b.TrackNumber == nil:
			return true
		case *a.TrackNumber != *b.TrackNumber:
			return *a.TrackNumber < *b.TrackNumber
		default:
			return a.Filename < b.Filename
		}
	})

	rec.TotalTracks = len(rec.Tracks)
	for _, t := range rec.Tracks {
		if t.FileSizeBytes != nil {
			rec.TotalSizeBytes += *t.FileSizeBytes
		}
	}

	return rec
}

// fileDocToTrack строит Track из описания файла.
// Название трека — title файла, при его отсутствии — имя файла.
func fileDocToTrack(f *archive.FileDoc) model.Track {
	track := model.Track{
		Title:           f.Title,
		Filename:        f.Name,
		FileFormat:      optional(f.Format),
		DurationSeconds: f.ParseLength(),
	}
	if track.Title == "" {
		track.Title = f.Name
	}
	if n := f.Track.Int(); n > 0 {
		track.TrackNumber = &n
	}
	if size := f.Size.Int64(); size > 0 {
		track.FileSizeBytes = &size
	}
	return track
}
