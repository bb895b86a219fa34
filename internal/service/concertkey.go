// concertkey.go — каноникализация исполнителя и построение ключа концерта.
// Ключ — чистая функция от (исполнитель, дата): две записи одного
// выступления всегда попадают в один концерт.
package service

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// concertKeySeparator разделяет исполнителя и дату в ключе концерта.
const concertKeySeparator = "|"

// CanonicalArtist приводит имя исполнителя к канонической форме:
// нижний регистр, пунктуация выбрасывается, пробельные прогоны
// схлопываются. "Grateful Dead." и "Grateful, Dead" дают одну форму.
// Пустой результат означает, что исполнитель неизвестен.
func CanonicalArtist(artist string) string {
	var b strings.Builder
	b.Grow(len(artist))
	for _, r := range strings.ToLower(artist) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			// Пунктуация и пробелы становятся границей слова
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// ConcertKey строит ключ концерта из исполнителя и даты выступления.
// Формат: "<канонический исполнитель>|YYYY-MM-DD".
func ConcertKey(artist string, date time.Time) string {
	return CanonicalArtist(artist) + concertKeySeparator + date.Format("2006-01-02")
}

// ParseConcertKey разбирает ключ концерта на исполнителя и дату.
// Используется для валидации ключа из URL.
func ParseConcertKey(key string) (artist string, date time.Time, err error) {
	idx := strings.LastIndex(key, concertKeySeparator)
	if idx <= 0 || idx == len(key)-1 {
		return "", time.Time{}, fmt.Errorf("%w: некорректный ключ концерта %q", ErrValidation, key)
	}

	artist = key[:idx]
	date, err = time.Parse("2006-01-02", key[idx+1:])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: некорректная дата в ключе концерта %q", ErrValidation, key)
	}
	return artist, date, nil
}
