// types.go — гибкие JSON-типы для ответов архива.
// Архив отдаёт поля непоследовательно: строка или массив строк,
// число или строка с числом. Кастомные Unmarshaler сглаживают это.
package archive

import (
	"encoding/json"
	"path"
	"strconv"
	"strings"
)

// stringOrSet — поле, приходящее как строка или массив строк.
// При массиве берётся первый элемент.
type stringOrSet string

func (s *stringOrSet) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		var arr []string
		if err := json.Unmarshal(data, &arr); err != nil {
			return err
		}
		if len(arr) > 0 {
			*s = stringOrSet(arr[0])
		}
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = stringOrSet(str)
	return nil
}

// String возвращает значение как обычную строку.
func (s stringOrSet) String() string { return string(s) }

// stringOrInt — числовое поле, приходящее как число или строка.
// Нечисловые строки дают 0 (архив иногда пишет "12/24" в track).
type stringOrInt int64

func (n *stringOrInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*n = 0
		return nil
	}

	// "12/24" → 12
	if idx := strings.IndexByte(raw, '/'); idx > 0 {
		raw = raw[:idx]
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		*n = 0
		return nil //nolint:nilerr // нечисловое значение трактуем как отсутствующее
	}
	*n = stringOrInt(v)
	return nil
}

// Int64 возвращает значение как int64.
func (n stringOrInt) Int64() int64 { return int64(n) }

// Int возвращает значение как int.
func (n stringOrInt) Int() int { return int(n) }

// audioFormats — форматы файлов, считающиеся аудио-треками.
var audioFormats = map[string]bool{
	"VBR MP3":    true,
	"Flac":       true,
	"Ogg Vorbis": true,
	"WAVE":       true,
}

// IsAudio сообщает, является ли файл аудио-треком.
func (f *FileDoc) IsAudio() bool {
	return audioFormats[f.Format]
}

// Категории файлов записи в листинге каталога.
const (
	CategoryAudio    = "audio"
	CategoryImage    = "image"
	CategoryMetadata = "metadata"
	CategoryOther    = "other"
)

// categoryByExtension — категория файла по расширению имени.
var categoryByExtension = map[string]string{
	".flac": CategoryAudio,
	".mp3":  CategoryAudio,
	".ogg":  CategoryAudio,
	".wav":  CategoryAudio,
	".m4a":  CategoryAudio,

	".png":  CategoryImage,
	".jpg":  CategoryImage,
	".jpeg": CategoryImage,
	".gif":  CategoryImage,
	".bmp":  CategoryImage,

	".txt":     CategoryMetadata,
	".xml":     CategoryMetadata,
	".json":    CategoryMetadata,
	".ffp":     CategoryMetadata,
	".torrent": CategoryMetadata,
	".sqlite":  CategoryMetadata,
}

// FileCategory определяет категорию файла по расширению имени.
func FileCategory(name string) string {
	if c, ok := categoryByExtension[strings.ToLower(path.Ext(name))]; ok {
		return c
	}
	return CategoryOther
}

// ParseLength переводит поле length ("123.45" или "мм:сс") в секунды.
// Возвращает nil, если поле пустое или нераспознаваемо.
func (f *FileDoc) ParseLength() *int {
	if f.Length == "" {
		return nil
	}

	// Формат "мм:сс" или "чч:мм:сс"
	if strings.Contains(f.Length, ":") {
		parts := strings.Split(f.Length, ":")
		total := 0
		for _, p := range parts {
			v, err := strconv.Atoi(p)
			if err != nil {
				return nil
			}
			total = total*60 + v
		}
		return &total
	}

	// Формат секунд с дробной частью
	v, err := strconv.ParseFloat(f.Length, 64)
	if err != nil {
		return nil
	}
	sec := int(v)
	return &sec
}
