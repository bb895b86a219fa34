package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// newTestClient создаёт клиент архива для тестового сервера.
func newTestClient(serverURL string) *Client {
	return New(serverURL, 5*time.Second, slog.Default())
}

// --- Построение запросов ---

// TestBuildLuceneQuery проверяет сборку lucene-выражения поиска.
func TestBuildLuceneQuery(t *testing.T) {
	date := func(y int, m time.Month, d int) *time.Time {
		v := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		return &v
	}

	tests := []struct {
		name   string
		params SearchParams
		want   string
	}{
		{
			"только коллекция",
			SearchParams{Collection: "etree"},
			"collection:etree",
		},
		{
			"исключение коллекции",
			SearchParams{Collection: "etree", ExcludeCollection: "stream_only"},
			"collection:etree AND NOT collection:stream_only",
		},
		{
			"текстовый запрос",
			SearchParams{Collection: "etree", Query: "barton hall"},
			"collection:etree AND (barton hall)",
		},
		{
			"исполнитель и площадка",
			SearchParams{Collection: "etree", Artist: "Grateful Dead", Venue: "Barton Hall"},
			`collection:etree AND creator:"Grateful Dead" AND venue:"Barton Hall"`,
		},
		{
			"диапазон дат",
			SearchParams{
				Collection: "etree",
				DateFrom:   date(1977, 5, 1),
				DateTo:     date(1977, 5, 31),
			},
			"collection:etree AND date:[1977-05-01 TO 1977-05-31]",
		},
		{
			"открытая верхняя граница",
			SearchParams{Collection: "etree", DateFrom: date(1977, 5, 1)},
			"collection:etree AND date:[1977-05-01 TO *]",
		},
		{
			"открытая нижняя граница",
			SearchParams{Collection: "etree", DateTo: date(1977, 5, 31)},
			"collection:etree AND date:[* TO 1977-05-31]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildLuceneQuery(tt.params); got != tt.want {
				t.Errorf("buildLuceneQuery = %q, ожидался %q", got, tt.want)
			}
		})
	}
}

// TestBuildSortParam проверяет whitelist полей сортировки.
func TestBuildSortParam(t *testing.T) {
	tests := []struct {
		sortBy, sortOrder string
		want              string
	}{
		{"date", "", "date desc"},
		{"date", "asc", "date asc"},
		{"date", "ASC", "date asc"},
		{"addeddate", "desc", "addeddate desc"},
		{"title", "asc", "title asc"},
		{"relevance", "desc", ""},
		{"downloads; DROP TABLE", "asc", ""},
		{"", "", ""},
	}

	for _, tt := range tests {
		if got := buildSortParam(tt.sortBy, tt.sortOrder); got != tt.want {
			t.Errorf("buildSortParam(%q, %q) = %q, ожидался %q",
				tt.sortBy, tt.sortOrder, got, tt.want)
		}
	}
}

// TestBuildSearchQuery проверяет итоговый query string.
func TestBuildSearchQuery(t *testing.T) {
	raw := buildSearchQuery(SearchParams{
		Collection: "etree",
		Query:      "cornell",
		SortBy:     "date",
		SortOrder:  "desc",
		Page:       2,
		PerPage:    50,
	})

	values, err := url.ParseQuery(raw)
	if err != nil {
		t.Fatalf("некорректный query string: %v", err)
	}

	if q := values.Get("q"); q != "collection:etree AND (cornell)" {
		t.Errorf("q = %q", q)
	}
	if values.Get("output") != "json" {
		t.Errorf("output = %q, ожидался json", values.Get("output"))
	}
	if values.Get("rows") != "50" || values.Get("page") != "2" {
		t.Errorf("rows/page = %q/%q", values.Get("rows"), values.Get("page"))
	}
	if values.Get("sort[0]") != "date desc" {
		t.Errorf("sort[0] = %q", values.Get("sort[0]"))
	}
	if fields := values["fl[]"]; len(fields) == 0 {
		t.Error("fl[] не заполнен")
	}

	// relevance — без sort-параметра
	raw = buildSearchQuery(SearchParams{Collection: "etree", SortBy: "relevance", Page: 1, PerPage: 20})
	values, _ = url.ParseQuery(raw)
	if _, ok := values["sort[0]"]; ok {
		t.Error("для relevance sort[0] не должен передаваться")
	}
}

// --- HTTP-операции ---

// TestClient_Search проверяет разбор ответа advancedsearch,
// включая creator-массив.
func TestClient_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/advancedsearch.php" {
			t.Errorf("path = %q, ожидался /advancedsearch.php", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"response": {
				"numFound": 2,
				"docs": [
					{"identifier": "gd1977-05-08", "title": "Barton Hall", "creator": "Grateful Dead", "downloads": 100},
					{"identifier": "various-01", "title": "Set", "creator": ["Phish", "Trey Anastasio"]}
				]
			}
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	result, err := client.Search(context.Background(), SearchParams{Collection: "etree", Page: 1, PerPage: 20})
	if err != nil {
		t.Fatalf("Search ошибка: %v", err)
	}

	if result.Total != 2 {
		t.Errorf("Total = %d, ожидался 2", result.Total)
	}
	if len(result.Docs) != 2 {
		t.Fatalf("len(Docs) = %d, ожидался 2", len(result.Docs))
	}
	if result.Docs[0].Creator.String() != "Grateful Dead" {
		t.Errorf("Creator = %q", result.Docs[0].Creator.String())
	}
	// Из creator-массива берётся первый элемент
	if result.Docs[1].Creator.String() != "Phish" {
		t.Errorf("Creator из массива = %q, ожидался Phish", result.Docs[1].Creator.String())
	}
	if result.Docs[0].Downloads != 100 {
		t.Errorf("Downloads = %d", result.Docs[0].Downloads)
	}
}

// TestClient_GetItemMetadata проверяет чтение метаданных
// и ErrNotFound для пустого ответа архива.
func TestClient_GetItemMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/known-item") {
			_, _ = w.Write([]byte(`{
				"metadata": {"identifier": "known-item", "title": "Show"},
				"files": [{"name": "t01.flac", "format": "Flac", "size": 12345, "track": "1/24"}]
			}`))
			return
		}
		// Архив отвечает 200 с пустым объектом для несуществующих identifier
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ctx := context.Background()

	meta, err := client.GetItemMetadata(ctx, "known-item")
	if err != nil {
		t.Fatalf("GetItemMetadata ошибка: %v", err)
	}
	if meta.Metadata.Identifier != "known-item" {
		t.Errorf("Identifier = %q", meta.Metadata.Identifier)
	}
	if len(meta.Files) != 1 {
		t.Fatalf("len(Files) = %d, ожидался 1", len(meta.Files))
	}
	// size числом, track в форме "N/M"
	if meta.Files[0].Size.Int64() != 12345 {
		t.Errorf("Size = %d, ожидался 12345", meta.Files[0].Size.Int64())
	}
	if meta.Files[0].Track.Int() != 1 {
		t.Errorf("Track = %d, ожидался 1", meta.Files[0].Track.Int())
	}

	if _, err := client.GetItemMetadata(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ошибка = %v, ожидалась ErrNotFound", err)
	}
}

// TestClient_OpenFileStream проверяет streaming-скачивание и коды ошибок.
func TestClient_OpenFileStream(t *testing.T) {
	content := "file payload"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/download/item-1/t01.flac":
			_, _ = w.Write([]byte(content))
		case "/download/item-1/missing.flac":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ctx := context.Background()

	stream, err := client.OpenFileStream(ctx, "item-1", "t01.flac")
	if err != nil {
		t.Fatalf("OpenFileStream ошибка: %v", err)
	}
	defer stream.Body.Close()

	if stream.ContentLength == nil || *stream.ContentLength != int64(len(content)) {
		t.Errorf("ContentLength = %v, ожидался %d", stream.ContentLength, len(content))
	}
	data, err := io.ReadAll(stream.Body)
	if err != nil {
		t.Fatalf("чтение потока: %v", err)
	}
	if string(data) != content {
		t.Errorf("данные = %q, ожидались %q", data, content)
	}

	if _, err := client.OpenFileStream(ctx, "item-1", "missing.flac"); !errors.Is(err, ErrNotFound) {
		t.Errorf("404: ошибка = %v, ожидалась ErrNotFound", err)
	}
	if _, err := client.OpenFileStream(ctx, "item-2", "boom.flac"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("500: ошибка = %v, ожидалась ErrUnavailable", err)
	}
}

// TestClient_OpenFileStream_LongTransfer проверяет, что чтение тела
// не ограничено общим таймаутом клиента: скачивание, длящееся дольше
// CH_ARCHIVE_TIMEOUT, дочитывается до конца.
func TestClient_OpenFileStream_LongTransfer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Length", "10")
		w.WriteHeader(http.StatusOK)
		for range 10 {
			_, _ = w.Write([]byte("x"))
			flusher.Flush()
			time.Sleep(20 * time.Millisecond)
		}
	}))
	defer server.Close()

	// Таймаут заметно короче длительности передачи тела
	client := New(server.URL, 50*time.Millisecond, slog.Default())

	stream, err := client.OpenFileStream(context.Background(), "item-1", "t01.flac")
	if err != nil {
		t.Fatalf("OpenFileStream ошибка: %v", err)
	}
	defer stream.Body.Close()

	data, err := io.ReadAll(stream.Body)
	if err != nil {
		t.Fatalf("чтение медленного потока: %v", err)
	}
	if len(data) != 10 {
		t.Errorf("прочитано %d байт, ожидалось 10", len(data))
	}
}

// TestClient_OpenFileStream_HeaderTimeout проверяет, что ожидание
// заголовков ответа скачивания всё же ограничено таймаутом.
func TestClient_OpenFileStream_HeaderTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	client := New(server.URL, 50*time.Millisecond, slog.Default())

	if _, err := client.OpenFileStream(context.Background(), "item-1", "t01.flac"); !errors.Is(err, ErrTimeout) {
		t.Errorf("таймаут заголовков: ошибка = %v, ожидалась ErrTimeout", err)
	}
}

// TestClient_ErrorClassification проверяет разделение ошибок:
// 404, 5xx и таймаут.
func TestClient_ErrorClassification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "slow"):
			time.Sleep(200 * time.Millisecond)
		case strings.Contains(r.URL.Path, "broken"):
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	ctx := context.Background()

	client := newTestClient(server.URL)
	if _, err := client.GetItemMetadata(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("404: ошибка = %v, ожидалась ErrNotFound", err)
	}
	if _, err := client.GetItemMetadata(ctx, "broken"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("502: ошибка = %v, ожидалась ErrUnavailable", err)
	}

	// Клиент с таймаутом короче задержки сервера
	slowClient := New(server.URL, 50*time.Millisecond, slog.Default())
	if _, err := slowClient.GetItemMetadata(ctx, "slow"); !errors.Is(err, ErrTimeout) {
		t.Errorf("таймаут: ошибка = %v, ожидалась ErrTimeout", err)
	}
}

// --- Гибкие JSON-типы ---

// TestStringOrInt проверяет разбор числовых полей архива.
func TestStringOrInt(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{`123`, 123},
		{`"123"`, 123},
		{`"12/24"`, 12},
		{`""`, 0},
		{`null`, 0},
		{`"не число"`, 0},
	}

	for _, tt := range tests {
		var n stringOrInt
		if err := json.Unmarshal([]byte(tt.input), &n); err != nil {
			t.Errorf("Unmarshal(%s) ошибка: %v", tt.input, err)
			continue
		}
		if n.Int64() != tt.want {
			t.Errorf("Unmarshal(%s) = %d, ожидался %d", tt.input, n.Int64(), tt.want)
		}
	}
}

// TestFileDoc_IsAudio проверяет распознавание аудио-форматов.
func TestFileDoc_IsAudio(t *testing.T) {
	audio := []string{"VBR MP3", "Flac", "Ogg Vorbis", "WAVE"}
	for _, format := range audio {
		f := FileDoc{Format: format}
		if !f.IsAudio() {
			t.Errorf("IsAudio(%q) = false, ожидался true", format)
		}
	}

	other := []string{"Text", "JPEG", "Metadata", "Checksums", ""}
	for _, format := range other {
		f := FileDoc{Format: format}
		if f.IsAudio() {
			t.Errorf("IsAudio(%q) = true, ожидался false", format)
		}
	}
}

// TestFileCategory проверяет категоризацию файлов по расширению.
func TestFileCategory(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"gd77-05-08d1t01.flac", CategoryAudio},
		{"track.MP3", CategoryAudio},
		{"cover.jpg", CategoryImage},
		{"folder.PNG", CategoryImage},
		{"info.txt", CategoryMetadata},
		{"gd1977_meta.xml", CategoryMetadata},
		{"checksums.ffp", CategoryMetadata},
		{"item.torrent", CategoryMetadata},
		{"readme", CategoryOther},
		{"data.bin", CategoryOther},
	}

	for _, tt := range tests {
		if got := FileCategory(tt.name); got != tt.want {
			t.Errorf("FileCategory(%q) = %q, ожидался %q", tt.name, got, tt.want)
		}
	}
}

// TestFileDoc_ParseLength проверяет разбор длительности трека.
func TestFileDoc_ParseLength(t *testing.T) {
	tests := []struct {
		input string
		want  *int
	}{
		{"600.53", intPtr(600)},
		{"10:00", intPtr(600)},
		{"1:02:03", intPtr(3723)},
		{"42", intPtr(42)},
		{"", nil},
		{"长度", nil},
		{"a:b", nil},
	}

	for _, tt := range tests {
		f := FileDoc{Length: tt.input}
		got := f.ParseLength()
		switch {
		case tt.want == nil && got != nil:
			t.Errorf("ParseLength(%q) = %d, ожидался nil", tt.input, *got)
		case tt.want != nil && got == nil:
			t.Errorf("ParseLength(%q) = nil, ожидался %d", tt.input, *tt.want)
		case tt.want != nil && *got != *tt.want:
			t.Errorf("ParseLength(%q) = %d, ожидался %d", tt.input, *got, *tt.want)
		}
	}
}

func intPtr(v int) *int { return &v }
