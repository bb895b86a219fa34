// Пакет archive — HTTP-клиент внешнего цифрового архива (archive.org-совместимый API).
// Четыре операции: поиск (advancedsearch), метаданные записи, листинг файлов,
// streaming-скачивание файла. Все вызовы с таймаутом из конфигурации;
// таймаут и транспортные ошибки разделены на ErrTimeout / ErrUnavailable.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Ошибки клиента архива.
var (
	// ErrNotFound — identifier или файл не найден в архиве.
	ErrNotFound = errors.New("запись не найдена в архиве")
	// ErrTimeout — запрос к архиву превысил таймаут.
	ErrTimeout = errors.New("таймаут запроса к архиву")
	// ErrUnavailable — архив недоступен или вернул ошибку.
	ErrUnavailable = errors.New("архив недоступен")
)

// SearchParams — параметры поиска записей в архиве.
type SearchParams struct {
	// Query — свободный текстовый запрос (пусто — без текстового фильтра)
	Query string
	// Collection — коллекция архива (например, etree)
	Collection string
	// ExcludeCollection — исключаемая коллекция (например, stream_only)
	ExcludeCollection string
	// Artist — фильтр по исполнителю (creator)
	Artist string
	// Venue — фильтр по площадке
	Venue string
	// DateFrom, DateTo — диапазон дат выступления (nil — без ограничения)
	DateFrom *time.Time
	DateTo   *time.Time
	// SortBy — date, addeddate, title, relevance
	SortBy string
	// SortOrder — asc, desc
	SortOrder string
	// Page — номер страницы (с 1)
	Page int
	// PerPage — размер страницы
	PerPage int
}

// SearchResult — страница результатов поиска.
type SearchResult struct {
	// Docs — сырые документы поиска
	Docs []ItemDoc
	// Total — общее количество совпадений в архиве
	Total int
}

// ItemDoc — документ результата поиска (подмножество полей архива).
type ItemDoc struct {
	Identifier string      `json:"identifier"`
	Title      string      `json:"title"`
	Creator    stringOrSet `json:"creator"`
	Date       string      `json:"date"`
	Venue      string      `json:"venue"`
	Coverage   string      `json:"coverage"`
	Source     string      `json:"source"`
	Downloads  int64       `json:"downloads"`
}

// ItemMetadata — детальные метаданные записи с листингом файлов.
type ItemMetadata struct {
	Metadata itemFields `json:"metadata"`
	Files    []FileDoc  `json:"files"`
}

// itemFields — метаданные записи.
type itemFields struct {
	Identifier string      `json:"identifier"`
	Title      stringOrSet `json:"title"`
	Creator    stringOrSet `json:"creator"`
	Date       string      `json:"date"`
	Venue      string      `json:"venue"`
	Coverage   string      `json:"coverage"`
	Source     string      `json:"source"`
	Taper      string      `json:"taper"`
	Lineage    string      `json:"lineage"`
}

// FileDoc — описание одного файла записи. Category не приходит от архива,
// а вычисляется при листинге по расширению имени.
type FileDoc struct {
	Name     string      `json:"name"`
	Format   string      `json:"format"`
	Title    string      `json:"title"`
	Size     stringOrInt `json:"size"`
	Length   string      `json:"length"`
	Track    stringOrInt `json:"track"`
	MTime    string      `json:"mtime"`
	Category string      `json:"category,omitempty"`
}

// FileStream — открытый поток скачивания файла.
type FileStream struct {
	// Body — тело ответа; вызывающий код ОБЯЗАН закрыть
	Body io.ReadCloser
	// ContentLength — размер файла (nil, если архив не сообщил)
	ContentLength *int64
}

// Client — HTTP-клиент внешнего архива.
type Client struct {
	baseURL string
	// httpClient — запросы поиска и метаданных, полный таймаут
	httpClient *http.Client
	// streamClient — скачивание файлов: таймаут только до получения
	// заголовков, чтение тела идёт часами и ограничено контекстом задания
	streamClient *http.Client
	logger       *slog.Logger
}

// New создаёт клиент архива.
// baseURL — базовый URL архива (например, https://archive.org).
// timeout — таймаут HTTP-запросов (CH_ARCHIVE_TIMEOUT). Для скачивания
// файлов полный таймаут не применяется: он ограничивает только ожидание
// заголовков ответа.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	transport := &http.Transport{
		// Пул idle-соединений для переиспользования
		MaxIdleConnsPerHost: 10,
	}
	streamTransport := &http.Transport{
		MaxIdleConnsPerHost:   10,
		ResponseHeaderTimeout: timeout,
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		streamClient: &http.Client{
			Transport: streamTransport,
		},
		logger: logger.With(slog.String("component", "archive_client")),
	}
}

// Search выполняет поиск записей через advancedsearch endpoint.
func (c *Client) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	reqURL := c.baseURL + "/advancedsearch.php?" + buildSearchQuery(params)

	var payload struct {
		Response struct {
			NumFound int       `json:"numFound"`
			Docs     []ItemDoc `json:"docs"`
		} `json:"response"`
	}
	if err := c.getJSON(ctx, reqURL, &payload); err != nil {
		return nil, fmt.Errorf("поиск в архиве: %w", err)
	}

	return &SearchResult{
		Docs:  payload.Response.Docs,
		Total: payload.Response.NumFound,
	}, nil
}

// GetItemMetadata возвращает метаданные записи с полным листингом файлов.
func (c *Client) GetItemMetadata(ctx context.Context, identifier string) (*ItemMetadata, error) {
	reqURL := c.baseURL + "/metadata/" + url.PathEscape(identifier)

	meta := &ItemMetadata{}
	if err := c.getJSON(ctx, reqURL, meta); err != nil {
		return nil, fmt.Errorf("метаданные записи %s: %w", identifier, err)
	}

	// Архив отвечает 200 с пустым объектом для несуществующих identifier
	if meta.Metadata.Identifier == "" && len(meta.Files) == 0 {
		return nil, ErrNotFound
	}

	return meta, nil
}

// ListDirectory возвращает полный листинг файлов записи с категорией
// каждого файла (audio/image/metadata/other).
// Отдельный endpoint архив не предоставляет — листинг берётся из метаданных.
func (c *Client) ListDirectory(ctx context.Context, identifier string) ([]FileDoc, error) {
	meta, err := c.GetItemMetadata(ctx, identifier)
	if err != nil {
		return nil, err
	}
	files := meta.Files
	for i := range files {
		files[i].Category = FileCategory(files[i].Name)
	}
	return files, nil
}

// OpenFileStream открывает streaming-скачивание файла записи.
// Возвращённый FileStream.Body обязан закрыть вызывающий код.
func (c *Client) OpenFileStream(ctx context.Context, identifier, filename string) (*FileStream, error) {
	reqURL := fmt.Sprintf("%s/download/%s/%s",
		c.baseURL, url.PathEscape(identifier), url.PathEscape(filename))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса скачивания: %w", err)
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// ok
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrNotFound
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: статус %d при скачивании %s/%s",
			ErrUnavailable, resp.StatusCode, identifier, filename)
	}

	stream := &FileStream{Body: resp.Body}
	if resp.ContentLength >= 0 {
		cl := resp.ContentLength
		stream.ContentLength = &cl
	}
	return stream, nil
}

// getJSON выполняет GET и декодирует JSON-ответ.
func (c *Client) getJSON(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("создание запроса: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Запрос к архиву выполнен",
		slog.String("url", req.URL.Path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusOK:
		// ok
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("%w: статус %d", ErrUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: некорректный JSON: %v", ErrUnavailable, err)
	}
	return nil
}

// classifyTransportError разделяет таймауты и прочие транспортные ошибки.
func classifyTransportError(err error) error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// buildSearchQuery строит query string для advancedsearch endpoint.
// Формат запроса: q=<lucene>&output=json&rows=N&page=M[&sort[0]=...].
func buildSearchQuery(params SearchParams) string {
	q := buildLuceneQuery(params)

	v := url.Values{}
	v.Set("q", q)
	v.Set("output", "json")
	v.Set("rows", strconv.Itoa(params.PerPage))
	v.Set("page", strconv.Itoa(params.Page))

	for _, f := range []string{"identifier", "title", "creator", "date", "venue", "coverage", "source", "downloads"} {
		v.Add("fl[]", f)
	}

	// relevance — естественный порядок архива, sort не передаём
	if sort := buildSortParam(params.SortBy, params.SortOrder); sort != "" {
		v.Set("sort[0]", sort)
	}

	return v.Encode()
}

// buildLuceneQuery строит lucene-выражение поиска из параметров.
func buildLuceneQuery(params SearchParams) string {
	terms := []string{"collection:" + params.Collection}

	if params.ExcludeCollection != "" {
		terms = append(terms, "NOT collection:"+params.ExcludeCollection)
	}
	if params.Query != "" {
		terms = append(terms, "("+params.Query+")")
	}
	if params.Artist != "" {
		terms = append(terms, fmt.Sprintf("creator:%q", params.Artist))
	}
	if params.Venue != "" {
		terms = append(terms, fmt.Sprintf("venue:%q", params.Venue))
	}
	// Открытая граница диапазона записывается как * ("с даты" / "по дату")
	if params.DateFrom != nil || params.DateTo != nil {
		from, to := "*", "*"
		if params.DateFrom != nil {
			from = params.DateFrom.Format("2006-01-02")
		}
		if params.DateTo != nil {
			to = params.DateTo.Format("2006-01-02")
		}
		terms = append(terms, fmt.Sprintf("date:[%s TO %s]", from, to))
	}

	return strings.Join(terms, " AND ")
}

// buildSortParam строит значение sort-параметра (whitelist полей).
// Для relevance возвращает пустую строку — сортировка архива по умолчанию.
func buildSortParam(sortBy, sortOrder string) string {
	direction := "desc"
	if strings.EqualFold(sortOrder, "asc") {
		direction = "asc"
	}

	switch sortBy {
	case "date":
		return "date " + direction
	case "addeddate":
		return "addeddate " + direction
	case "title":
		return "title " + direction
	default:
		return ""
	}
}
