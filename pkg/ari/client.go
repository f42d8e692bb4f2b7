package ari

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxErrorBody          = 4096
)

// ClientConfig параметры REST клиента ARI
type ClientConfig struct {
	// BaseURL адрес HTTP сервера Asterisk без суффикса /ari
	BaseURL  string
	Username string
	Password string

	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *Metrics
}

// Client тонкий REST клиент ARI: каналы, мосты, внешнее медиа.
// Любой не-2xx ответ возвращается как *HTTPError.
type Client struct {
	baseURL  *url.URL
	username string
	password string

	httpClient *http.Client
	logger     *slog.Logger
	metrics    *Metrics
}

// NewClient создает клиент и проверяет базовый URL
func NewClient(config ClientConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("некорректный ARI URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("некорректная схема ARI URL: %q", base.Scheme)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("в ARI URL не указан хост")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &Client{
		baseURL:    base,
		username:   config.Username,
		password:   config.Password,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "ari_client")),
		metrics:    metrics,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/ari" + path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return fmt.Errorf("ошибка создания запроса ARI: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.Requests.WithLabelValues(method, "error").Inc()
		return fmt.Errorf("ошибка запроса ARI %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.metrics.Requests.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("ошибка разбора ответа ARI %s %s: %w", method, path, err)
	}
	return nil
}

func channelPath(id string, suffix ...string) string {
	p := "/channels/" + url.PathEscape(id)
	for _, s := range suffix {
		p += "/" + s
	}
	return p
}

// Originate создает исходящий канал, сразу попадающий в ARI приложение
func (c *Client) Originate(ctx context.Context, params OriginateParams) (*Channel, error) {
	q := url.Values{}
	q.Set("endpoint", params.Endpoint)
	q.Set("app", params.App)
	if params.AppArgs != "" {
		q.Set("appArgs", params.AppArgs)
	}
	if params.CallerID != "" {
		q.Set("callerId", params.CallerID)
	}

	var ch Channel
	if err := c.do(ctx, http.MethodPost, "/channels", q, &ch); err != nil {
		return nil, err
	}
	if ch.ID == "" {
		return nil, fmt.Errorf("ARI не вернул id созданного канала")
	}
	return &ch, nil
}

// Answer отвечает на канал
func (c *Client) Answer(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodPost, channelPath(channelID, "answer"), nil, nil)
}

// Hangup завершает канал через /hangup
func (c *Client) Hangup(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodPost, channelPath(channelID, "hangup"), nil, nil)
}

// DeleteChannel удаляет канал
func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodDelete, channelPath(channelID), nil, nil)
}

// HangupOrDelete пробует /hangup, а при ошибке удаляет канал.
// Каналы внешнего медиа часто не поддерживают /hangup.
// Канал, которого уже нет (404), считается завершенным.
// Возвращает ошибку только если не сработали оба способа.
func (c *Client) HangupOrDelete(ctx context.Context, channelID string) error {
	if channelID == "" {
		return nil
	}
	hangupErr := c.Hangup(ctx, channelID)
	if hangupErr == nil || IsNotFound(hangupErr) {
		return nil
	}
	if err := c.DeleteChannel(ctx, channelID); err != nil && !IsNotFound(err) {
		return errors.Join(hangupErr, err)
	}
	return nil
}

// CreateBridge создает мост заданного типа, обычно "mixing"
func (c *Client) CreateBridge(ctx context.Context, bridgeType string) (*Bridge, error) {
	q := url.Values{}
	q.Set("type", bridgeType)

	var b Bridge
	if err := c.do(ctx, http.MethodPost, "/bridges", q, &b); err != nil {
		return nil, err
	}
	if b.ID == "" {
		return nil, fmt.Errorf("ARI не вернул id созданного моста")
	}
	return &b, nil
}

// AddChannels добавляет каналы в мост одним запросом
func (c *Client) AddChannels(ctx context.Context, bridgeID string, channelIDs ...string) error {
	q := url.Values{}
	q.Set("channel", strings.Join(channelIDs, ","))
	return c.do(ctx, http.MethodPost, "/bridges/"+url.PathEscape(bridgeID)+"/addChannel", q, nil)
}

// DeleteBridge удаляет мост
func (c *Client) DeleteBridge(ctx context.Context, bridgeID string) error {
	return c.do(ctx, http.MethodDelete, "/bridges/"+url.PathEscape(bridgeID), nil, nil)
}

// ExternalMedia создает канал внешнего медиа, отправляющий RTP на ExternalHost
func (c *Client) ExternalMedia(ctx context.Context, params ExternalMediaParams) (*Channel, error) {
	q := url.Values{}
	q.Set("app", params.App)
	q.Set("external_host", params.ExternalHost)
	q.Set("format", params.Format)

	var ch Channel
	if err := c.do(ctx, http.MethodPost, "/channels/externalMedia", q, &ch); err != nil {
		return nil, err
	}
	if ch.ID == "" {
		return nil, fmt.Errorf("ARI не вернул id канала внешнего медиа")
	}
	return &ch, nil
}

// ListChannels возвращает все каналы сервера
func (c *Client) ListChannels(ctx context.Context) ([]Channel, error) {
	var channels []Channel
	if err := c.do(ctx, http.MethodGet, "/channels", nil, &channels); err != nil {
		return nil, err
	}
	return channels, nil
}
