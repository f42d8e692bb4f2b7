package ari

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultReconnectDelay фиксированная пауза перед переподключением
const DefaultReconnectDelay = 1500 * time.Millisecond

// EventHandler получает события в порядке их поступления.
// Вызывается из цикла чтения, поэтому не должен блокироваться надолго.
type EventHandler func(ctx context.Context, evt Event)

// EventStreamConfig параметры потока событий
type EventStreamConfig struct {
	BaseURL  string
	Username string
	Password string
	App      string

	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer

	// OnConnect вызывается в отдельной горутине после каждого (пере)подключения
	OnConnect func(ctx context.Context)

	Logger  *slog.Logger
	Metrics *Metrics
}

// EventStream держит одно WebSocket соединение с /ari/events и
// переподключается после любого разрыва с постоянной задержкой.
// Ограничения на число попыток нет: события нужны все время жизни процесса.
type EventStream struct {
	url       string
	config    EventStreamConfig
	handler   EventHandler
	dialer    *websocket.Dialer
	logger    *slog.Logger
	metrics   *Metrics
	connected atomic.Bool
}

// EventsURL строит адрес потока событий из базового HTTP адреса ARI
func EventsURL(baseURL, app, username, password string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("некорректный ARI URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("некорректная схема ARI URL: %q", u.Scheme)
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/ari/events"
	q := url.Values{}
	q.Set("app", app)
	q.Set("api_key", username+":"+password)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// NewEventStream создает поток; соединение открывает Run
func NewEventStream(config EventStreamConfig, handler EventHandler) (*EventStream, error) {
	if handler == nil {
		return nil, fmt.Errorf("не задан обработчик событий")
	}
	if config.App == "" {
		return nil, fmt.Errorf("не задано имя ARI приложения")
	}
	wsURL, err := EventsURL(config.BaseURL, config.App, config.Username, config.Password)
	if err != nil {
		return nil, err
	}

	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultReconnectDelay
	}
	dialer := config.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &EventStream{
		url:     wsURL,
		config:  config,
		handler: handler,
		dialer:  dialer,
		logger:  logger.With(slog.String("component", "ari_events")),
		metrics: metrics,
	}, nil
}

// Connected сообщает, открыто ли сейчас соединение
func (s *EventStream) Connected() bool {
	return s.connected.Load()
}

// Run держит соединение до отмены ctx. Ошибки соединения не возвращаются:
// они логируются и приводят к переподключению.
func (s *EventStream) Run(ctx context.Context) error {
	first := true
	for {
		if !first {
			s.metrics.Reconnects.Inc()
		}
		first = false

		if err := s.session(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("Поток событий ARI прерван", slog.String("error", err.Error()))
		}

		timer := time.NewTimer(s.config.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// session обслуживает одно соединение от подключения до разрыва
func (s *EventStream) session(ctx context.Context) error {
	conn, resp, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("ошибка подключения к потоку событий: %w (HTTP %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("ошибка подключения к потоку событий: %w", err)
	}
	defer conn.Close()

	s.connected.Store(true)
	defer s.connected.Store(false)
	s.logger.Info("Поток событий ARI подключен", slog.String("app", s.config.App))

	// Закрываем соединение при отмене, чтобы разблокировать чтение
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	if s.config.OnConnect != nil {
		go s.config.OnConnect(ctx)
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil || evt.Type == "" {
			// Битые кадры молча пропускаются
			s.logger.Debug("Пропущен некорректный кадр события", slog.Int("size", len(data)))
			continue
		}

		s.metrics.Events.WithLabelValues(evt.Type).Inc()
		s.handler(ctx, evt)
	}
}
