package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/arzzra/ari_bridge/pkg/bridge"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	defaultWebhookQueue   = 1024
)

// WebhookSink отправляет нормализованные события POST запросом в JSON.
// Доставка идет из одной горутины в порядке событий; при переполнении
// очереди событие теряется, оркестратор не блокируется.
type WebhookSink struct {
	url    string
	client *http.Client
	queue  chan bridge.NormalizedEvent
	logger *slog.Logger

	// mutex защищает queue от записи после закрытия
	mutex  sync.Mutex
	closed bool
	done   chan struct{}
}

// NewWebhookSink запускает доставку. client может быть nil.
func NewWebhookSink(url string, client *http.Client, logger *slog.Logger) *WebhookSink {
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &WebhookSink{
		url:    url,
		client: client,
		queue:  make(chan bridge.NormalizedEvent, defaultWebhookQueue),
		logger: logger.With(slog.String("component", "webhook")),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// ProcessEvent реализует bridge.EventSink. После Close события отбрасываются.
func (s *WebhookSink) ProcessEvent(evt bridge.NormalizedEvent) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		s.logger.Debug("Доставка остановлена, событие отброшено",
			slog.String("type", string(evt.Type)),
			slog.String("provider_call_id", evt.ProviderCallID))
		return
	}
	select {
	case s.queue <- evt:
	default:
		s.logger.Warn("Очередь событий переполнена, событие отброшено",
			slog.String("type", string(evt.Type)),
			slog.String("provider_call_id", evt.ProviderCallID))
	}
}

// Close доставляет оставшиеся события и останавливает отправку
func (s *WebhookSink) Close(ctx context.Context) error {
	s.mutex.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mutex.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *WebhookSink) run() {
	defer close(s.done)
	for evt := range s.queue {
		if err := s.deliver(evt); err != nil {
			s.logger.Warn("Ошибка доставки события",
				slog.String("type", string(evt.Type)),
				slog.String("provider_call_id", evt.ProviderCallID),
				slog.String("error", err.Error()))
		}
	}
}

func (s *WebhookSink) deliver(evt bridge.NormalizedEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	resp, err := s.client.Post(s.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("получатель вернул статус %d", resp.StatusCode)
	}
	return nil
}

// LogSink пишет события в журнал, когда адрес доставки не задан
func LogSink(logger *slog.Logger) bridge.EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return bridge.EventSinkFunc(func(evt bridge.NormalizedEvent) {
		logger.Info("Событие звонка",
			slog.String("type", string(evt.Type)),
			slog.String("call_id", evt.CallID),
			slog.String("provider_call_id", evt.ProviderCallID),
			slog.String("reason", evt.Reason),
			slog.String("transcript", evt.Transcript))
	})
}
