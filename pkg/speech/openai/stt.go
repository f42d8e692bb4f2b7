package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/arzzra/ari_bridge/pkg/bridge"
)

const (
	DefaultRealtimeURL      = "wss://api.openai.com/v1/realtime"
	DefaultSTTModel         = "gpt-4o-transcribe"
	DefaultVADThreshold     = 0.5
	DefaultPrefixPadding    = 300 * time.Millisecond
	DefaultSilenceDuration  = 800 * time.Millisecond
	defaultAudioQueueLength = 256
)

// Типы событий realtime transcription
const (
	eventSessionUpdate       = "transcription_session.update"
	eventAudioAppend         = "input_audio_buffer.append"
	eventSpeechStarted       = "input_audio_buffer.speech_started"
	eventTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	eventError               = "error"
)

// STTConfig параметры распознавания
type STTConfig struct {
	APIKey string
	Model  string
	// URL realtime API, без query
	URL string

	VADThreshold    float64
	PrefixPadding   time.Duration
	SilenceDuration time.Duration

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// STT открывает по одной realtime сессии на звонок
type STT struct {
	config STTConfig
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewSTT проверяет конфигурацию и заполняет значения по умолчанию
func NewSTT(config STTConfig) (*STT, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("не задан ключ OpenAI API")
	}
	if config.Model == "" {
		config.Model = DefaultSTTModel
	}
	if config.URL == "" {
		config.URL = DefaultRealtimeURL
	}
	if config.VADThreshold <= 0 {
		config.VADThreshold = DefaultVADThreshold
	}
	if config.PrefixPadding <= 0 {
		config.PrefixPadding = DefaultPrefixPadding
	}
	if config.SilenceDuration <= 0 {
		config.SilenceDuration = DefaultSilenceDuration
	}

	u, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("некорректный URL realtime API: %w", err)
	}
	q := u.Query()
	q.Set("intent", "transcription")
	u.RawQuery = q.Encode()

	dialer := config.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &STT{
		config: config,
		url:    u.String(),
		dialer: dialer,
		logger: logger.With(slog.String("component", "openai_stt")),
	}, nil
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int64   `json:"prefix_padding_ms"`
	SilenceDurationMs int64   `json:"silence_duration_ms"`
}

type transcriptionSession struct {
	InputAudioFormat        string `json:"input_audio_format"`
	InputAudioTranscription struct {
		Model string `json:"model"`
	} `json:"input_audio_transcription"`
	TurnDetection turnDetection `json:"turn_detection"`
}

type clientEvent struct {
	EventID string                `json:"event_id"`
	Type    string                `json:"type"`
	Session *transcriptionSession `json:"session,omitempty"`
	Audio   string                `json:"audio,omitempty"`
}

type serverEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Error      *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newEventID() string {
	return "evt_" + uuid.New().String()[:12]
}

// Connect открывает сессию и отправляет настройки транскрипции.
// Возвращается после того как настройки записаны в соединение.
func (s *STT) Connect(ctx context.Context, callbacks bridge.SpeechCallbacks) (bridge.SpeechSession, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+s.config.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := s.dialer.DialContext(ctx, s.url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ошибка подключения к realtime API (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("ошибка подключения к realtime API: %w", err)
	}

	update := &transcriptionSession{
		InputAudioFormat: "g711_ulaw",
		TurnDetection: turnDetection{
			Type:              "server_vad",
			Threshold:         s.config.VADThreshold,
			PrefixPaddingMs:   s.config.PrefixPadding.Milliseconds(),
			SilenceDurationMs: s.config.SilenceDuration.Milliseconds(),
		},
	}
	update.InputAudioTranscription.Model = s.config.Model

	if err := conn.WriteJSON(clientEvent{EventID: newEventID(), Type: eventSessionUpdate, Session: update}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ошибка отправки настроек сессии: %w", err)
	}

	session := &sttSession{
		conn:      conn,
		callbacks: callbacks,
		audio:     make(chan []byte, defaultAudioQueueLength),
		closeCh:   make(chan struct{}),
		logger:    s.logger,
	}
	session.wg.Add(1)
	go session.writeLoop()
	go session.readLoop()

	return session, nil
}

// sttSession одна realtime сессия. Писатель в соединение только writeLoop.
type sttSession struct {
	conn      *websocket.Conn
	callbacks bridge.SpeechCallbacks
	audio     chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// SendAudio ставит кадр в очередь. При переполненной очереди кадр теряется:
// задерживать поток RTP ради распознавания нельзя.
func (s *sttSession) SendAudio(mulaw []byte) {
	if len(mulaw) == 0 {
		return
	}
	select {
	case <-s.closeCh:
		return
	default:
	}

	frame := make([]byte, len(mulaw))
	copy(frame, mulaw)
	select {
	case s.audio <- frame:
	default:
		s.logger.Debug("Очередь аудио распознавания переполнена, кадр отброшен")
	}
}

func (s *sttSession) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.closeCh:
			return
		case frame := <-s.audio:
			evt := clientEvent{
				EventID: newEventID(),
				Type:    eventAudioAppend,
				Audio:   base64.StdEncoding.EncodeToString(frame),
			}
			if err := s.conn.WriteJSON(evt); err != nil {
				s.logger.Warn("Ошибка отправки аудио в realtime API", slog.String("error", err.Error()))
				s.shutdown()
				return
			}
		}
	}
}

// readLoop не входит в wg: Close может быть вызван из обработчика события
func (s *sttSession) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closeCh:
			default:
				s.logger.Warn("Соединение realtime API закрыто", slog.String("error", err.Error()))
			}
			s.shutdown()
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			s.logger.Debug("Некорректное событие realtime API", slog.String("error", err.Error()))
			continue
		}
		s.dispatch(evt)
	}
}

func (s *sttSession) dispatch(evt serverEvent) {
	switch evt.Type {
	case eventSpeechStarted:
		if s.callbacks.OnSpeechStart != nil {
			s.callbacks.OnSpeechStart()
		}
	case eventTranscriptCompleted:
		text := strings.TrimSpace(evt.Transcript)
		if text != "" && s.callbacks.OnTranscript != nil {
			s.callbacks.OnTranscript(text)
		}
	case eventError:
		if evt.Error != nil {
			s.logger.Warn("Ошибка realtime API",
				slog.String("code", evt.Error.Code),
				slog.String("message", evt.Error.Message))
		}
	}
}

func (s *sttSession) shutdown() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
		s.conn.Close()
	})
}

// Close закрывает соединение и дожидается писателя. Повторный вызов безопасен.
func (s *sttSession) Close() error {
	s.shutdown()
	s.wg.Wait()
	return nil
}
