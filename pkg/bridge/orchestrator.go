package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arzzra/ari_bridge/pkg/ari"
	"github.com/arzzra/ari_bridge/pkg/media"
	"github.com/arzzra/ari_bridge/pkg/rtp"
)

const (
	DefaultDialTimeout     = 8 * time.Second
	DefaultTeardownTimeout = 10 * time.Second
)

// ControlPlane операции ARI, которые использует оркестратор.
// Реализуется *ari.Client.
type ControlPlane interface {
	Originate(ctx context.Context, params ari.OriginateParams) (*ari.Channel, error)
	Answer(ctx context.Context, channelID string) error
	HangupOrDelete(ctx context.Context, channelID string) error
	CreateBridge(ctx context.Context, bridgeType string) (*ari.Bridge, error)
	AddChannels(ctx context.Context, bridgeID string, channelIDs ...string) error
	DeleteBridge(ctx context.Context, bridgeID string) error
	ExternalMedia(ctx context.Context, params ari.ExternalMediaParams) (*ari.Channel, error)
	ListChannels(ctx context.Context) ([]ari.Channel, error)
}

// Config параметры оркестратора
type Config struct {
	// App имя ARI приложения
	App string
	// Trunk PJSIP транк для исходящих, может быть пустым
	Trunk string
	// Codec формат канала внешнего медиа
	Codec media.Codec
	// RTPHost адрес, который сообщается Asterisk для отправки RTP
	RTPHost string

	DialTimeout     time.Duration
	PeerWait        time.Duration
	TeardownTimeout time.Duration
}

// Dependencies внешние компоненты оркестратора
type Dependencies struct {
	ARI   ControlPlane
	Ports *rtp.PortAllocator

	// STT nil означает работу без распознавания: только мост аудио
	STT STTProvider
	TTS TTSProvider

	Sink       EventSink
	Logger     *slog.Logger
	Metrics    *Metrics
	RTPMetrics *rtp.Metrics
}

// Orchestrator ведет звонки от появления канала до освобождения всех ресурсов
type Orchestrator struct {
	config Config
	ari    ControlPlane
	ports  *rtp.PortAllocator
	stt    STTProvider
	tts    TTSProvider
	sink   EventSink

	calls   *callRegistry
	waiters *dialWaiters

	logger     *slog.Logger
	metrics    *Metrics
	rtpMetrics *rtp.Metrics

	// wg фоновые настройки и завершения звонков
	wg sync.WaitGroup
}

// New проверяет конфигурацию и создает оркестратор
func New(config Config, deps Dependencies) (*Orchestrator, error) {
	if deps.ARI == nil {
		return nil, fmt.Errorf("не задан ARI клиент")
	}
	if deps.Ports == nil {
		return nil, fmt.Errorf("не задан аллокатор RTP портов")
	}
	if strings.TrimSpace(config.App) == "" {
		return nil, fmt.Errorf("не задано имя ARI приложения")
	}
	if config.Codec == "" {
		config.Codec = media.CodecUlaw
	}
	if config.RTPHost == "" {
		config.RTPHost = "127.0.0.1"
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	if config.PeerWait <= 0 {
		config.PeerWait = rtp.DefaultPeerWait
	}
	if config.TeardownTimeout <= 0 {
		config.TeardownTimeout = DefaultTeardownTimeout
	}

	sink := deps.Sink
	if sink == nil {
		sink = EventSinkFunc(func(NormalizedEvent) {})
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	rtpMetrics := deps.RTPMetrics
	if rtpMetrics == nil {
		rtpMetrics = rtp.NewMetrics(nil)
	}

	return &Orchestrator{
		config:     config,
		ari:        deps.ARI,
		ports:      deps.Ports,
		stt:        deps.STT,
		tts:        deps.TTS,
		sink:       sink,
		calls:      newCallRegistry(),
		waiters:    newDialWaiters(),
		logger:     logger.With(slog.String("component", "orchestrator")),
		metrics:    metrics,
		rtpMetrics: rtpMetrics,
	}, nil
}

func (o *Orchestrator) emit(evt NormalizedEvent) {
	o.sink.ProcessEvent(evt)
}

// HandleEvent обрабатывает событие ARI. Долгие операции уходят в горутины,
// порядок событий одного потока сохраняется.
func (o *Orchestrator) HandleEvent(ctx context.Context, evt ari.Event) {
	if evt.Channel == nil || evt.Channel.ID == "" {
		return
	}

	switch evt.Type {
	case ari.EventStasisStart:
		o.onStasisStart(ctx, evt)
	case ari.EventStasisEnd:
		o.onStasisEnd(ctx, evt)
	}
}

func (o *Orchestrator) onStasisStart(ctx context.Context, evt ari.Event) {
	ch := *evt.Channel

	// Исходящий: ответ originate уже получен и поток ждет канал
	if o.waiters.resolve(ch.ID) {
		return
	}

	// Исходящий: событие обогнало ответ originate, связываем по метке
	if tag := evt.Arg(0); tag != "" {
		if call, ok := o.calls.Get(tag); ok {
			call.bindSIPChannel(ch.ID)
			o.waiters.arrive(ch.ID)
			return
		}
	}

	// Каналы внешнего медиа тоже входят в приложение; считать их входящими нельзя
	if !ch.IsTelephony() {
		return
	}
	if _, tracked := o.calls.FindByChannel(ch.ID); tracked {
		return
	}

	call := newCall(uuid.NewString(), ch.ID, DirectionInbound, o.logger, o.metrics)
	call.sipChannelID = ch.ID
	call.from = valueOr(ch.Caller.Number, "unknown")
	call.to = valueOr(ch.Connected.Number, "unknown")
	if !o.calls.Add(call) {
		return
	}
	o.metrics.Calls.WithLabelValues(string(DirectionInbound)).Inc()
	o.metrics.ActiveCalls.Inc()
	call.logger.Info("Входящий звонок", slog.String("from", call.from), slog.String("to", call.to))

	ringing := newEvent(EventRinging, call)
	ringing.Direction = DirectionInbound
	ringing.From = call.from
	ringing.To = call.to
	o.emit(ringing)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_ = o.runSetup(ctx, call)
	}()
}

func (o *Orchestrator) onStasisEnd(ctx context.Context, evt ari.Event) {
	call, ok := o.calls.FindByChannel(evt.Channel.ID)
	if !ok {
		return
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.teardown(ctx, call, ReasonCompleted)
	}()
}

// InitiateRequest запрос исходящего звонка
type InitiateRequest struct {
	// CallID идентификатор менеджера звонков; генерируется, если пуст
	CallID   string `json:"callId"`
	From     string `json:"from"`
	FromName string `json:"fromName,omitempty"`
	To       string `json:"to"`
}

// InitiateResult результат запуска исходящего звонка
type InitiateResult struct {
	CallID         string `json:"callId"`
	ProviderCallID string `json:"providerCallId"`
	Status         string `json:"status"`
}

// InitiateCall набирает номер и настраивает звонок, когда канал войдет в приложение.
// Если канал не вошел за DialTimeout, звонок остается без моста и ошибки нет.
func (o *Orchestrator) InitiateCall(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	endpoint, err := ari.DialString(req.To, o.config.Trunk)
	if err != nil {
		return InitiateResult{}, err
	}

	callID := req.CallID
	if callID == "" {
		callID = uuid.NewString()
	}
	call := newCall(callID, uuid.NewString(), DirectionOutbound, o.logger, o.metrics)
	call.from = req.From
	call.to = req.To
	o.calls.Add(call)
	o.metrics.Calls.WithLabelValues(string(DirectionOutbound)).Inc()
	o.metrics.ActiveCalls.Inc()

	initiated := newEvent(EventInitiated, call)
	initiated.Direction = DirectionOutbound
	initiated.From = req.From
	initiated.To = req.To
	o.emit(initiated)

	result := InitiateResult{CallID: callID, ProviderCallID: call.providerCallID, Status: "initiated"}

	ch, err := o.ari.Originate(ctx, ari.OriginateParams{
		Endpoint: endpoint,
		App:      o.config.App,
		AppArgs:  call.providerCallID,
		CallerID: ari.FormatCallerID(req.FromName, req.From),
	})
	if err != nil {
		o.metrics.SetupFailures.WithLabelValues("originate").Inc()
		call.logger.Error("Ошибка создания исходящего канала", slog.String("error", err.Error()))
		o.teardown(ctx, call, ReasonError)
		return result, &CallError{Op: "originate", ProviderCallID: call.providerCallID, Err: err}
	}

	call.bindSIPChannel(ch.ID)
	sipChannelID := call.SIPChannelID()
	call.logger.Info("Исходящий канал создан", slog.String("channel_id", sipChannelID), slog.String("endpoint", endpoint))

	if err := call.fire(ctx, eventRing); err != nil {
		// Звонок уже завершен параллельно
		return result, nil
	}
	o.emit(newEvent(EventRinging, call))

	wait, arrived := o.waiters.register(sipChannelID)

	// Ожидание канала и настройка не зависят от жизни запроса: звонок
	// уже существует на стороне Asterisk и должен быть доведен или освобожден.
	done := make(chan error, 1)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		done <- o.connectOutbound(context.WithoutCancel(ctx), call, sipChannelID, wait, arrived)
	}()

	select {
	case err := <-done:
		switch {
		case err == nil, errors.Is(err, ErrCallEnded):
			return result, nil
		case errors.Is(err, ErrDialTimeout):
			result.Status = StateRinging
			return result, nil
		default:
			return result, err
		}
	case <-ctx.Done():
		return result, ctx.Err()
	}
}

// connectOutbound ждет вход канала в приложение не дольше DialTimeout и
// настраивает звонок. По таймауту звонок остается звонящим без моста.
func (o *Orchestrator) connectOutbound(ctx context.Context, call *Call, sipChannelID string, wait <-chan struct{}, arrived bool) error {
	if !arrived {
		timer := time.NewTimer(o.config.DialTimeout)
		defer timer.Stop()

		select {
		case <-wait:
		case <-timer.C:
			o.waiters.forget(sipChannelID)
			call.logger.Warn("Канал не вошел в приложение, звонок продолжается без моста",
				slog.String("channel_id", sipChannelID),
				slog.Duration("timeout", o.config.DialTimeout))
			return ErrDialTimeout
		case <-call.Ended():
			o.waiters.forget(sipChannelID)
			return ErrCallEnded
		}
	}

	return o.runSetup(ctx, call)
}

// HangupCall завершает звонок по запросу менеджера
func (o *Orchestrator) HangupCall(ctx context.Context, providerCallID string) error {
	call, ok := o.calls.Get(providerCallID)
	if !ok {
		return ErrCallNotFound
	}
	o.teardown(ctx, call, ReasonHangupBot)
	return nil
}

// PlayTTS синтезирует text и воспроизводит его в звонок.
// Воспроизведение прерывается, когда абонент начинает говорить.
func (o *Orchestrator) PlayTTS(ctx context.Context, providerCallID, text string) error {
	call, ok := o.calls.Get(providerCallID)
	if !ok {
		return ErrCallNotFound
	}
	if o.tts == nil {
		return ErrNoSpeechSynthesis
	}
	session := call.rtpSession()
	if session == nil {
		return &CallError{Op: "tts", ProviderCallID: providerCallID, Err: rtp.ErrNoPeer}
	}

	audio, err := o.tts.Synthesize(ctx, text)
	if err != nil {
		o.metrics.TTSPlaybacks.WithLabelValues("failed").Inc()
		return &CallError{Op: "tts", ProviderCallID: providerCallID, Err: err}
	}

	call.speaking.Store(true)
	speaking := newEvent(EventSpeaking, call)
	speaking.Text = text
	o.emit(speaking)

	sent, err := session.Play(ctx, audio, call.speaking.Load)
	call.speaking.Store(false)

	switch {
	case err != nil:
		o.metrics.TTSPlaybacks.WithLabelValues("failed").Inc()
		return &CallError{Op: "tts", ProviderCallID: providerCallID, Err: err}
	case sent < len(rtp.ChunkFrames(audio, media.FrameSize)):
		o.metrics.TTSPlaybacks.WithLabelValues("interrupted").Inc()
		call.logger.Debug("Воспроизведение прервано абонентом", slog.Int("sent_frames", sent))
	default:
		o.metrics.TTSPlaybacks.WithLabelValues("completed").Inc()
	}
	return nil
}

// StartListening распознавание включено постоянно, пока открыта сессия
func (o *Orchestrator) StartListening(_ context.Context, providerCallID string) error {
	if _, ok := o.calls.Get(providerCallID); !ok {
		return ErrCallNotFound
	}
	return nil
}

// StopListening см. StartListening
func (o *Orchestrator) StopListening(_ context.Context, providerCallID string) error {
	if _, ok := o.calls.Get(providerCallID); !ok {
		return ErrCallNotFound
	}
	return nil
}

// Call возвращает снимок звонка
func (o *Orchestrator) Call(providerCallID string) (CallInfo, bool) {
	call, ok := o.calls.Get(providerCallID)
	if !ok {
		return CallInfo{}, false
	}
	return call.Info(), true
}

// Calls возвращает снимки всех живых звонков
func (o *Orchestrator) Calls() []CallInfo {
	calls := o.calls.Snapshot()
	infos := make([]CallInfo, 0, len(calls))
	for _, c := range calls {
		infos = append(infos, c.Info())
	}
	return infos
}

// Close завершает все звонки параллельно и дожидается фоновых операций
// не дольше ctx. Завершения, не уложившиеся в ctx, продолжаются в фоне
// со своим TeardownTimeout.
func (o *Orchestrator) Close(ctx context.Context) error {
	for _, call := range o.calls.Snapshot() {
		o.wg.Add(1)
		go func(call *Call) {
			defer o.wg.Done()
			o.teardown(ctx, call, ReasonShutdown)
		}(call)
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ожидание завершения звонков прервано: %w", ctx.Err())
	}
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
