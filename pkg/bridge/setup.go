package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/arzzra/ari_bridge/pkg/ari"
	"github.com/arzzra/ari_bridge/pkg/rtp"
)

// runSetup выполняет настройку и при ошибке завершает звонок с причиной error
func (o *Orchestrator) runSetup(ctx context.Context, call *Call) error {
	err := o.setup(ctx, call)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCallEnded), errors.Is(err, ErrSetupRejected):
		call.logger.Debug("Настройка звонка остановлена", slog.String("error", err.Error()))
		return err
	}

	call.logger.Error("Ошибка настройки звонка", slog.String("error", err.Error()))
	o.teardown(ctx, call, ReasonError)
	return err
}

// setup выполняется не более одного раза на звонок:
// ответ, мост, RTP сокет, канал внешнего медиа, подключение к мосту, распознавание.
// Каждый ресурс сразу привязывается к звонку. Если звонок уже завершается,
// setup освобождает только что созданный ресурс сам.
func (o *Orchestrator) setup(ctx context.Context, call *Call) error {
	if err := call.fire(ctx, eventAnswer); err != nil {
		if call.ending() {
			return ErrCallEnded
		}
		return ErrSetupRejected
	}

	sipChannelID := call.SIPChannelID()
	fail := func(stage string, err error) error {
		if errors.Is(err, ErrCallEnded) {
			return err
		}
		o.metrics.SetupFailures.WithLabelValues(stage).Inc()
		return &CallError{Op: stage, ProviderCallID: call.providerCallID, Err: err}
	}

	// Канал часто уже отвечен, ошибка ответа не мешает дальнейшей настройке
	if err := o.ari.Answer(ctx, sipChannelID); err != nil {
		call.logger.Debug("Ответ на канал не выполнен", slog.String("error", err.Error()))
	}

	bridge, err := o.ari.CreateBridge(ctx, "mixing")
	if err != nil {
		return fail("bridge", err)
	}
	if err := call.attachBridge(bridge.ID); err != nil {
		_ = o.ari.DeleteBridge(context.WithoutCancel(ctx), bridge.ID) // best-effort
		return err
	}
	if err := advance(ctx, call, eventBridge); err != nil {
		return err
	}

	conn, err := o.ports.Bind(ctx)
	if err != nil {
		return fail("rtp", err)
	}
	// Обработчик захватывает звонок, общей таблицы по портам нет
	session := rtp.NewSession(conn, rtp.SessionConfig{
		Codec:    o.config.Codec,
		PeerWait: o.config.PeerWait,
		Logger:   call.logger,
		Metrics:  o.rtpMetrics,
	}, call.forwardAudio)
	if err := call.attachRTP(session); err != nil {
		_ = session.Close()
		return err
	}

	ext, err := o.ari.ExternalMedia(ctx, ari.ExternalMediaParams{
		App:          o.config.App,
		ExternalHost: net.JoinHostPort(o.config.RTPHost, strconv.Itoa(session.Port())),
		Format:       o.config.Codec.String(),
	})
	if err != nil {
		return fail("external_media", err)
	}
	if err := call.attachExtChannel(ext.ID); err != nil {
		_ = o.ari.HangupOrDelete(context.WithoutCancel(ctx), ext.ID) // best-effort
		return err
	}
	call.logger.Debug("Канал внешнего медиа создан",
		slog.String("channel_id", ext.ID),
		slog.Int("rtp_port", session.Port()))

	if err := o.ari.AddChannels(ctx, bridge.ID, sipChannelID, ext.ID); err != nil {
		return fail("bridge_join", err)
	}

	if o.stt != nil {
		speech, err := o.stt.Connect(ctx, SpeechCallbacks{
			OnSpeechStart: func() {
				// Barge-in: абонент заговорил, синтез замолкает
				call.speaking.Store(false)
			},
			OnTranscript: func(text string) {
				evt := newEvent(EventSpeech, call)
				evt.Transcript = text
				evt.IsFinal = true
				o.emit(evt)
			},
		})
		if err != nil {
			return fail("speech", err)
		}
		if err := call.attachSpeech(speech); err != nil {
			_ = speech.Close()
			return err
		}
	}

	if err := advance(ctx, call, eventActivate); err != nil {
		return err
	}

	o.emit(newEvent(EventAnswered, call))
	o.emit(newEvent(EventActive, call))
	call.logger.Info("Звонок активен", slog.String("channel_id", sipChannelID), slog.Int("rtp_port", session.Port()))
	return nil
}

// advance выполняет переход настройки. Отказ из-за начавшегося завершения
// дает ErrCallEnded, любой другой отказ считается ошибкой настройки.
func advance(ctx context.Context, call *Call, event string) error {
	if err := call.fire(ctx, event); err != nil {
		if call.ending() {
			return ErrCallEnded
		}
		return fmt.Errorf("переход %s из %s: %w", event, call.State(), err)
	}
	return nil
}
