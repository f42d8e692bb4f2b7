package bridge

import (
	"context"
	"log/slog"
)

// teardown освобождает все ресурсы звонка. Выполняется ровно один раз,
// повторные вызовы из других путей ничего не делают. Ошибки отдельных
// шагов не прерывают остальные.
func (o *Orchestrator) teardown(ctx context.Context, call *Call, reason string) {
	if !call.beginTeardown(ctx) {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.TeardownTimeout)
	defer cancel()

	res := call.detach()
	call.speaking.Store(false)

	if res.speech != nil {
		if err := res.speech.Close(); err != nil {
			call.logger.Debug("Ошибка закрытия сессии распознавания", slog.String("error", err.Error()))
		}
	}
	if res.rtp != nil {
		if err := res.rtp.Close(); err != nil {
			call.logger.Debug("Ошибка закрытия RTP сессии", slog.String("error", err.Error()))
		}
	}

	// Канал внешнего медиа переживает удаление моста, поэтому завершается всегда
	if err := o.ari.HangupOrDelete(ctx, res.extChannelID); err != nil {
		call.logger.Debug("Канал внешнего медиа не завершен",
			slog.String("channel_id", res.extChannelID),
			slog.String("error", err.Error()))
	}
	if err := o.ari.HangupOrDelete(ctx, res.sipChannelID); err != nil {
		call.logger.Debug("Телефонный канал не завершен",
			slog.String("channel_id", res.sipChannelID),
			slog.String("error", err.Error()))
	}
	if res.bridgeID != "" {
		if err := o.ari.DeleteBridge(ctx, res.bridgeID); err != nil {
			call.logger.Debug("Мост не удален",
				slog.String("bridge_id", res.bridgeID),
				slog.String("error", err.Error()))
		}
	}

	if res.sipChannelID != "" {
		o.waiters.forget(res.sipChannelID)
	}
	if o.calls.Remove(call) {
		o.metrics.ActiveCalls.Dec()
	}
	_ = call.fire(ctx, eventRelease) // ending → gone, других переходов из ending нет

	ended := newEvent(EventEnded, call)
	ended.Reason = reason
	o.emit(ended)
	call.logger.Info("Звонок завершен", slog.String("reason", reason))
}
