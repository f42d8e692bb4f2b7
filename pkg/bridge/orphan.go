package bridge

import (
	"context"
	"fmt"
	"log/slog"
)

// RecoverOrphans завершает каналы внешнего медиа нашего приложения,
// которые не принадлежат ни одному живому звонку. Такие каналы остаются
// после падения процесса или разрыва потока событий до StasisEnd.
// Возвращает число завершенных каналов.
func (o *Orchestrator) RecoverOrphans(ctx context.Context) (int, error) {
	channels, err := o.ari.ListChannels(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения списка каналов: %w", err)
	}

	tracked := o.calls.ExternalMediaChannels()

	recovered := 0
	for _, ch := range channels {
		if ch.ID == "" || !ch.IsExternalMedia() || !ch.InApp(o.config.App) {
			continue
		}
		if _, ok := tracked[ch.ID]; ok {
			continue
		}

		if err := o.ari.HangupOrDelete(ctx, ch.ID); err != nil {
			o.logger.Warn("Не удалось завершить осиротевший канал",
				slog.String("channel_id", ch.ID),
				slog.String("error", err.Error()))
			continue
		}
		recovered++
		o.metrics.OrphansHungUp.Inc()
		o.logger.Info("Завершен осиротевший канал внешнего медиа",
			slog.String("channel_id", ch.ID),
			slog.String("channel_name", ch.Name))
	}
	return recovered, nil
}

// OnStreamConnect запускается после каждого подключения потока событий
func (o *Orchestrator) OnStreamConnect(ctx context.Context) {
	if _, err := o.RecoverOrphans(ctx); err != nil {
		o.logger.Warn("Ошибка восстановления после подключения", slog.String("error", err.Error()))
	}
}
