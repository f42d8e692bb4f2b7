package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/arzzra/ari_bridge/pkg/ari"
	"github.com/arzzra/ari_bridge/pkg/bridge"
	"github.com/arzzra/ari_bridge/pkg/config"
	"github.com/arzzra/ari_bridge/pkg/control"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить мост",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var webhook *control.WebhookSink
	a, err := buildApp(func(cfg *config.Config, logger *slog.Logger) bridge.EventSink {
		if cfg.Server.EventsWebhook == "" {
			return control.LogSink(logger)
		}
		webhook = control.NewWebhookSink(cfg.Server.EventsWebhook, nil, logger)
		return webhook
	})
	if err != nil {
		return err
	}
	defer a.closeLog()

	stream, err := ari.NewEventStream(ari.EventStreamConfig{
		BaseURL:        a.config.ARI.URL,
		Username:       a.config.ARI.Username,
		Password:       a.config.ARI.Password,
		App:            a.config.ARI.App,
		ReconnectDelay: a.config.ARI.ReconnectDelay,
		OnConnect:      a.orchestrator.OnStreamConnect,
		Logger:         a.logger,
		Metrics:        a.ariMetrics,
	}, a.orchestrator.HandleEvent)
	if err != nil {
		return err
	}

	// Метрики на отдельном адресе, если он задан, иначе на сервере управления
	serverConfig := control.ServerConfig{
		Bridge:    a.orchestrator,
		Connected: stream.Connected,
		Logger:    a.logger,
	}
	separateMetrics := a.config.Server.MetricsListen != "" && a.config.Server.MetricsListen != a.config.Server.ControlListen
	if !separateMetrics {
		serverConfig.Gatherer = a.registry
	}
	server := control.NewServer(serverConfig)

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.ListenAndServe(ctx, a.config.Server.ControlListen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if separateMetrics {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := serveMetrics(ctx, a); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	a.logger.Info("Мост запущен",
		slog.String("ari_url", a.config.ARI.URL),
		slog.String("app", a.config.ARI.App),
		slog.String("control", a.config.Server.ControlListen))

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Получен сигнал завершения")
	case runErr = <-errCh:
		a.logger.Error("Компонент остановлен с ошибкой", slog.String("error", runErr.Error()))
	}
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancelShutdown()

	if err := a.orchestrator.Close(shutdownCtx); err != nil {
		a.logger.Warn("Не все звонки завершены корректно", slog.String("error", err.Error()))
	}
	if webhook != nil {
		if err := webhook.Close(shutdownCtx); err != nil {
			a.logger.Warn("Не все события доставлены", slog.String("error", err.Error()))
		}
	}

	wg.Wait()
	a.logger.Info("Мост остановлен")
	return runErr
}

func serveMetrics(ctx context.Context, a *app) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              a.config.Server.MetricsListen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.logger.Info("Запуск HTTP сервера метрик", slog.String("addr", srv.Addr))
	return srv.ListenAndServe()
}
