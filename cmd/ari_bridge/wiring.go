package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/arzzra/ari_bridge/pkg/ari"
	"github.com/arzzra/ari_bridge/pkg/bridge"
	"github.com/arzzra/ari_bridge/pkg/config"
	"github.com/arzzra/ari_bridge/pkg/logging"
	"github.com/arzzra/ari_bridge/pkg/rtp"
	openaispeech "github.com/arzzra/ari_bridge/pkg/speech/openai"
)

// app собранные компоненты процесса
type app struct {
	config   *config.Config
	logger   *slog.Logger
	closeLog func() error
	registry *prometheus.Registry

	ari          *ari.Client
	ariMetrics   *ari.Metrics
	orchestrator *bridge.Orchestrator
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// buildApp загружает конфигурацию и собирает оркестратор. sink может быть nil.
func buildApp(sink func(*config.Config, *slog.Logger) bridge.EventSink) (*app, error) {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.Setup(cfg.Log, nil)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	reg := newRegistry()
	ariMetrics := ari.NewMetrics(reg)
	rtpMetrics := rtp.NewMetrics(reg)

	client, err := ari.NewClient(ari.ClientConfig{
		BaseURL:  cfg.ARI.URL,
		Username: cfg.ARI.Username,
		Password: cfg.ARI.Password,
		Logger:   logger,
		Metrics:  ariMetrics,
	})
	if err != nil {
		closeLog()
		return nil, err
	}

	ports, err := rtp.NewPortAllocator(cfg.RTP.BindHost, cfg.RTP.Port, rtpMetrics)
	if err != nil {
		closeLog()
		return nil, err
	}

	deps := bridge.Dependencies{
		ARI:        client,
		Ports:      ports,
		Logger:     logger,
		Metrics:    bridge.NewMetrics(reg),
		RTPMetrics: rtpMetrics,
	}
	if sink != nil {
		deps.Sink = sink(cfg, logger)
	}

	if cfg.SpeechEnabled() {
		stt, err := openaispeech.NewSTT(openaispeech.STTConfig{
			APIKey: cfg.OpenAI.APIKey,
			Model:  cfg.OpenAI.STTModel,
			URL:    cfg.OpenAI.RealtimeURL,
			Logger: logger,
		})
		if err != nil {
			closeLog()
			return nil, fmt.Errorf("ошибка настройки распознавания: %w", err)
		}
		tts, err := openaispeech.NewTTS(openaispeech.TTSConfig{
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.TTSModel,
			Voice:   cfg.OpenAI.TTSVoice,
			BaseURL: cfg.OpenAI.BaseURL,
		})
		if err != nil {
			closeLog()
			return nil, fmt.Errorf("ошибка настройки синтеза: %w", err)
		}
		deps.STT = stt
		deps.TTS = tts
	} else {
		logger.Warn("Ключ OpenAI не задан, мост работает без распознавания и синтеза")
	}

	orch, err := bridge.New(bridge.Config{
		App:         cfg.ARI.App,
		Trunk:       cfg.ARI.Trunk,
		Codec:       cfg.Codec(),
		RTPHost:     cfg.RTP.Host,
		DialTimeout: cfg.ARI.DialTimeout,
		PeerWait:    cfg.RTP.PeerWait,
	}, deps)
	if err != nil {
		closeLog()
		return nil, err
	}

	return &app{
		config:       cfg,
		logger:       logger,
		closeLog:     closeLog,
		registry:     reg,
		ari:          client,
		ariMetrics:   ariMetrics,
		orchestrator: orch,
	}, nil
}
