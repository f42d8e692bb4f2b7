// Package config загружает настройки моста: YAML файл, затем .env, затем
// переменные окружения. Каждый следующий источник перекрывает предыдущий.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	"github.com/arzzra/ari_bridge/pkg/media"
)

// ARIConfig подключение к Asterisk REST Interface
type ARIConfig struct {
	URL            string        `yaml:"url"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	App            string        `yaml:"app"`
	Trunk          string        `yaml:"trunk"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
}

// RTPConfig медиа сторона моста
type RTPConfig struct {
	// Host адрес, который Asterisk получает в external_host
	Host string `yaml:"host"`
	// BindHost локальный адрес, на котором открываются RTP сокеты
	BindHost string `yaml:"bind_host"`

	Port     int           `yaml:"port"`
	Codec    string        `yaml:"codec"`
	PeerWait time.Duration `yaml:"peer_wait"`
}

// OpenAIConfig распознавание и синтез речи. Без ключа мост работает без речи.
type OpenAIConfig struct {
	APIKey      string `yaml:"api_key"`
	STTModel    string `yaml:"stt_model"`
	RealtimeURL string `yaml:"realtime_url"`
	TTSModel    string `yaml:"tts_model"`
	TTSVoice    string `yaml:"tts_voice"`
	BaseURL     string `yaml:"base_url"`
}

// LogConfig параметры журналирования
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File пустой путь отключает запись в файл
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ServerConfig HTTP интерфейсы моста
type ServerConfig struct {
	ControlListen string `yaml:"control_listen"`
	MetricsListen string `yaml:"metrics_listen"`
	// EventsWebhook адрес, куда отправляются события звонков
	EventsWebhook string `yaml:"events_webhook"`
}

// Config полная конфигурация процесса
type Config struct {
	ARI    ARIConfig    `yaml:"ari"`
	RTP    RTPConfig    `yaml:"rtp"`
	OpenAI OpenAIConfig `yaml:"openai"`
	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
}

// Default значения по умолчанию
func Default() *Config {
	return &Config{
		ARI: ARIConfig{
			URL:            "http://127.0.0.1:8088",
			App:            "ari-bridge",
			ReconnectDelay: 1500 * time.Millisecond,
			DialTimeout:    8 * time.Second,
		},
		RTP: RTPConfig{
			Host:     "127.0.0.1",
			BindHost: "0.0.0.0",
			Port:     40000,
			Codec:    string(media.CodecUlaw),
			PeerWait: 300 * time.Millisecond,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Server: ServerConfig{
			ControlListen: ":8090",
			MetricsListen: ":9090",
		},
	}
}

// Load читает конфигурацию. path и envFile могут быть пустыми.
// Отсутствующий .env не считается ошибкой.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения конфигурации %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("ошибка разбора конфигурации %s: %w", path, err)
		}
	}

	if envFile != "" {
		// Load не перезаписывает уже заданные переменные окружения
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("ошибка чтения %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("ARI_URL", &c.ARI.URL)
	str("ARI_USERNAME", &c.ARI.Username)
	str("ARI_PASSWORD", &c.ARI.Password)
	str("ARI_APP", &c.ARI.App)
	str("ARI_TRUNK", &c.ARI.Trunk)
	str("RTP_HOST", &c.RTP.Host)
	str("RTP_BIND_HOST", &c.RTP.BindHost)
	str("RTP_CODEC", &c.RTP.Codec)
	str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	str("OPENAI_REALTIME_STT_MODEL", &c.OpenAI.STTModel)
	str("OPENAI_TTS_MODEL", &c.OpenAI.TTSModel)
	str("OPENAI_TTS_VOICE", &c.OpenAI.TTSVoice)
	str("LOG_LEVEL", &c.Log.Level)
	str("EVENTS_WEBHOOK_URL", &c.Server.EventsWebhook)

	if v, ok := lookup("RTP_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("некорректный RTP_PORT %q: %w", v, err)
		}
		c.RTP.Port = port
	}
	if v, ok := lookup("ARI_DIAL_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("некорректный ARI_DIAL_TIMEOUT %q: %w", v, err)
		}
		c.ARI.DialTimeout = d
	}
	return nil
}

// Validate проверяет то, без чего мост не запустится
func (c *Config) Validate() error {
	u, err := url.Parse(c.ARI.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("некорректный ARI URL: %q", c.ARI.URL)
	}
	if strings.TrimSpace(c.ARI.App) == "" {
		return fmt.Errorf("не задано имя ARI приложения")
	}
	if c.ARI.DialTimeout <= 0 {
		return fmt.Errorf("таймаут набора должен быть положительным")
	}
	if _, err := media.ParseCodec(c.RTP.Codec); err != nil {
		return err
	}
	if c.RTP.Port < 1024 || c.RTP.Port > 65535 {
		return fmt.Errorf("RTP порт вне диапазона 1024-65535: %d", c.RTP.Port)
	}
	if c.RTP.Host == "" {
		return fmt.Errorf("не задан RTP адрес")
	}
	if c.RTP.BindHost == "" {
		return fmt.Errorf("не задан локальный RTP адрес")
	}
	return nil
}

// Codec кодек канала внешнего медиа. Вызывать после Validate.
func (c *Config) Codec() media.Codec {
	codec, _ := media.ParseCodec(c.RTP.Codec)
	return codec
}

// SpeechEnabled задан ли ключ для распознавания и синтеза
func (c *Config) SpeechEnabled() bool {
	return strings.TrimSpace(c.OpenAI.APIKey) != ""
}
