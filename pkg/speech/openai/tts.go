package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/arzzra/ari_bridge/pkg/media"
)

// pcmSampleRate частота PCM ответа Audio Speech API
const pcmSampleRate = 24000

const (
	DefaultTTSModel = "tts-1"
	DefaultTTSVoice = "alloy"
)

// TTSConfig параметры синтеза
type TTSConfig struct {
	APIKey  string
	Model   string
	Voice   string
	BaseURL string

	HTTPClient *http.Client
}

// TTS синтез речи в μ-law 8 кГц
type TTS struct {
	client openai.Client
	model  string
	voice  string
}

// NewTTS создает синтезатор. Без ключа API синтез невозможен.
func NewTTS(config TTSConfig) (*TTS, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("не задан ключ OpenAI API")
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(config.HTTPClient))
	}

	model := config.Model
	if model == "" {
		model = DefaultTTSModel
	}
	voice := config.Voice
	if voice == "" {
		voice = DefaultTTSVoice
	}

	return &TTS{
		client: openai.NewClient(opts...),
		model:  model,
		voice:  voice,
	}, nil
}

// Synthesize возвращает μ-law 8 кГц, готовый к нарезке на RTP кадры
func (t *TTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := t.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(t.model),
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoice(t.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка синтеза речи: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения синтезированного аудио: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("синтез вернул пустое аудио")
	}

	return media.PCM16ToMulaw8k(pcm, pcmSampleRate)
}
