package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTSSynthesize(t *testing.T) {
	var request map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" || r.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, `{"error":{"message":"bad request"}}`, http.StatusBadRequest)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&request)
		w.Header().Set("Content-Type", "application/octet-stream")
		// 1 секунда тишины PCM16 24 кГц
		_, _ = w.Write(make([]byte, pcmSampleRate*2))
	}))
	defer srv.Close()

	tts, err := NewTTS(TTSConfig{APIKey: "test-key", BaseURL: srv.URL + "/", Voice: "nova"})
	require.NoError(t, err)

	audio, err := tts.Synthesize(context.Background(), "Здравствуйте")
	require.NoError(t, err)

	assert.Equal(t, "Здравствуйте", request["input"])
	assert.Equal(t, "pcm", request["response_format"])
	assert.Equal(t, "nova", request["voice"])
	assert.Equal(t, DefaultTTSModel, request["model"])

	// после ресемплинга 24 -> 8 кГц примерно треть отсчетов, 1 байт на отсчет
	assert.NotEmpty(t, audio)
	assert.LessOrEqual(t, len(audio), 8200)
	assert.GreaterOrEqual(t, len(audio), 4000)
}

func TestTTSErrors(t *testing.T) {
	_, err := NewTTS(TTSConfig{})
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid voice","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	tts, err := NewTTS(TTSConfig{APIKey: "k", BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	_, err = tts.Synthesize(context.Background(), "текст")
	assert.Error(t, err)
}
