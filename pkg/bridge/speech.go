package bridge

import "context"

// SpeechCallbacks обработчики событий сессии распознавания
type SpeechCallbacks struct {
	// OnSpeechStart абонент начал говорить (barge-in)
	OnSpeechStart func()
	// OnTranscript финальный текст фразы
	OnTranscript func(text string)
}

// SpeechSession открытая сессия распознавания речи одного звонка
type SpeechSession interface {
	// SendAudio передает μ-law 8 кГц. Не должен блокироваться надолго.
	SendAudio(mulaw []byte)
	Close() error
}

// STTProvider открывает сессии распознавания
type STTProvider interface {
	Connect(ctx context.Context, callbacks SpeechCallbacks) (SpeechSession, error)
}

// TTSProvider синтезирует речь в μ-law 8 кГц
type TTSProvider interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
