// Package openai реализует распознавание и синтез речи для моста на OpenAI:
// распознавание через realtime transcription по WebSocket (вход g711_ulaw,
// серверный VAD), синтез через Audio Speech API с переводом PCM 24 кГц в μ-law 8 кГц.
package openai
