package media

import (
	"fmt"
	"strings"

	"github.com/zaf/g711"
)

// Codec имя G.711 варианта в терминах канала внешнего медиа
type Codec string

const (
	CodecUlaw Codec = "ulaw" // G.711 μ-law, PT 0
	CodecAlaw Codec = "alaw" // G.711 A-law, PT 8
)

// Параметры G.711 потока: 8 кГц, 1 байт на отсчет, пакет 20 мс
const (
	SampleRate    = 8000
	FrameDuration = 20 // мс
	FrameSize     = SampleRate * FrameDuration / 1000
)

// ParseCodec разбирает имя кодека из конфигурации
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ulaw", "mulaw", "pcmu", "g711u":
		return CodecUlaw, nil
	case "alaw", "pcma", "g711a":
		return CodecAlaw, nil
	default:
		return "", fmt.Errorf("неподдерживаемый кодек: %q", name)
	}
}

// PayloadType возвращает статический RTP payload type кодека
func (c Codec) PayloadType() uint8 {
	if c == CodecAlaw {
		return 8
	}
	return 0
}

func (c Codec) String() string {
	return string(c)
}

// LinearToMulaw кодирует 16-битный линейный отсчет в μ-law байт
func LinearToMulaw(sample int16) byte {
	return g711.EncodeUlawFrame(sample)
}

// AlawToMulaw перекодирует A-law полезную нагрузку в μ-law.
// Возвращает новый буфер, исходный не изменяется.
func AlawToMulaw(payload []byte) []byte {
	return g711.Alaw2Ulaw(payload)
}

// PCM16ToMulaw кодирует little-endian PCM16 в μ-law без смены частоты.
// Нечетный хвост отбрасывается.
func PCM16ToMulaw(pcm []byte) []byte {
	return g711.EncodeUlaw(pcm[:len(pcm)&^1])
}
