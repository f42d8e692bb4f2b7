package media

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// PCM16ToMulaw8k переводит моно PCM16 (little-endian) с частотой srcRate
// в μ-law 8 кГц, пригодный для отправки в RTP кадрах по 160 байт.
//
// Используется на пути синтеза речи: TTS движки отдают PCM 24 кГц.
func PCM16ToMulaw8k(pcm []byte, srcRate int) ([]byte, error) {
	if srcRate <= 0 {
		return nil, fmt.Errorf("некорректная частота дискретизации: %d", srcRate)
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	if srcRate == SampleRate {
		return PCM16ToMulaw(pcm), nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(SampleRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания ресемплера: %w", err)
	}

	input := make([]float64, len(pcm)/2)
	for i := range input {
		sample := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		input[i] = float64(sample) / 32768.0
	}

	output, err := r.Process(input)
	if err != nil {
		return nil, fmt.Errorf("ошибка ресемплинга: %w", err)
	}

	out := make([]byte, len(output))
	for i, s := range output {
		switch {
		case s >= 1.0:
			out[i] = LinearToMulaw(32767)
		case s <= -1.0:
			out[i] = LinearToMulaw(-32767)
		default:
			out[i] = LinearToMulaw(int16(s * 32767.0))
		}
	}
	return out, nil
}
