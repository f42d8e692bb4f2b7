package rtp

import (
	"fmt"
	"sync"

	"github.com/pion/rtp"
)

// Packetizer формирует исходящие RTP пакеты одного потока.
// Номер последовательности и timestamp продолжаются между
// воспроизведениями, пока жив поток.
type Packetizer struct {
	mutex       sync.Mutex
	payloadType uint8
	ssrc        uint32
	sequence    uint16
	timestamp   uint32
}

// NewPacketizer создает пакетизатор, начинающий с sequence 0 и timestamp 0
func NewPacketizer(payloadType uint8, ssrc uint32) *Packetizer {
	return &Packetizer{
		payloadType: payloadType,
		ssrc:        ssrc,
	}
}

// Packetize добавляет к кадру RTP заголовок и сдвигает счетчики.
// Timestamp растет на TimestampStep для каждого кадра, включая короткий последний.
func (p *Packetizer) Packetize(frame []byte) ([]byte, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	packet := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    p.payloadType,
			SequenceNumber: p.sequence,
			Timestamp:      p.timestamp,
			SSRC:           p.ssrc,
		},
		Payload: frame,
	}

	data, err := packet.Marshal()
	if err != nil {
		return nil, fmt.Errorf("ошибка маршалинга RTP пакета: %w", err)
	}

	p.sequence++
	p.timestamp += TimestampStep
	return data, nil
}

// ChunkFrames режет полезную нагрузку на кадры по size байт.
// Последний кадр может быть короче. Кадры ссылаются на исходный буфер.
func ChunkFrames(data []byte, size int) [][]byte {
	if size <= 0 || len(data) == 0 {
		return nil
	}

	frames := make([][]byte, 0, (len(data)+size-1)/size)
	for offset := 0; offset < len(data); offset += size {
		end := min(offset+size, len(data))
		frames = append(frames, data[offset:end])
	}
	return frames
}

// ParsePacket разбирает входящий датаграм.
// Пакеты без полезной нагрузки (не длиннее заголовка) отклоняются.
func ParsePacket(data []byte) (*rtp.Packet, error) {
	if len(data) <= HeaderSize {
		return nil, errShortPacket
	}

	packet := &rtp.Packet{}
	if err := packet.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("ошибка демаршалинга RTP пакета: %w", err)
	}
	if packet.Version != 2 {
		return nil, fmt.Errorf("неподдерживаемая версия RTP: %d", packet.Version)
	}
	return packet, nil
}
