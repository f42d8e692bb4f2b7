package rtp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkFrames(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		wantFull  int
		wantTail  int
		wantCount int
	}{
		{"Ровно 20 кадров", 3200, 20, 0, 20},
		{"19 кадров и хвост 150 байт", 3190, 19, 150, 20},
		{"Меньше одного кадра", 100, 0, 100, 1},
		{"Пустой буфер", 0, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.size)
			for i := range data {
				data[i] = byte(i)
			}

			frames := ChunkFrames(data, 160)
			require.Len(t, frames, tt.wantCount)

			full := 0
			for _, f := range frames {
				if len(f) == 160 {
					full++
				}
			}
			assert.Equal(t, tt.wantFull, full)
			if tt.wantTail > 0 {
				assert.Len(t, frames[len(frames)-1], tt.wantTail)
			}

			// Склейка кадров дает исходный буфер без потерь
			assert.True(t, bytes.Equal(data, bytes.Join(frames, nil)))
		})
	}
}

func TestPacketizerSequence(t *testing.T) {
	p := NewPacketizer(0, DefaultSSRC)
	frame := make([]byte, 160)

	var prevSeq uint16
	var prevTS uint32
	for i := 0; i < 5; i++ {
		data, err := p.Packetize(frame)
		require.NoError(t, err)
		require.Len(t, data, HeaderSize+160)

		assert.Equal(t, byte(0x80), data[0], "версия 2 без padding/extension")
		assert.Equal(t, byte(0x00), data[1], "PT 0 без маркера")

		packet, err := ParsePacket(data)
		require.NoError(t, err)
		assert.Equal(t, DefaultSSRC, packet.SSRC)

		if i == 0 {
			assert.Equal(t, uint16(0), packet.SequenceNumber)
			assert.Equal(t, uint32(0), packet.Timestamp)
		} else {
			assert.Equal(t, prevSeq+1, packet.SequenceNumber)
			assert.Equal(t, prevTS+TimestampStep, packet.Timestamp)
		}
		prevSeq, prevTS = packet.SequenceNumber, packet.Timestamp
	}
}

func TestPacketizerSequenceWraps(t *testing.T) {
	p := NewPacketizer(0, DefaultSSRC)
	p.sequence = 0xffff

	first, err := p.Packetize([]byte{1})
	require.NoError(t, err)
	second, err := p.Packetize([]byte{2})
	require.NoError(t, err)

	a, _ := ParsePacket(first)
	b, _ := ParsePacket(second)
	assert.Equal(t, uint16(0xffff), a.SequenceNumber)
	assert.Equal(t, uint16(0), b.SequenceNumber)
}

func TestParsePacketRejectsShort(t *testing.T) {
	_, err := ParsePacket(make([]byte, HeaderSize))
	assert.ErrorIs(t, err, errShortPacket)

	_, err = ParsePacket([]byte{0x80})
	assert.Error(t, err)
}
