package rtp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzzra/ari_bridge/pkg/media"
)

// DefaultPeerWait сколько ждать первого входящего пакета перед воспроизведением
const DefaultPeerWait = 300 * time.Millisecond

// PayloadHandler получает μ-law полезную нагрузку входящих пакетов.
// Буфер принадлежит обработчику.
type PayloadHandler func(payload []byte)

// SessionConfig параметры RTP сессии одного звонка
type SessionConfig struct {
	// Codec кодек внешнего медиа канала. A-law перекодируется в μ-law на приеме.
	Codec media.Codec

	// PeerWait время ожидания пира перед первой отправкой
	PeerWait time.Duration

	SSRC    uint32
	Logger  *slog.Logger
	Metrics *Metrics
}

// Session RTP поток одного звонка поверх собственного UDP сокета.
// Удаленный адрес фиксируется по первому пакету и больше не меняется.
type Session struct {
	conn       *net.UDPConn
	config     SessionConfig
	handler    PayloadHandler
	packetizer *Packetizer
	logger     *slog.Logger
	metrics    *Metrics

	peer      atomic.Pointer[netip.AddrPort]
	peerReady chan struct{}
	peerOnce  sync.Once

	// Play одного звонка не должны перемешивать кадры
	playMutex sync.Mutex

	received atomic.Uint64
	dropped  atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// SessionStats счетчики входящих пакетов сессии
type SessionStats struct {
	Received uint64
	Dropped  uint64
}

// NewSession запускает прием пакетов на conn. Сессия владеет conn и
// закрывает его в Close. handler может быть nil.
func NewSession(conn *net.UDPConn, config SessionConfig, handler PayloadHandler) *Session {
	if config.Codec == "" {
		config.Codec = media.CodecUlaw
	}
	if config.PeerWait <= 0 {
		config.PeerWait = DefaultPeerWait
	}
	if config.SSRC == 0 {
		config.SSRC = DefaultSSRC
	}
	if config.Metrics == nil {
		config.Metrics = NewMetrics(nil)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		conn:   conn,
		config: config,
		// Исходящий поток всегда μ-law (PT 0)
		packetizer: NewPacketizer(media.CodecUlaw.PayloadType(), config.SSRC),
		handler:    handler,
		logger:     logger.With(slog.Int("rtp_port", localPort(conn))),
		metrics:    config.Metrics,
		peerReady:  make(chan struct{}),
		done:       make(chan struct{}),
	}

	go s.readLoop()
	return s
}

// Port возвращает локальный UDP порт сессии
func (s *Session) Port() int {
	return localPort(s.conn)
}

// Peer возвращает выученный адрес удаленной стороны
func (s *Session) Peer() (netip.AddrPort, bool) {
	p := s.peer.Load()
	if p == nil {
		return netip.AddrPort{}, false
	}
	return *p, true
}

// Stats возвращает счетчики входящих пакетов
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Received: s.received.Load(),
		Dropped:  s.dropped.Load(),
	}
}

// Closed сообщает, была ли сессия закрыта
func (s *Session) Closed() bool {
	return s.closed.Load()
}

func (s *Session) readLoop() {
	defer close(s.done)

	buffer := make([]byte, MaxPacketSize)
	for {
		n, from, err := s.conn.ReadFromUDPAddrPort(buffer)
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Debug("Ошибка чтения RTP", slog.String("error", err.Error()))
			continue
		}
		s.handleDatagram(buffer[:n], netip.AddrPortFrom(from.Addr().Unmap(), from.Port()))
	}
}

func (s *Session) handleDatagram(data []byte, from netip.AddrPort) {
	if len(data) <= HeaderSize {
		s.drop(DropShort)
		return
	}

	// Пиром становится только отправитель корректного RTP пакета
	packet, err := ParsePacket(data)
	if err != nil {
		s.drop(DropMalformed)
		return
	}

	if s.peer.CompareAndSwap(nil, &from) {
		s.peerOnce.Do(func() { close(s.peerReady) })
		s.logger.Debug("RTP пир определен", slog.String("peer", from.String()))
	}
	if *s.peer.Load() != from {
		s.drop(DropForeignPeer)
		return
	}

	var payload []byte
	if s.config.Codec == media.CodecAlaw {
		payload = media.AlawToMulaw(packet.Payload)
	} else {
		// packet.Payload ссылается на буфер чтения
		payload = append([]byte(nil), packet.Payload...)
	}

	s.received.Add(1)
	s.metrics.PacketsReceived.Inc()
	if s.handler != nil {
		s.handler(payload)
	}
}

func (s *Session) drop(reason string) {
	s.dropped.Add(1)
	s.metrics.PacketsDropped.WithLabelValues(reason).Inc()
}

// WaitPeer ждет первого входящего пакета не дольше timeout
func (s *Session) WaitPeer(ctx context.Context, timeout time.Duration) error {
	if s.peer.Load() != nil {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.peerReady:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-timer.C:
		return ErrNoPeer
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Play отправляет μ-law аудио кадрами по 20 мс в темпе реального времени.
// keepGoing проверяется перед каждым кадром: false прерывает воспроизведение
// без ошибки. Возвращает число отправленных кадров.
func (s *Session) Play(ctx context.Context, audio []byte, keepGoing func() bool) (int, error) {
	if s.closed.Load() {
		return 0, ErrSessionClosed
	}
	if err := s.WaitPeer(ctx, s.config.PeerWait); err != nil {
		return 0, err
	}
	peer := *s.peer.Load()

	s.playMutex.Lock()
	defer s.playMutex.Unlock()

	frames := ChunkFrames(audio, media.FrameSize)
	pacing := time.Duration(media.FrameDuration) * time.Millisecond
	timer := time.NewTimer(pacing)
	defer timer.Stop()

	sent := 0
	for i, frame := range frames {
		if keepGoing != nil && !keepGoing() {
			s.logger.Debug("Воспроизведение прервано", slog.Int("sent", sent), slog.Int("frames", len(frames)))
			return sent, nil
		}

		data, err := s.packetizer.Packetize(frame)
		if err != nil {
			return sent, err
		}
		if _, err := s.conn.WriteToUDPAddrPort(data, peer); err != nil {
			if s.closed.Load() {
				return sent, ErrSessionClosed
			}
			return sent, fmt.Errorf("ошибка отправки RTP пакета: %w", err)
		}
		sent++
		s.metrics.PacketsSent.Inc()

		if i == len(frames)-1 {
			break
		}

		timer.Reset(pacing)
		select {
		case <-timer.C:
		case <-ctx.Done():
			return sent, ctx.Err()
		case <-s.done:
			return sent, ErrSessionClosed
		}
	}
	return sent, nil
}

// Close закрывает сокет и останавливает прием. Повторные вызовы безопасны.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.conn.Close()
		<-s.done
	})
	return s.closeErr
}

func localPort(conn *net.UDPConn) int {
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return 0
}
