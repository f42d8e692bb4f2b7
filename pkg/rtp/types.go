package rtp

import "errors"

// Параметры RTP потока внешнего медиа канала
const (
	// HeaderSize фиксированный размер RTP заголовка без CSRC и расширений
	HeaderSize = 12

	// DefaultSSRC идентификатор источника исходящего потока
	DefaultSSRC uint32 = 0x12345678

	// TimestampStep приращение RTP timestamp на один кадр 20 мс при 8 кГц
	TimestampStep = 160

	// MaxPacketSize размер буфера чтения UDP
	MaxPacketSize = 1500

	// DSCPExpeditedForwarding маркировка EF для голосового трафика (RFC 3246)
	DSCPExpeditedForwarding = 46
)

var (
	// ErrNoPeer адрес удаленной стороны еще не известен, отправлять некуда
	ErrNoPeer = errors.New("RTP пир не определен")

	// ErrSessionClosed сессия уже закрыта
	ErrSessionClosed = errors.New("RTP сессия закрыта")

	errShortPacket = errors.New("пакет не содержит полезной нагрузки")
)
