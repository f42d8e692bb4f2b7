//go:build linux

package rtp

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// voicePriority приоритет сокета для интерактивного аудио
const voicePriority = 6

// controlVoiceSocket выставляет QoS маркировку голосового трафика до bind.
// Ошибки игнорируются: в контейнерах опции часто недоступны.
func controlVoiceSocket(_, _ string, c syscall.RawConn) error {
	return c.Control(func(fd uintptr) {
		// DSCP находится в старших 6 битах TOS поля
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, DSCPExpeditedForwarding<<2)
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PRIORITY, voicePriority)
	})
}

func isAddrInUse(err error) bool {
	return errors.Is(err, unix.EADDRINUSE)
}
