//go:build !linux

package rtp

import (
	"errors"
	"syscall"
)

func controlVoiceSocket(_, _ string, _ syscall.RawConn) error {
	return nil
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
