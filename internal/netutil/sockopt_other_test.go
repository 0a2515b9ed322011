//go:build !(linux || darwin || freebsd)

package netutil

import (
	"errors"
	"syscall"
)

func rcvBufSize(conn syscall.Conn) (int, error) {
	return 0, errors.New("socket buffer size not readable on this platform")
}
