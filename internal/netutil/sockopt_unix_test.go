//go:build linux || darwin || freebsd

package netutil

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// rcvBufSize reads back the receive buffer size of a connection. The kernel
// may round or double the requested value.
func rcvBufSize(conn syscall.Conn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var size int
	var serr error
	if err := raw.Control(func(fd uintptr) {
		size, serr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF)
	}); err != nil {
		return 0, err
	}
	return size, serr
}
