//go:build linux || darwin || freebsd

package netutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func setSockOpts(fd uintptr, listener bool, sockBuf int) error {
	if listener {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return fmt.Errorf("SO_REUSEADDR: %w", err)
		}
	}
	if sockBuf > 0 {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, sockBuf); err != nil {
			return fmt.Errorf("SO_RCVBUF: %w", err)
		}
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, sockBuf); err != nil {
			return fmt.Errorf("SO_SNDBUF: %w", err)
		}
	}
	return nil
}
