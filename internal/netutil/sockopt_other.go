//go:build !(linux || darwin || freebsd)

package netutil

func setSockOpts(fd uintptr, listener bool, sockBuf int) error { return nil }
