// Package netutil builds relay sockets and classifies the errors they end
// with.
//
// Connection error helpers (IsExpectedCloseError) separate normal teardown,
// where one side hangs up and the other side's in-flight read or write fails
// as a result, from real I/O failures worth reporting.
package netutil

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal connection termination:
// EOF, closed connection, broken pipe, or connection reset.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// SocketOptions are applied to every socket created through them before it
// binds or connects.
type SocketOptions struct {
	// SockBuf sets SO_RCVBUF and SO_SNDBUF when positive. Accepted sockets
	// inherit it from the listener.
	SockBuf int
}

// Listen binds a listener with SO_REUSEADDR so a restarted relay can take its
// port back while old connections linger in TIME_WAIT.
func (o SocketOptions) Listen(ctx context.Context, network, address string) (net.Listener, error) {
	lc := net.ListenConfig{Control: o.control(true)}
	return lc.Listen(ctx, network, address)
}

// Dial connects to address. Deadlines come from ctx.
func (o SocketOptions) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	d := net.Dialer{Control: o.control(false)}
	return d.DialContext(ctx, network, address)
}

func (o SocketOptions) control(listener bool) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var serr error
		err := c.Control(func(fd uintptr) {
			serr = setSockOpts(fd, listener, o.SockBuf)
		})
		if err != nil {
			return err
		}
		return serr
	}
}

// Listen is SocketOptions{}.Listen.
func Listen(ctx context.Context, network, address string) (net.Listener, error) {
	return SocketOptions{}.Listen(ctx, network, address)
}
