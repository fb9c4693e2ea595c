// Package netio wraps the blocking datagram socket operations the FSMs and
// broker need: a bounded receive that normalizes platform-specific
// would-block/timeout errors into a single retryable signal, and
// socket-option wiring for the listening sockets.
package netio

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ErrRetry is the single retryable failure signal bounded receive
// normalizes all "would block"/"timed out" conditions into. Callers treat
// it as "no packet this turn" and loop.
var ErrRetry = errors.New("netio: receive timed out")

// MaxDatagram is big enough to hold any packet this protocol negotiates:
// packet_size is bounded by a 16-bit field.
const MaxDatagram = 1 << 16

// ReadPacket performs one bounded receive on conn: it sets the read
// deadline to timeout from now, reads a single datagram, and returns
// ErrRetry (never a raw net.Error) if the deadline elapses before data
// arrives.
func ReadPacket(conn net.PacketConn, timeout time.Duration) ([]byte, net.Addr, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, err
	}
	buf := make([]byte, MaxDatagram)
	n, addr, err := conn.ReadFrom(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil, ErrRetry
		}
		return nil, nil, err
	}
	return buf[:n], addr, nil
}

// ResolveAddr resolves a "host:port" string to a UDP address, the peer
// form every binary's --bind/--addr flag ultimately needs.
func ResolveAddr(addr string) (net.Addr, error) {
	return net.ResolveUDPAddr("udp", addr)
}

// Listen opens a UDP socket bound to addr with SO_REUSEADDR set, so a
// restarted process can rebind the same port before the kernel has
// finished tearing down the previous socket.
func Listen(ctx context.Context, addr string) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}
