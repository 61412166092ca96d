//go:build linux || darwin

package pool

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// tuneTCP disables Nagle's algorithm on a freshly dialed TCP connection:
// Redis-style request/response traffic is latency-sensitive and small, the
// case TCP_NODELAY exists for. Best-effort — conn not being a syscall.Conn
// (already unusual for a TLS dial over TCP) is not an error.
func tuneTCP(conn net.Conn) error {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	}); err != nil {
		return err
	}
	return sockErr
}
