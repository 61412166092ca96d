//go:build !linux && !darwin

package pool

import "net"

// tuneTCP is a no-op outside Linux/Darwin: golang.org/x/sys/unix's
// SetsockoptInt has no portable equivalent here.
func tuneTCP(conn net.Conn) error { return nil }
