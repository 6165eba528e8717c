//go:build unix

package connfinder

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// socketReadable performs a one-byte, non-blocking peek at conn's
// receive buffer to detect a connection the peer has already closed or
// reset, the same MSG_PEEK|MSG_DONTWAIT
// technique core/optimize's per-GOOS files use for the SIMD dispatch --
// a single syscall distinguishing "still open" from "already dead"
// without consuming any bytes.
func socketReadable(conn net.Conn) bool {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return true
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return true
	}
	buf := make([]byte, 1)
	healthy := true
	err = raw.Read(func(fd uintptr) bool {
		n, _, rerr := unix.Recvfrom(int(fd), buf, unix.MSG_PEEK|unix.MSG_DONTWAIT)
		switch {
		case rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK:
			healthy = true
		case rerr != nil:
			healthy = false
		case n == 0:
			// Peer sent FIN: the stream is at EOF, not usable for reuse.
			healthy = false
		default:
			healthy = true
		}
		return true
	})
	if err != nil {
		return true
	}
	return healthy
}
