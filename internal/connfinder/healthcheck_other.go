//go:build !unix

package connfinder

import (
	"net"
	"time"
)

// socketReadable is the portable fallback health check for GOOS values
// without MSG_PEEK support: a very short read deadline distinguishes a
// connection with no pending data (healthy) from one that errors
// immediately (closed/reset).
func socketReadable(conn net.Conn) bool {
	_ = conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	defer conn.SetReadDeadline(time.Time{})
	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	if n > 0 {
		return false
	}
	if err == nil {
		return true
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	return false
}
