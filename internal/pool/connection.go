package pool

import (
	"crypto/tls"
	"net"
	"runtime/debug"
	"sync"
	"time"
	"weak"

	"github.com/searchktools/fastclient/internal/codec"
)

// CallToken is the opaque object a Call owns and hands to the pool when
// it acquires a connection. The pool never dereferences a CallToken; it
// only tracks whether one is still reachable, via weak.Pointer, to
// detect a Call that was abandoned without releasing its connection.
type CallToken struct {
	_ byte // ensure distinct identity even for zero-sized Call state
}

// NewCallToken allocates a fresh token for a Call to hold for the
// lifetime of its connection use.
func NewCallToken() *CallToken { return &CallToken{} }

type callRef struct {
	weak  weak.Pointer[CallToken]
	stack string
}

// Connection owns one dialed socket, the codec factory bound to it, and
// the bookkeeping the pool needs to decide eligibility and idle eviction.
//
// Grounded on core/engine.go's Connection type (fd/state/lastActive
// fields) and on core/pools/connection_pool.go's pool-of-poolables shape,
// generalized from "recycle a byte buffer" to "track which calls are
// riding this socket".
type Connection struct {
	Route Route
	Conn  net.Conn

	CodecFactory func() codec.Codec
	Protocol     string // "http/1.1" or "h2"
	Multiplexed  bool
	Handshake    *tls.ConnectionState

	mu             sync.Mutex
	calls          []callRef
	noNewExchanges bool
	idleSince      time.Time
	successCount   int
}

// Route is the pool's own eligibility key (host, port, proxy address,
// TLS-ness), kept here so this package does not import the root package
// (which would create an import cycle). It is not the same shape as the
// root package's Route; the connection finder derives it from an Address.
type Route struct {
	Host      string
	Port      int
	ProxyAddr string
	IsTLS     bool
}

// NewConnection wraps a dialed socket for the pool.
func NewConnection(route Route, conn net.Conn, factory func() codec.Codec, protocol string, multiplexed bool) *Connection {
	return &Connection{
		Route:        route,
		Conn:         conn,
		CodecFactory: factory,
		Protocol:     protocol,
		Multiplexed:  multiplexed,
		idleSince:    time.Time{},
	}
}

// AddCall registers token as a live user of this connection, capturing
// the calling goroutine's stack for leak diagnostics.
func (c *Connection) AddCall(token *CallToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, callRef{
		weak:  weak.Make(token),
		stack: string(debug.Stack()),
	})
}

// RemoveCall drops token from the live-calls list, returning true if the
// list became empty as a result (the connection just went idle).
func (c *Connection) RemoveCall(token *CallToken) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, ref := range c.calls {
		if ref.weak.Value() == token {
			c.calls = append(c.calls[:i], c.calls[i+1:]...)
			break
		}
	}
	return len(c.calls) == 0
}

// IsInUse reports whether this connection currently carries at least one
// live call.
func (c *Connection) IsInUse() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls) > 0
}

// NoNewExchanges reports whether this connection has been retired and
// must not accept another exchange.
func (c *Connection) NoNewExchanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.noNewExchanges
}

// SetNoNewExchanges retires the connection from accepting further
// exchanges; existing exchanges already bound to it continue.
func (c *Connection) SetNoNewExchanges() {
	c.mu.Lock()
	c.noNewExchanges = true
	c.mu.Unlock()
}

// IncrementSuccessCount records a successfully completed exchange on
// this connection; the connection finder does not consult the count.
func (c *Connection) IncrementSuccessCount() {
	c.mu.Lock()
	c.successCount++
	c.mu.Unlock()
}

// IsHealthy runs the cheap liveness check the connection finder performs
// before handing out a reused connection: the socket must
// still be open and not have been retired.
func (c *Connection) IsHealthy(peek func(net.Conn) bool) bool {
	if c.NoNewExchanges() {
		return false
	}
	return peek(c.Conn)
}

// Close closes the underlying socket. Must only be called after the
// connection has been removed from the pool.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
