// Package pool implements the shared registry of idle/in-use transport
// connections: eligibility matching, keep-alive/idle-count
// eviction, and weak-reference leak detection.
//
// Adapted from core/pools/connection_pool.go: that file pools bare
// *Connection values with sync.Pool plus a gets/puts hit-rate counter;
// this package keeps the same "track every object passing through,
// report stats" posture but replaces recycle-on-Put semantics with
// address-eligibility matching and idle/in-use eviction, since an HTTP
// connection cannot be reset and reused the way a server-side buffer
// can -- it is either still eligible for the same address or retired.
package pool

import (
	"log"
	"sync"
	"time"
)

// Logf is swappable for tests that want to assert on leak log lines
// without depending on a full EventListener wiring at this layer.
var Logf = log.Printf

// TaskRunner is the injected, process-wide serial-queue dependency the
// cleanup algorithm runs on. Production code uses NewSerialTaskRunner;
// tests substitute a manual runner driven by a virtual clock.
type TaskRunner interface {
	// Schedule arranges for task to run after delay. task returns the
	// delay before it should run again, or a negative duration to stop
	// rescheduling.
	Schedule(delay time.Duration, task func() time.Duration)
}

// Config bundles the pool's tunables.
type Config struct {
	MaxIdleConnections int
	KeepAlive          time.Duration
	Runner             TaskRunner
	Now                func() time.Time
}

// ConnectionPool is the concurrent registry of pooled connections,
// shared across every call the Client makes.
type ConnectionPool struct {
	maxIdle   int
	keepAlive time.Duration
	runner    TaskRunner
	now       func() time.Time

	mu          sync.Mutex
	connections map[*Connection]struct{}
	cleanupBusy bool
}

// New creates a ConnectionPool with the given configuration, filling in
// the same sane defaults core/pools.NewConnectionPool uses for its
// capacity argument.
func New(cfg Config) *ConnectionPool {
	if cfg.MaxIdleConnections <= 0 {
		cfg.MaxIdleConnections = 5
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 5 * time.Minute
	}
	if cfg.Runner == nil {
		cfg.Runner = NewSerialTaskRunner()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ConnectionPool{
		maxIdle:     cfg.MaxIdleConnections,
		keepAlive:   cfg.KeepAlive,
		runner:      cfg.Runner,
		now:         cfg.Now,
		connections: make(map[*Connection]struct{}),
	}
}

// Eligible reports whether conn may carry a new exchange bound for
// route: same host/port/TLS-ness/proxy, or, for a multiplexed
// connection, route-coalescing where the resolved IP and certificate
// already serve another host.
func Eligible(conn *Connection, want Route, requireMultiplexed bool) bool {
	if requireMultiplexed && !conn.Multiplexed {
		return false
	}
	if conn.Route.IsTLS == want.IsTLS && conn.Route.Port == want.Port && conn.Route.ProxyAddr == want.ProxyAddr {
		if conn.Route.Host == want.Host {
			return true
		}
		// HTTP/2 route coalescing: the same IP+cert may serve another
		// hostname. Coalescing safety (SAN/cert check) is the caller's
		// responsibility via CoalesceVerify; the pool only checks that
		// the connection is multiplexed and the caller asked for it.
		if conn.Multiplexed && requireMultiplexed {
			return true
		}
	}
	return false
}

// Acquire scans the registry for an eligible, healthy connection and
// attaches token to it. healthy performs the liveness check; it is
// injected so tests can fake socket health without real sockets.
func (p *ConnectionPool) Acquire(want Route, token *CallToken, requireMultiplexed bool, healthy func(*Connection) bool) *Connection {
	p.mu.Lock()
	candidates := make([]*Connection, 0, len(p.connections))
	for c := range p.connections {
		candidates = append(candidates, c)
	}
	p.mu.Unlock()

	for _, c := range candidates {
		c.mu.Lock()
		if c.noNewExchanges {
			c.mu.Unlock()
			continue
		}
		if !Eligible(c, want, requireMultiplexed) {
			c.mu.Unlock()
			continue
		}
		c.mu.Unlock()
		if healthy != nil && !healthy(c) {
			continue
		}
		c.AddCall(token)
		return c
	}
	return nil
}

// Put adds conn to the registry and schedules the cleanup task. A
// connection that has never been idle has its idle time stamped now, so
// cleanup treats it as freshly idle rather than idle since the zero time. A
// connection with NoNewExchanges already set must never be added;
// callers are expected to check this before calling Put, and Put
// defensively refuses otherwise.
func (p *ConnectionPool) Put(conn *Connection) bool {
	if conn.NoNewExchanges() {
		return false
	}
	conn.mu.Lock()
	if conn.idleSince.IsZero() {
		conn.idleSince = p.now()
	}
	conn.mu.Unlock()
	p.mu.Lock()
	p.connections[conn] = struct{}{}
	needsCleanup := !p.cleanupBusy
	if needsCleanup {
		p.cleanupBusy = true
	}
	p.mu.Unlock()
	if needsCleanup {
		p.runner.Schedule(0, p.cleanupRound)
	}
	return true
}

// ConnectionBecameIdle is called when a connection's last call departs:
// it stamps the idle time and schedules cleanup, or reports that the
// caller should close the socket itself immediately (the connection
// was already retired, or the pool allows zero idle connections).
func (p *ConnectionPool) ConnectionBecameIdle(conn *Connection) (shouldClose bool) {
	conn.mu.Lock()
	retired := conn.noNewExchanges
	if !retired {
		conn.idleSince = p.now()
	}
	conn.mu.Unlock()

	if retired || p.maxIdle == 0 {
		p.remove(conn)
		return true
	}
	p.mu.Lock()
	needsCleanup := !p.cleanupBusy
	if needsCleanup {
		p.cleanupBusy = true
	}
	p.mu.Unlock()
	if needsCleanup {
		p.runner.Schedule(0, p.cleanupRound)
	}
	return false
}

func (p *ConnectionPool) remove(conn *Connection) {
	p.mu.Lock()
	delete(p.connections, conn)
	p.mu.Unlock()
}

// Count returns the number of connections currently registered.
func (p *ConnectionPool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.connections)
}

// stoppableRunner is implemented by TaskRunner implementations that own a
// background goroutine (SerialTaskRunner); Close type-asserts for it so a
// ManualTaskRunner in tests doesn't need a no-op Stop method.
type stoppableRunner interface {
	Stop()
}

// Close evicts every connection and stops the runner's background
// goroutine if it owns one. Intended for Client.Close; a long-lived
// process that never shuts down its Client has no need to call it.
func (p *ConnectionPool) Close() {
	p.EvictAll()
	if s, ok := p.runner.(stoppableRunner); ok {
		s.Stop()
	}
}

// EvictAll removes and closes every connection with no live calls,
// marking every remaining (in-use) connection NoNewExchanges so
// concurrent acquirers stop reusing them.
func (p *ConnectionPool) EvictAll() {
	p.mu.Lock()
	all := make([]*Connection, 0, len(p.connections))
	for c := range p.connections {
		all = append(all, c)
	}
	p.mu.Unlock()

	for _, c := range all {
		c.mu.Lock()
		empty := len(c.calls) == 0
		c.noNewExchanges = true
		c.mu.Unlock()
		if empty {
			p.remove(c)
			c.Close()
		}
	}
}

// cleanupRound runs one pass of the cleanup algorithm: leak pruning,
// classification into in-use/idle, and the evict-or-reschedule decision.
// Returns the delay until the next run, or a negative duration to stop.
func (p *ConnectionPool) cleanupRound() time.Duration {
	p.mu.Lock()
	snapshot := make([]*Connection, 0, len(p.connections))
	for c := range p.connections {
		snapshot = append(snapshot, c)
	}
	p.mu.Unlock()

	var (
		longestIdle    *Connection
		longestIdleFor time.Duration
		idleCount      int
		anyInUse       bool
	)

	for _, c := range snapshot {
		c.mu.Lock()
		p.pruneLeaksLocked(c)
		inUse := len(c.calls) > 0
		c.mu.Unlock()

		if inUse {
			anyInUse = true
			continue
		}
		idleCount++
		idleFor := p.now().Sub(c.idleSince)
		if longestIdle == nil || idleFor > longestIdleFor {
			longestIdle = c
			longestIdleFor = idleFor
		}
	}

	if longestIdle != nil && (longestIdleFor >= p.keepAlive || idleCount > p.maxIdle) {
		if p.evictLongestIdle(longestIdle, longestIdleFor) {
			return 0
		}
	}

	switch {
	case idleCount > 0:
		delay := p.keepAlive - longestIdleFor
		if delay < 0 {
			delay = 0
		}
		return delay
	case anyInUse:
		return p.keepAlive
	default:
		p.mu.Lock()
		p.cleanupBusy = false
		p.mu.Unlock()
		return -1
	}
}

// evictLongestIdle re-verifies under the connection's own lock that it
// is still idle before removing it, guarding against a race with a
// concurrent Acquire that picked this connection between the scan and
// the eviction decision.
func (p *ConnectionPool) evictLongestIdle(conn *Connection, expectedIdleFor time.Duration) bool {
	conn.mu.Lock()
	stillIdle := len(conn.calls) == 0
	stillOldest := p.now().Sub(conn.idleSince) >= expectedIdleFor
	conn.mu.Unlock()
	if !stillIdle || !stillOldest {
		return false
	}
	p.remove(conn)
	conn.Close()
	return true
}

// pruneLeaksLocked walks conn.calls and drops any weak reference whose
// Call has been garbage-collected without releasing the connection,
// logging the captured stack trace. Caller must hold conn.mu.
func (p *ConnectionPool) pruneLeaksLocked(conn *Connection) {
	live := conn.calls[:0]
	leaked := false
	for _, ref := range conn.calls {
		if ref.weak.Value() == nil {
			Logf("fastclient: leaked connection, call never released it, acquired at:\n%s", ref.stack)
			leaked = true
			continue
		}
		live = append(live, ref)
	}
	conn.calls = live
	if leaked {
		conn.noNewExchanges = true
		if len(conn.calls) == 0 {
			conn.idleSince = p.now().Add(-p.keepAlive)
		}
	}
}
