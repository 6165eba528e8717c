package pool

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEligibleMatchesSameRoute(t *testing.T) {
	conn := newTestConnection(t, Route{Host: "example.com", Port: 443, IsTLS: true}, false)
	assert.True(t, Eligible(conn, Route{Host: "example.com", Port: 443, IsTLS: true}, false))
}

func TestEligibleRejectsDifferentHost(t *testing.T) {
	conn := newTestConnection(t, Route{Host: "example.com", Port: 443, IsTLS: true}, false)
	assert.False(t, Eligible(conn, Route{Host: "other.com", Port: 443, IsTLS: true}, false))
}

func TestEligibleRejectsDifferentPortOrTLS(t *testing.T) {
	conn := newTestConnection(t, Route{Host: "example.com", Port: 443, IsTLS: true}, false)
	assert.False(t, Eligible(conn, Route{Host: "example.com", Port: 8443, IsTLS: true}, false))
	assert.False(t, Eligible(conn, Route{Host: "example.com", Port: 443, IsTLS: false}, false))
}

func TestEligibleCoalescesMultiplexedDifferentHost(t *testing.T) {
	conn := newTestConnection(t, Route{Host: "example.com", Port: 443, IsTLS: true}, true)
	assert.True(t, Eligible(conn, Route{Host: "other.example.com", Port: 443, IsTLS: true}, true))
}

func TestEligibleRequiresMultiplexedWhenAsked(t *testing.T) {
	conn := newTestConnection(t, Route{Host: "example.com", Port: 443, IsTLS: true}, false)
	assert.False(t, Eligible(conn, Route{Host: "example.com", Port: 443, IsTLS: true}, true))
}

func TestConnectionPoolAcquireFindsEligibleHealthyConnection(t *testing.T) {
	p := New(Config{Runner: &ManualTaskRunner{}})
	route := Route{Host: "example.com", Port: 443}
	conn := newTestConnection(t, route, false)
	p.Put(conn)

	got := p.Acquire(route, NewCallToken(), false, func(*Connection) bool { return true })
	require.NotNil(t, got)
	assert.Same(t, conn, got)
	assert.True(t, got.IsInUse())
}

func TestConnectionPoolAcquireSkipsUnhealthyConnection(t *testing.T) {
	p := New(Config{Runner: &ManualTaskRunner{}})
	route := Route{Host: "example.com", Port: 443}
	conn := newTestConnection(t, route, false)
	p.Put(conn)

	got := p.Acquire(route, NewCallToken(), false, func(*Connection) bool { return false })
	assert.Nil(t, got)
}

func TestConnectionPoolAcquireSkipsRetiredConnection(t *testing.T) {
	p := New(Config{Runner: &ManualTaskRunner{}})
	route := Route{Host: "example.com", Port: 443}
	conn := newTestConnection(t, route, false)
	p.Put(conn)
	conn.SetNoNewExchanges()

	got := p.Acquire(route, NewCallToken(), false, func(*Connection) bool { return true })
	assert.Nil(t, got)
}

func TestConnectionPoolAcquireReturnsNilWhenEmpty(t *testing.T) {
	p := New(Config{Runner: &ManualTaskRunner{}})
	got := p.Acquire(Route{Host: "example.com"}, NewCallToken(), false, nil)
	assert.Nil(t, got)
}

func TestConnectionPoolPutRejectsRetiredConnection(t *testing.T) {
	p := New(Config{Runner: &ManualTaskRunner{}})
	conn := newTestConnection(t, Route{Host: "example.com"}, false)
	conn.SetNoNewExchanges()
	assert.False(t, p.Put(conn))
	assert.Equal(t, 0, p.Count())
}

func TestConnectionPoolPutRegistersAndSchedulesCleanup(t *testing.T) {
	runner := &ManualTaskRunner{}
	p := New(Config{Runner: runner})
	conn := newTestConnection(t, Route{Host: "example.com"}, false)

	assert.True(t, p.Put(conn))
	assert.Equal(t, 1, p.Count())
	assert.Len(t, runner.pending, 1)
}

func TestConnectionBecameIdleClosesImmediatelyWhenMaxIdleZero(t *testing.T) {
	runner := &ManualTaskRunner{}
	p := New(Config{Runner: runner, MaxIdleConnections: -1})
	// negative MaxIdleConnections is normalized to the default by New,
	// so force the zero-idle-pool path by constructing the pool struct
	// directly instead.
	p.maxIdle = 0

	conn := newTestConnection(t, Route{Host: "example.com"}, false)
	p.Put(conn)

	shouldClose := p.ConnectionBecameIdle(conn)
	assert.True(t, shouldClose)
	assert.Equal(t, 0, p.Count())
}

func TestConnectionBecameIdleClosesRetiredConnection(t *testing.T) {
	runner := &ManualTaskRunner{}
	p := New(Config{Runner: runner, MaxIdleConnections: 5})
	conn := newTestConnection(t, Route{Host: "example.com"}, false)
	p.Put(conn)
	conn.SetNoNewExchanges()

	shouldClose := p.ConnectionBecameIdle(conn)
	assert.True(t, shouldClose)
}

func TestConnectionBecameIdleSchedulesCleanupOtherwise(t *testing.T) {
	runner := &ManualTaskRunner{}
	p := New(Config{Runner: runner, MaxIdleConnections: 5})
	conn := newTestConnection(t, Route{Host: "example.com"}, false)
	p.Put(conn)
	runner.RunPending()

	shouldClose := p.ConnectionBecameIdle(conn)
	assert.False(t, shouldClose)
	assert.Equal(t, 1, p.Count())
}

func TestConnectionPoolEvictAllClosesIdleAndMarksInUse(t *testing.T) {
	runner := &ManualTaskRunner{}
	p := New(Config{Runner: runner})

	idle := newTestConnection(t, Route{Host: "idle.example.com"}, false)
	p.Put(idle)

	inUse := newTestConnection(t, Route{Host: "busy.example.com"}, false)
	p.Put(inUse)
	token := NewCallToken()
	inUse.AddCall(token)

	p.EvictAll()

	assert.Equal(t, 1, p.Count(), "the in-use connection stays registered until its call releases it")
	assert.True(t, inUse.NoNewExchanges())
}

func TestCleanupRoundEvictsConnectionPastKeepAlive(t *testing.T) {
	runner := &ManualTaskRunner{}
	now := time.Now()
	clock := func() time.Time { return now }
	p := New(Config{Runner: runner, KeepAlive: time.Minute, Now: clock})

	conn := newTestConnection(t, Route{Host: "example.com"}, false)
	p.Put(conn)
	runner.RunPending()

	now = now.Add(2 * time.Minute)
	runner.RunPending()

	assert.Equal(t, 0, p.Count())
}

func TestCleanupRoundEvictsOldestWhenOverMaxIdle(t *testing.T) {
	runner := &ManualTaskRunner{}
	start := time.Now()
	now := start
	clock := func() time.Time { return now }
	p := New(Config{Runner: runner, KeepAlive: time.Hour, MaxIdleConnections: 1, Now: clock})

	older := newTestConnection(t, Route{Host: "older.example.com"}, false)
	p.Put(older)
	runner.RunPending()

	now = now.Add(time.Second)
	newer := newTestConnection(t, Route{Host: "newer.example.com"}, false)
	p.Put(newer)
	runner.RunPending()
	runner.RunPending()

	assert.Equal(t, 1, p.Count())
	got := p.Acquire(newer.Route, NewCallToken(), false, func(*Connection) bool { return true })
	assert.Same(t, newer, got, "the older idle connection should have been evicted to respect MaxIdleConnections")
}

func TestCleanupRoundCountsOnlyIdleConnectionsAgainstMaxIdle(t *testing.T) {
	runner := &ManualTaskRunner{}
	p := New(Config{Runner: runner, KeepAlive: time.Hour, MaxIdleConnections: 1})

	inUse := newTestConnection(t, Route{Host: "busy.example.com"}, false)
	token := NewCallToken()
	inUse.AddCall(token)
	p.Put(inUse)
	runner.RunPending()

	idle := newTestConnection(t, Route{Host: "idle.example.com"}, false)
	p.Put(idle)
	runner.RunPending()
	runner.RunPending()

	assert.Equal(t, 2, p.Count(), "a single young idle connection must not be evicted just because an in-use connection is also registered")
	got := p.Acquire(idle.Route, NewCallToken(), false, func(*Connection) bool { return true })
	assert.Same(t, idle, got)
}

func TestPruneLeaksLockedRetiresConnectionOnLeakedToken(t *testing.T) {
	runner := &ManualTaskRunner{}
	p := New(Config{Runner: runner})
	conn := newTestConnection(t, Route{Host: "example.com"}, false)

	func() {
		token := NewCallToken()
		conn.AddCall(token)
	}()

	leaked := false
	for i := 0; i < 10; i++ {
		runtime.GC()
		conn.mu.Lock()
		p.pruneLeaksLocked(conn)
		leaked = conn.noNewExchanges
		empty := len(conn.calls) == 0
		conn.mu.Unlock()
		if leaked && empty {
			break
		}
	}
	assert.True(t, leaked, "a token dropped without RemoveCall should be detected as a leak after GC")
}

func TestConnectionPoolCountReflectsPutAndRemove(t *testing.T) {
	runner := &ManualTaskRunner{}
	p := New(Config{Runner: runner})
	assert.Equal(t, 0, p.Count())

	conn := newTestConnection(t, Route{Host: "example.com"}, false)
	p.Put(conn)
	assert.Equal(t, 1, p.Count())

	p.remove(conn)
	assert.Equal(t, 0, p.Count())
}
