package pool

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnection(t *testing.T, route Route, multiplexed bool) *Connection {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	return NewConnection(route, client, nil, "http/1.1", multiplexed)
}

func TestConnectionAddAndRemoveCall(t *testing.T) {
	conn := newTestConnection(t, Route{Host: "example.com", Port: 443, IsTLS: true}, false)
	assert.False(t, conn.IsInUse())

	token := NewCallToken()
	conn.AddCall(token)
	assert.True(t, conn.IsInUse())

	becameIdle := conn.RemoveCall(token)
	assert.True(t, becameIdle)
	assert.False(t, conn.IsInUse())
}

func TestConnectionRemoveCallWithOthersStillLiveIsNotIdle(t *testing.T) {
	conn := newTestConnection(t, Route{Host: "example.com", Port: 443}, true)
	a, b := NewCallToken(), NewCallToken()
	conn.AddCall(a)
	conn.AddCall(b)

	becameIdle := conn.RemoveCall(a)
	assert.False(t, becameIdle)
	assert.True(t, conn.IsInUse())
}

func TestConnectionNoNewExchanges(t *testing.T) {
	conn := newTestConnection(t, Route{Host: "example.com", Port: 443}, false)
	assert.False(t, conn.NoNewExchanges())
	conn.SetNoNewExchanges()
	assert.True(t, conn.NoNewExchanges())
}

func TestConnectionIncrementSuccessCount(t *testing.T) {
	conn := newTestConnection(t, Route{Host: "example.com", Port: 443}, false)
	conn.IncrementSuccessCount()
	conn.IncrementSuccessCount()
	assert.Equal(t, 2, conn.successCount)
}

func TestConnectionIsHealthyReflectsRetirement(t *testing.T) {
	conn := newTestConnection(t, Route{Host: "example.com", Port: 443}, false)
	assert.True(t, conn.IsHealthy(func(net.Conn) bool { return true }))

	conn.SetNoNewExchanges()
	assert.False(t, conn.IsHealthy(func(net.Conn) bool { return true }))
}

func TestConnectionIsHealthyDelegatesToPeek(t *testing.T) {
	conn := newTestConnection(t, Route{Host: "example.com", Port: 443}, false)
	assert.False(t, conn.IsHealthy(func(net.Conn) bool { return false }))
}

func TestConnectionClose(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	conn := NewConnection(Route{Host: "example.com"}, client, nil, "http/1.1", false)
	require.NoError(t, conn.Close())
}
