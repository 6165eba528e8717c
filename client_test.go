package fastclient

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/fastclient/internal/cache"
)

// startServer accepts connections on an ephemeral loopback port and hands
// each one to handle on its own goroutine, returning the listener address.
func startServer(t *testing.T, handle func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handle(conn)
		}
	}()
	return ln.Addr().String()
}

func getRequest(t *testing.T, addr, path string) *Request {
	t.Helper()
	u, err := url.Parse("http://" + addr + path)
	require.NoError(t, err)
	req := NewRequest(http.MethodGet, u)
	req.Body = RequestBody{ContentLength: 0}
	return req
}

func TestClientExecuteSimpleGETRoundTrip(t *testing.T) {
	addr := startServer(t, func(conn net.Conn) {
		defer conn.Close()
		req, err := http.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		assert.Equal(t, "/status", req.URL.Path)
		io.Copy(io.Discard, req.Body)
		io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")
	})

	client := New()
	t.Cleanup(client.Close)
	resp, err := client.NewCall(getRequest(t, addr, "/status")).Execute()
	require.NoError(t, err)
	defer resp.Close()

	assert.Equal(t, 200, resp.StatusCode)
	assert.True(t, resp.IsSuccessful())
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestClientBridgeTransparentlyDecompressesGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte("hello, gzip world"))
	gz.Close()

	addr := startServer(t, func(conn net.Conn) {
		defer conn.Close()
		req, err := http.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		assert.Equal(t, "gzip", req.Header.Get("Accept-Encoding"))
		io.Copy(io.Discard, req.Body)
		fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Encoding: gzip\r\nContent-Length: %d\r\n\r\n", buf.Len())
		conn.Write(buf.Bytes())
	})

	client := New()
	t.Cleanup(client.Close)
	resp, err := client.NewCall(getRequest(t, addr, "/compressed")).Execute()
	require.NoError(t, err)
	defer resp.Close()

	assert.Empty(t, resp.Header.Get("Content-Encoding"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello, gzip world", string(body))
}

func TestClientCacheServesFreshResponseWithoutHittingNetworkAgain(t *testing.T) {
	var hits atomic.Int64
	addr := startServer(t, func(conn net.Conn) {
		defer conn.Close()
		req, err := http.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		hits.Add(1)
		io.Copy(io.Discard, req.Body)
		io.WriteString(conn, "HTTP/1.1 200 OK\r\nCache-Control: max-age=60\r\nContent-Length: 11\r\n\r\ncached-body")
	})

	client := New(WithCacheStore(cache.NewMemStore(0)))
	t.Cleanup(client.Close)

	first, err := client.NewCall(getRequest(t, addr, "/cacheable")).Execute()
	require.NoError(t, err)
	body, err := io.ReadAll(first.Body)
	require.NoError(t, err)
	assert.Equal(t, "cached-body", string(body))
	first.Close()

	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, time.Millisecond, "the cache-writing body must reach EOF before the entry commits")

	second, err := client.NewCall(getRequest(t, addr, "/cacheable")).Execute()
	require.NoError(t, err)
	body2, err := io.ReadAll(second.Body)
	require.NoError(t, err)
	assert.Equal(t, "cached-body", string(body2))
	second.Close()

	assert.EqualValues(t, 1, hits.Load(), "a fresh cached entry must serve the second call without touching the network")
}

func TestClientRejectsNoContentResponseCarryingABody(t *testing.T) {
	var connCount atomic.Int64
	addr := startServer(t, func(conn net.Conn) {
		defer conn.Close()
		connCount.Add(1)
		req, err := http.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		io.Copy(io.Discard, req.Body)
		io.WriteString(conn, "HTTP/1.1 204 No Content\r\nContent-Length: 5\r\n\r\nhello")
	})

	client := New()
	t.Cleanup(client.Close)
	_, err := client.NewCall(getRequest(t, addr, "/broken")).Execute()
	assert.ErrorIs(t, err, ErrProtocolViolation)

	require.Eventually(t, func() bool { return connCount.Load() == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, client.pool.Count(), "the protocol-violating connection must be retired, not pooled")

	_, err = client.NewCall(getRequest(t, addr, "/broken")).Execute()
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.EqualValues(t, 2, connCount.Load(), "the second call must dial a fresh connection instead of reusing the poisoned one")
}

func TestClientCookieJarStoresAndReplaysCookies(t *testing.T) {
	var secondRequestCookie string
	var requestCount atomic.Int64

	addr := startServer(t, func(conn net.Conn) {
		defer conn.Close()
		req, err := http.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		io.Copy(io.Discard, req.Body)
		n := requestCount.Add(1)
		if n == 1 {
			io.WriteString(conn, "HTTP/1.1 200 OK\r\nSet-Cookie: session=abc123\r\nConnection: close\r\nContent-Length: 2\r\n\r\nok")
			return
		}
		secondRequestCookie = req.Header.Get("Cookie")
		io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
	})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := New(WithCookieJar(jar))
	t.Cleanup(client.Close)

	first, err := client.NewCall(getRequest(t, addr, "/login")).Execute()
	require.NoError(t, err)
	io.Copy(io.Discard, first.Body)
	first.Close()

	second, err := client.NewCall(getRequest(t, addr, "/profile")).Execute()
	require.NoError(t, err)
	io.Copy(io.Discard, second.Body)
	second.Close()

	assert.Equal(t, "session=abc123", secondRequestCookie)
}

func TestClientCancelDuringBodyReadUnblocksTheReader(t *testing.T) {
	bodyStarted := make(chan struct{})
	addr := startServer(t, func(conn net.Conn) {
		defer conn.Close()
		req, err := http.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		io.Copy(io.Discard, req.Body)
		io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 1000000\r\n\r\n")
		close(bodyStarted)
		io.WriteString(conn, "partial")
		// never send the rest; the client must be unblocked by Cancel.
		select {}
	})

	client := New()
	t.Cleanup(client.Close)
	call := client.NewCall(getRequest(t, addr, "/slow"))
	resp, err := call.Execute()
	require.NoError(t, err)

	<-bodyStarted
	done := make(chan error, 1)
	go func() {
		_, rerr := io.ReadAll(resp.Body)
		done <- rerr
	}()

	call.Cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not unblock the in-flight body read")
	}
	assert.True(t, call.IsCanceled())
}
