package fastclient

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	NopEventListener
	mu      sync.Mutex
	started int
	ended   int
	failed  int
}

func (r *recordingListener) CallStart(Call) {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
}

func (r *recordingListener) CallEnd(Call, *Response) {
	r.mu.Lock()
	r.ended++
	r.mu.Unlock()
}

func (r *recordingListener) CallFailed(Call, error) {
	r.mu.Lock()
	r.failed++
	r.mu.Unlock()
}

func TestClientEnqueueRunsAsynchronouslyAndInvokesCallback(t *testing.T) {
	addr := startServer(t, func(conn net.Conn) {
		defer conn.Close()
		req, err := http.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		io.Copy(io.Discard, req.Body)
		io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
	})

	listener := &recordingListener{}
	client := New(WithEventListener(listener))
	t.Cleanup(client.Close)

	done := make(chan struct{})
	var gotResp *Response
	var gotErr error
	client.NewCall(getRequest(t, addr, "/async")).Enqueue(func(resp *Response, err error) {
		gotResp, gotErr = resp, err
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue callback never fired")
	}

	require.NoError(t, gotErr)
	require.NotNil(t, gotResp)
	body, err := io.ReadAll(gotResp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	gotResp.Close()

	listener.mu.Lock()
	defer listener.mu.Unlock()
	assert.Equal(t, 1, listener.started)
	assert.Equal(t, 1, listener.ended)
	assert.Equal(t, 0, listener.failed)
}

func TestClientExecuteTwiceReturnsErrCallAlreadyExecuted(t *testing.T) {
	addr := startServer(t, func(conn net.Conn) {
		defer conn.Close()
		req, err := http.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		io.Copy(io.Discard, req.Body)
		io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
	})

	client := New()
	t.Cleanup(client.Close)
	call := client.NewCall(getRequest(t, addr, "/once"))

	resp, err := call.Execute()
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Close()

	_, err = call.Execute()
	assert.ErrorIs(t, err, ErrCallAlreadyExecuted)
}

func TestClientCloneProducesFreshExecutableCall(t *testing.T) {
	addr := startServer(t, func(conn net.Conn) {
		defer conn.Close()
		req, err := http.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		io.Copy(io.Discard, req.Body)
		io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
	})

	client := New()
	t.Cleanup(client.Close)
	original := client.NewCall(getRequest(t, addr, "/clone"))
	resp, err := original.Execute()
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Close()

	clone := original.Clone()
	assert.False(t, clone.IsExecuted())
	resp2, err := clone.Execute()
	require.NoError(t, err)
	io.Copy(io.Discard, resp2.Body)
	resp2.Close()
}

func TestClientCallFailedFiresListenerOnTransportError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close() // nothing is listening: every dial attempt must fail

	listener := &recordingListener{}
	client := New(WithEventListener(listener))
	t.Cleanup(client.Close)

	_, err = client.NewCall(getRequest(t, addr, "/unreachable")).Execute()
	assert.Error(t, err)

	listener.mu.Lock()
	defer listener.mu.Unlock()
	assert.Equal(t, 1, listener.started)
	assert.Equal(t, 1, listener.failed)
	assert.Equal(t, 0, listener.ended)
}
