package fastclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/searchktools/fastclient/internal/connfinder"
	"github.com/searchktools/fastclient/internal/exchange"
	"github.com/searchktools/fastclient/internal/pool"
)

// Call represents one request's journey through the interceptor chain.
// It is created by Client.NewCall and is good for exactly one Execute or
// Enqueue; Clone returns a fresh Call carrying the same original request
// for a caller that wants to retry manually.
type Call interface {
	Request() *Request
	Execute() (*Response, error)
	Enqueue(callback func(*Response, error))
	Cancel()
	IsCanceled() bool
	IsExecuted() bool
	Clone() Call
}

// realCall is the sole Call implementation. Exported only through the
// Call interface, matching the internal/-hides-types convention used for
// every other collaborator.
type realCall struct {
	client         *Client
	originalReq    *Request
	token          *pool.CallToken
	timeout        time.Duration
	timeoutCancel  context.CancelFunc
	timeoutCtx     context.Context

	mu                sync.Mutex
	canceled          bool
	requestBodyOpen   bool
	responseBodyOpen  bool
	expectMoreStreams bool
	currentExchange   *exchange.Exchange
	connectionToCancel *pool.Connection
	finderAttempt      *connfinder.Attempt

	executedFlag atomic.Bool
	doneFired    atomic.Bool
}

// setFinderAttempt/getFinderAttempt/currentConnection are consulted by
// connectInterceptor across retry attempts so route-retry state and
// connection reuse (step 1 of the finder preference order) survive a
// retry re-entry.
func (c *realCall) setFinderAttempt(a *connfinder.Attempt) {
	c.mu.Lock()
	c.finderAttempt = a
	c.mu.Unlock()
}

func (c *realCall) getFinderAttempt() *connfinder.Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finderAttempt
}

func (c *realCall) currentConnection() *pool.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionToCancel
}

// hasLiveExchange reports whether an Exchange is still tracking this
// call's lifecycle bits, i.e. whether MessageDone will eventually drive
// callDone on its own. It is false for a call that never reached the
// connect stage (a synthesized cache response) or whose exchange has
// already run to completion.
func (c *realCall) hasLiveExchange() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentExchange != nil
}

var _ Call = (*realCall)(nil)
var _ exchange.Completer = (*realCall)(nil)

// newRealCall builds a Call bound to client for req, owning its own
// cancellation timeout derived from client.callTimeout (0 disables it).
func newRealCall(client *Client, req *Request) *realCall {
	c := &realCall{
		client:            client,
		originalReq:       req,
		token:             pool.NewCallToken(),
		timeout:           client.callTimeout,
		requestBodyOpen:   true,
		responseBodyOpen:  true,
		expectMoreStreams: true,
	}
	return c
}

// Request implements Call.
func (c *realCall) Request() *Request { return c.originalReq }

// IsCanceled implements Call.
func (c *realCall) IsCanceled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canceled
}

// IsExecuted implements Call.
func (c *realCall) IsExecuted() bool {
	return c.executedFlag.Load()
}

// Clone implements Call: returns a fresh, not-yet-executed Call for the
// same original request.
func (c *realCall) Clone() Call {
	return newRealCall(c.client, c.originalReq)
}

// Cancel implements Call: idempotent, propagates to the live Exchange
// and to the connection pending eviction, and fires the Canceled event
// exactly once.
func (c *realCall) Cancel() {
	c.mu.Lock()
	if c.canceled {
		c.mu.Unlock()
		return
	}
	c.canceled = true
	exch := c.currentExchange
	conn := c.connectionToCancel
	c.mu.Unlock()

	if exch != nil {
		exch.Cancel()
	}
	if conn != nil {
		conn.SetNoNewExchanges()
	}
	c.client.eventListener().Canceled(c)
}

// Execute implements Call.execute: one-shot, synchronous,
// drives the full interceptor chain on the calling goroutine.
func (c *realCall) Execute() (*Response, error) {
	if !c.executedFlag.CompareAndSwap(false, true) {
		return nil, ErrCallAlreadyExecuted
	}
	c.enterTimeout()
	c.client.eventListener().CallStart(c)
	c.client.dispatcher.Executed(c.originalReq.URL.Hostname())

	resp, err := c.runChain()
	if err != nil || !c.hasLiveExchange() {
		// Either the chain failed outright (no response body will ever be
		// read/closed to drive MessageDone) or it succeeded without ever
		// binding an Exchange (a cache hit) -- nothing else will call
		// callDone, so synthesize completion now.
		c.noMoreExchanges(err)
	}
	return resp, err
}

// Enqueue implements Call.enqueue: one-shot, hands an
// AsyncCall runnable to the dispatcher.
func (c *realCall) Enqueue(callback func(*Response, error)) {
	if !c.executedFlag.CompareAndSwap(false, true) {
		if callback != nil {
			callback(nil, ErrCallAlreadyExecuted)
		}
		return
	}
	c.enterTimeout()
	c.client.eventListener().CallStart(c)
	c.client.dispatcher.Enqueue(&asyncCall{call: c, callback: callback})
}

func (c *realCall) host() string { return c.originalReq.URL.Hostname() }

func (c *realCall) runChain() (*Response, error) {
	chain := newRealInterceptorChain(c.client, c, c.originalReq, 0)
	return chain.Proceed(c.originalReq)
}

func (c *realCall) enterTimeout() {
	if c.timeout <= 0 {
		c.timeoutCtx, c.timeoutCancel = context.WithCancel(context.Background())
		return
	}
	c.timeoutCtx, c.timeoutCancel = context.WithTimeout(context.Background(), c.timeout)
	go func() {
		<-c.timeoutCtx.Done()
		if c.timeoutCtx.Err() == context.DeadlineExceeded {
			c.Cancel()
		}
	}()
}

func (c *realCall) exitTimeout() bool {
	if c.timeoutCancel == nil {
		return false
	}
	fired := c.timeoutCtx.Err() == context.DeadlineExceeded
	c.timeoutCancel()
	return fired
}

// setExchange records the Exchange currently serving this call's attempt
// so Cancel and message_done can reach it (called by ConnectInterceptor).
func (c *realCall) setExchange(exch *exchange.Exchange, conn *pool.Connection) {
	c.mu.Lock()
	c.currentExchange = exch
	c.connectionToCancel = conn
	c.mu.Unlock()
}

// MessageDone implements exchange.Completer: it clears the request/response
// open-bit the finished stream corresponds to and, once all lifecycle
// bits are false, runs callDone.
func (c *realCall) MessageDone(exch *exchange.Exchange, requestDone, responseDone bool, err error) error {
	c.mu.Lock()
	if exch != c.currentExchange {
		c.mu.Unlock()
		return err
	}
	if requestDone {
		c.requestBodyOpen = false
	}
	if responseDone {
		c.responseBodyOpen = false
	}
	bothClosed := !c.requestBodyOpen && !c.responseBodyOpen
	if bothClosed && c.currentExchange != nil {
		conn := c.currentExchange.Connection
		c.currentExchange = nil
		if err == nil && conn != nil {
			conn.IncrementSuccessCount()
		}
	}
	if bothClosed {
		c.expectMoreStreams = false
	}
	allDone := !c.requestBodyOpen && !c.responseBodyOpen && !c.expectMoreStreams
	c.mu.Unlock()

	if allDone {
		c.callDone(err)
	}
	return err
}

// noMoreExchanges forces the lifecycle bits closed and runs callDone,
// mirroring OkHttp's Transmitter.noMoreExchanges: used only when the
// chain will never itself drive MessageDone to allDone, either because
// it failed before (or instead of) producing a response, or because the
// response it produced was never bound to an Exchange in the first
// place.
func (c *realCall) noMoreExchanges(err error) {
	c.mu.Lock()
	c.requestBodyOpen = false
	c.responseBodyOpen = false
	c.expectMoreStreams = false
	c.mu.Unlock()
	c.callDone(err)
}

// callDone implements call_done: releases the connection, closes it if
// the pool asks, exits the timeout, and fires the terminal event exactly
// once. MessageDone and noMoreExchanges both call this as soon as they
// believe the call is finished; the doneFired guard makes every call
// after the first a no-op, since a call must transition to done at most
// once.
func (c *realCall) callDone(err error) {
	if !c.doneFired.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	conn := c.connectionToCancel
	c.connectionToCancel = nil
	c.mu.Unlock()

	if conn != nil {
		if nowEmpty := conn.RemoveCall(c.token); nowEmpty {
			if shouldClose := c.client.pool.ConnectionBecameIdle(conn); shouldClose {
				conn.Close()
			}
		}
	}

	timedOut := c.exitTimeout()
	if timedOut && err == nil {
		err = ErrCanceled
	}
	if timedOut && err != nil {
		err = fmt.Errorf("interrupted io (timeout): %w", err)
	}

	c.client.dispatcher.Finished(c.host())

	if err != nil {
		c.client.eventListener().CallFailed(c, err)
	} else {
		c.client.eventListener().CallEnd(c, nil)
	}
}
