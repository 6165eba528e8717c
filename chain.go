package fastclient

import (
	"time"

	"github.com/searchktools/fastclient/internal/exchange"
)

// realInterceptorChain is the sole Chain implementation: a view over an
// interceptor slice plus a cursor, rebuilt at each Proceed (only its
// Exchange field is written back afterwards) so the chain stays safely
// re-entrant if a stage calls Proceed more than once.
//
// Grounded on bassosimone-nop's Compose2..8: those build a new stage
// value per composition instead of mutating the inputs; this type
// generalizes that "new value per step" discipline from a fixed 2..8-ary
// composition to an N-stage, index-driven pipeline. The interceptor
// slice is carried directly on the chain (rather than always read off a
// *Client) so connectInterceptor can drive a second, shorter sub-chain
// (network interceptors + the terminal stage) without constructing a
// second Client.
type realInterceptorChain struct {
	client       *Client
	call         *realCall
	index        int
	req          *Request
	interceptors []Interceptor

	exch *exchange.Exchange
}

var _ Chain = (*realInterceptorChain)(nil)

func newRealInterceptorChain(client *Client, call *realCall, req *Request, index int) *realInterceptorChain {
	return &realInterceptorChain{client: client, call: call, index: index, req: req, interceptors: client.interceptors}
}

// newSubChain builds a chain driving interceptors instead of the
// client's top-level stack, starting at index 0 and carrying exch
// forward (used by connectInterceptor for the network-hooks + terminal
// sub-chain).
func newSubChain(client *Client, call *realCall, req *Request, interceptors []Interceptor, exch *exchange.Exchange) *realInterceptorChain {
	return &realInterceptorChain{client: client, call: call, req: req, interceptors: interceptors, exch: exch}
}

// Request implements Chain.
func (ch *realInterceptorChain) Request() *Request { return ch.req }

// Call implements Chain.
func (ch *realInterceptorChain) Call() Call { return ch.call }

// ConnectTimeout implements Chain.
func (ch *realInterceptorChain) ConnectTimeout() time.Duration { return ch.client.connectTimeout }

// ReadTimeout implements Chain.
func (ch *realInterceptorChain) ReadTimeout() time.Duration { return ch.client.readTimeout }

// WriteTimeout implements Chain.
func (ch *realInterceptorChain) WriteTimeout() time.Duration { return ch.client.writeTimeout }

// Exchange implements Chain.
func (ch *realInterceptorChain) Exchange() *exchange.Exchange { return ch.exch }

// Proceed implements Chain: advances to the next interceptor with a new
// chain value carrying the (possibly rewritten) request.
// If called again on the same *realInterceptorChain value by a stage
// that already called it, the call is still well-formed because a fresh
// chain is produced for the successor rather than this one being
// reused -- re-entrancy safety comes from never changing ch's cursor or
// request; the only field of ch written here is exch, copied back from
// the successor.
// A stage of a sub-chain that already holds an Exchange (a network
// interceptor) may not forward a body-bearing request when the request
// it received had no body; that yields ErrChainContractViolation.
func (ch *realInterceptorChain) Proceed(req *Request) (*Response, error) {
	if ch.index >= len(ch.interceptors) {
		panic("fastclient: chain exhausted without a terminal interceptor")
	}
	if ch.call.IsCanceled() {
		return nil, ErrCanceled
	}
	if ch.exch != nil && !ch.req.Body.HasBody() && req.Body.HasBody() {
		return nil, ErrChainContractViolation
	}

	next := &realInterceptorChain{client: ch.client, call: ch.call, index: ch.index + 1, req: req, interceptors: ch.interceptors}
	next.exch = ch.exch // carried forward unless ConnectInterceptor sets a new one

	interceptor := ch.interceptors[ch.index]
	resp, err := interceptor.Intercept(next)

	// Copy back next's Exchange. next starts with ch's own Exchange, and
	// connectInterceptor binds the Exchange it allocates to a separate
	// sub-chain rather than to next, so stages above the connect stage
	// (e.g. the retry interceptor) still see nil here.
	ch.exch = next.exch
	return resp, err
}
