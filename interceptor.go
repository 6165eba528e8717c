package fastclient

import (
	"time"

	"github.com/searchktools/fastclient/internal/exchange"
)

// Interceptor is the SPI every pipeline stage implements.
// An interceptor must call Chain.Proceed exactly once, unless it chooses
// to return a synthesized response without touching the network (the
// cache-only short-circuit is the only sanctioned exception).
type Interceptor interface {
	Intercept(chain Chain) (*Response, error)
}

// InterceptorFunc adapts a function to Interceptor, mirroring the
// FuncAdapter idiom used throughout the corpus for ad-hoc stages.
type InterceptorFunc func(chain Chain) (*Response, error)

// Intercept implements Interceptor.
func (f InterceptorFunc) Intercept(chain Chain) (*Response, error) { return f(chain) }

// Chain is the handle an Interceptor receives: the current request, the
// timeouts in effect, and the Proceed operation that advances to the
// next stage.
type Chain interface {
	// Request returns the request as it stands at this point in the
	// pipeline -- possibly already rewritten by an earlier stage.
	Request() *Request

	// Proceed advances to the next interceptor with (possibly rewritten)
	// request and returns its eventual response.
	Proceed(request *Request) (*Response, error)

	// Call returns the user-facing Call this attempt belongs to.
	Call() Call

	// ConnectTimeout, ReadTimeout, WriteTimeout are the per-attempt
	// network timeouts currently in effect; a network interceptor may
	// read but not modify them (only the Client builder configures
	// them).
	ConnectTimeout() time.Duration
	ReadTimeout() time.Duration
	WriteTimeout() time.Duration

	// Exchange returns the live Exchange bound to this attempt, or nil
	// if the chain has not yet reached (or has already passed) the
	// network boundary stage.
	Exchange() *exchange.Exchange
}
