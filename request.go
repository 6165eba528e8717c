package fastclient

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// Request is the public, immutable-by-convention value type the core
// consumes.
//
// Request deliberately mirrors net/http.Request's fields it actually
// needs rather than embedding *http.Request: the core never depends on
// net/http beyond this value type and Header, keeping the codec boundary
// the only place protocol-specific framing happens.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   RequestBody

	// Tags carries caller-attached metadata (cache control flags,
	// per-call timeouts) threaded opaquely through interceptors.
	Tags map[string]any

	ctx context.Context
}

// RequestBody describes a request body the terminal stage can either
// stream synchronously or hand to the application as a duplex sink.
type RequestBody struct {
	ContentLength int64 // -1 if unknown (chunked or duplex)
	ContentType   string
	Duplex        bool

	// WriteTo is invoked by the terminal stage with a sink it should
	// write the body into. For a duplex body, WriteTo is handed the sink
	// asynchronously and may still be writing when the response headers
	// come back; for a regular body it is called synchronously and must
	// return before the request is finalized.
	WriteTo func(sink io.Writer) error
}

// HasBody reports whether this RequestBody carries actual content.
func (b RequestBody) HasBody() bool {
	return b.WriteTo != nil
}

// NewRequest builds a Request with a background context and no body.
func NewRequest(method string, u *url.URL) *Request {
	return &Request{
		Method: method,
		URL:    u,
		Header: make(http.Header),
		ctx:    context.Background(),
	}
}

// WithContext returns a shallow copy of r with ctx attached, mirroring
// net/http.Request.WithContext.
func (r *Request) WithContext(ctx context.Context) *Request {
	if ctx == nil {
		panic("fastclient: nil context")
	}
	clone := *r
	clone.ctx = ctx
	return &clone
}

// Context returns the request's context, or context.Background if none
// was attached.
func (r *Request) Context() context.Context {
	if r.ctx != nil {
		return r.ctx
	}
	return context.Background()
}

// clone returns a deep-enough copy of r for the bridge and cache
// interceptors: a fresh Header map so their header rewrites do not leak
// into the caller's Request, everything else shared by value/reference
// as in the original.
func (r *Request) clone() *Request {
	c := *r
	c.Header = r.Header.Clone()
	return &c
}
