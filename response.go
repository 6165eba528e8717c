package fastclient

import (
	"crypto/tls"
	"io"
	"net/http"
	"time"
)

// Response is the public value type produced by a call. Like Request, it mirrors only the fields the core's policy
// stages (cache, bridge, retry) actually inspect.
type Response struct {
	Request    *Request
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser

	SentAt     time.Time
	ReceivedAt time.Time

	Handshake *tls.ConnectionState // nil for plaintext connections
	Protocol  string               // "http/1.1" or "h2"

	// NetworkResponse and CacheResponse cross-reference the other half
	// of a conditional-revalidation pair; exactly
	// one of them is non-nil on a response produced by the cache
	// interceptor's conditional path, matching OkHttp's Response model.
	NetworkResponse *Response
	CacheResponse   *Response

	// sentFromCache marks a response body that is being served from the
	// CacheStore rather than the network. No code in this package sets
	// or reads it; Call.MessageDone does not consult it.
	sentFromCache bool
}

// IsSuccessful reports whether StatusCode is in [200, 300).
func (r *Response) IsSuccessful() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Close closes the response body if present. Safe to call on a nil Body.
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// newBuilder returns a shallow copy of r suitable for in-place mutation
// by interceptors that need to rewrite headers (the cache interceptor's
// 304 header-merge step builds its response directly instead), mirroring OkHttp's
// Response.newBuilder().build() idiom without introducing a separate
// builder type.
func (r *Response) newBuilder() *Response {
	c := *r
	c.Header = r.Header.Clone()
	return &c
}
