package codec

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

// HTTP2Connection wraps one already-established, ALPN-negotiated "h2"
// net.Conn with an *http2.ClientConn and hands out a fresh per-exchange
// Codec for every concurrent stream.
//
// Adapted from core/http2/server.go: that file configures golang.org/x/net/http2
// for the *server* (accept) side with ALPN-based h2/h2c selection; this
// type configures the same package's client-side ClientConn for the
// *dial* side, the natural counterpart once the codec moves from serving
// requests to issuing them.
type HTTP2Connection struct {
	cc *http2.ClientConn

	mu     sync.Mutex
	closed bool
}

// NewHTTP2Connection builds an HTTP2Connection over conn, which must
// already have completed its TLS handshake with "h2" negotiated via
// ALPN (or be a prior-knowledge h2c socket).
func NewHTTP2Connection(conn net.Conn) (*HTTP2Connection, error) {
	t := &http2.Transport{}
	cc, err := t.NewClientConn(conn)
	if err != nil {
		return nil, fmt.Errorf("codec: http2 client conn: %w", err)
	}
	return &HTTP2Connection{cc: cc}, nil
}

// CanTakeNewRequest reports whether another stream may still be opened
// on this connection (consulted by the connection pool's eligibility
// check for HTTP/2 reuse).
func (h *HTTP2Connection) CanTakeNewRequest() bool {
	return h.cc.CanTakeNewRequest()
}

// NewCodec returns a fresh per-exchange Codec sharing this connection's
// single underlying socket.
func (h *HTTP2Connection) NewCodec() Codec {
	return &HTTP2Stream{conn: h}
}

// Close closes the underlying ClientConn and its socket.
func (h *HTTP2Connection) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.cc.Close()
}

// HTTP2Stream is a one-shot Codec bound to a single HTTP/2 stream. It
// adapts the step-wise Codec API onto golang.org/x/net/http2's
// request-at-a-time ClientConn.RoundTrip by running RoundTrip in its own
// goroutine against an io.Pipe body, the same "bridge a synchronous
// round-trip API onto incremental writes" technique bassosimone-nop's
// HTTPConn uses when it hands callers an *http.Response whose Body is
// read lazily after RoundTrip returns headers.
type HTTP2Stream struct {
	conn *HTTP2Connection

	bodyR *io.PipeReader
	bodyW *io.PipeWriter

	req         *http.Request
	started     bool
	respCh      chan http2RoundTripResult
	cancelled   bool
	pendingResp *http.Response

	mu sync.Mutex
}

type http2RoundTripResult struct {
	resp *http.Response
	err  error
}

var _ Codec = (*HTTP2Stream)(nil)

// IsMultiplexed implements Codec.
func (s *HTTP2Stream) IsMultiplexed() bool { return true }

// WriteRequestHeaders implements Codec: builds the *http.Request and
// prepares (but does not yet send) the body pipe. The actual stream
// open happens lazily, on the first of FlushRequest/CreateRequestBody/
// ReadResponseHeaders, since http2.ClientConn.RoundTrip sends headers
// and streams the body together.
func (s *HTTP2Stream) WriteRequestHeaders(req RequestHeaders) error {
	u, err := url.ParseRequestURI(req.Path)
	if err != nil {
		return fmt.Errorf("codec: malformed request target %q: %w", req.Path, err)
	}
	if u.Host == "" {
		u.Scheme, u.Host = "https", req.Host
	}
	pr, pw := io.Pipe()
	s.bodyR, s.bodyW = pr, pw

	httpReq := &http.Request{
		Method:        req.Method,
		URL:           u,
		Header:        req.Header.Clone(),
		Host:          req.Host,
		ContentLength: req.ContentLength,
		Body:          pr,
	}
	if req.ContentLength == 0 {
		httpReq.Body = http.NoBody
	}
	s.req = httpReq
	s.respCh = make(chan http2RoundTripResult, 1)
	return nil
}

// FlushRequest implements Codec: starts the round trip if not already
// started, so the server observes the headers even before any body
// bytes are written.
func (s *HTTP2Stream) FlushRequest() error {
	s.start()
	return nil
}

func (s *HTTP2Stream) start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go func() {
		resp, err := s.conn.cc.RoundTrip(s.req)
		s.respCh <- http2RoundTripResult{resp: resp, err: err}
	}()
}

// CreateRequestBody implements Codec.
func (s *HTTP2Stream) CreateRequestBody(req RequestHeaders, duplex bool) (io.WriteCloser, error) {
	s.start()
	return s.bodyW, nil
}

// FinishRequest implements Codec.
func (s *HTTP2Stream) FinishRequest() error {
	return s.bodyW.Close()
}

// ReadResponseHeaders implements Codec. golang.org/x/net/http2 resolves
// any "100 Continue" exchange internally before RoundTrip returns, so
// this codec cannot surface the interim 100 the way HTTP1Codec does; it
// waits for the final header frame.
func (s *HTTP2Stream) ReadResponseHeaders(expectContinue bool) (*ResponseBuilder, error) {
	s.start()
	timeout := 30 * time.Second
	if expectContinue {
		timeout = 2 * time.Second
	}
	select {
	case result := <-s.respCh:
		if result.err != nil {
			return nil, result.err
		}
		s.pendingResp = result.resp
		return &ResponseBuilder{
			StatusCode: result.resp.StatusCode,
			Status:     result.resp.Status,
			Header:     result.resp.Header,
			Proto:      "HTTP/2.0",
		}, nil
	case <-time.After(timeout):
		if expectContinue {
			return nil, nil
		}
		return nil, fmt.Errorf("codec: timed out waiting for response headers")
	}
}

// OpenResponseBody implements Codec.
func (s *HTTP2Stream) OpenResponseBody(builder *ResponseBuilder) (io.ReadCloser, error) {
	if s.pendingResp == nil {
		return io.NopCloser(http.NoBody), nil
	}
	return s.pendingResp.Body, nil
}

// Cancel implements Codec by closing the request-body pipe with
// ErrCodecClosed, which fails pending and later body writes. It does not
// close a response body already returned by OpenResponseBody, so a read
// on that body is not interrupted.
func (s *HTTP2Stream) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	if s.bodyW != nil {
		s.bodyW.CloseWithError(ErrCodecClosed)
	}
}
