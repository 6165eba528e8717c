// Package codec defines the protocol-specific reader/writer collaborator
// and ships the two default implementations the
// connection finder binds to a dialed connection: an HTTP/1.1 codec
// (hand-rolled wire framing, grounded on core/http/parser.go's manual
// byte-scanning style) and an HTTP/2 codec (grounded on
// core/http2/server.go and bassosimone-nop's HTTPConn, both of which
// bind golang.org/x/net/http2 to a single already-established conn).
package codec

import (
	"errors"
	"io"
	"net/http"
)

// ErrCodecClosed is returned by codec operations invoked after Cancel.
var ErrCodecClosed = errors.New("codec: closed")

// ResponseBuilder carries the status line and headers read off the wire
// before the core constructs its public Response value.
type ResponseBuilder struct {
	StatusCode int
	Status     string
	Header     http.Header
	Proto      string // "HTTP/1.1" or "HTTP/2.0"
}

// RequestHeaders is the minimal view of a request the codec needs to
// write a request line/headers frame; it deliberately excludes the body,
// which travels through CreateRequestBody instead.
type RequestHeaders struct {
	Method        string
	Path          string // request-target (path?query), or absolute-form for proxies
	Host          string
	Header        http.Header
	ContentLength int64 // -1 if unknown
}

// Codec is the external collaborator that turns a Request into wire
// bytes and wire bytes back into a Response. One Codec
// instance is bound to exactly one Exchange at a time; on HTTP/2 the
// connection hands out a fresh Codec (one stream) per Exchange, so many
// Exchanges share the connection concurrently (IsMultiplexed() == true).
type Codec interface {
	// WriteRequestHeaders writes the request line/headers frame.
	WriteRequestHeaders(req RequestHeaders) error

	// FlushRequest flushes buffered header bytes (used before the
	// 100-continue wait so the server can see the headers).
	FlushRequest() error

	// CreateRequestBody returns a sink the terminal stage (or, for a
	// duplex body, the application) writes the request body into.
	// duplex indicates the caller will keep writing after response
	// headers are read.
	CreateRequestBody(req RequestHeaders, duplex bool) (io.WriteCloser, error)

	// FinishRequest finalizes the request (e.g. writes the chunked
	// trailer). Not called for duplex bodies; the sink's Close finishes
	// the request instead.
	FinishRequest() error

	// ReadResponseHeaders reads the next response header frame. When
	// expectContinue is true, an implementation-defined short timeout is
	// used to detect whether the server answered early (e.g. with a 4xx)
	// instead of sending "100 Continue"; a nil, nil return means no
	// frame arrived before the deadline and the caller should proceed to
	// write the body.
	ReadResponseHeaders(expectContinue bool) (*ResponseBuilder, error)

	// OpenResponseBody returns a stream for the response body described
	// by builder.
	OpenResponseBody(builder *ResponseBuilder) (io.ReadCloser, error)

	// Cancel aborts any in-progress read/write on this codec's exchange,
	// causing subsequent operations to fail rather than block.
	Cancel()

	// IsMultiplexed reports whether this codec's connection supports
	// concurrent exchanges (HTTP/2).
	IsMultiplexed() bool
}
