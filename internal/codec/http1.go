package codec

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"
)

// HTTP1Codec implements Codec over a single net.Conn using hand-rolled
// HTTP/1.1 framing. The request-line/header writer and response-line
// scanner follow core/http/parser.go's manual byte-scanning approach
// (IndexByte-driven, no regexp), adapted from request-parsing (server
// side) to response-parsing (client side).
type HTTP1Codec struct {
	conn net.Conn
	w    *bufio.Writer
	r    *bufio.Reader

	mu     sync.Mutex
	closed bool
}

var _ Codec = (*HTTP1Codec)(nil)

// NewHTTP1Codec wraps conn for HTTP/1.1 request/response framing.
func NewHTTP1Codec(conn net.Conn) *HTTP1Codec {
	return &HTTP1Codec{
		conn: conn,
		w:    bufio.NewWriterSize(conn, 4096),
		r:    bufio.NewReaderSize(conn, 4096),
	}
}

// IsMultiplexed implements Codec: HTTP/1.1 connections serve one
// exchange at a time.
func (c *HTTP1Codec) IsMultiplexed() bool { return false }

// WriteRequestHeaders implements Codec.
func (c *HTTP1Codec) WriteRequestHeaders(req RequestHeaders) error {
	if c.isClosed() {
		return ErrCodecClosed
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\n", req.Method, req.Path)
	fmt.Fprintf(&buf, "Host: %s\r\n", req.Host)
	for key, values := range req.Header {
		for _, v := range values {
			fmt.Fprintf(&buf, "%s: %s\r\n", key, v)
		}
	}
	if req.ContentLength >= 0 && req.Header.Get("Content-Length") == "" {
		fmt.Fprintf(&buf, "Content-Length: %d\r\n", req.ContentLength)
	} else if req.ContentLength < 0 && req.Header.Get("Transfer-Encoding") == "" {
		buf.WriteString("Transfer-Encoding: chunked\r\n")
	}
	buf.WriteString("\r\n")
	_, err := c.w.Write(buf.Bytes())
	return err
}

// FlushRequest implements Codec.
func (c *HTTP1Codec) FlushRequest() error {
	if c.isClosed() {
		return ErrCodecClosed
	}
	return c.w.Flush()
}

// CreateRequestBody implements Codec.
func (c *HTTP1Codec) CreateRequestBody(req RequestHeaders, duplex bool) (io.WriteCloser, error) {
	if c.isClosed() {
		return nil, ErrCodecClosed
	}
	if req.ContentLength >= 0 {
		return &fixedLengthSink{w: c.w}, nil
	}
	return &chunkedSink{w: c.w}, nil
}

// FinishRequest implements Codec.
func (c *HTTP1Codec) FinishRequest() error {
	if c.isClosed() {
		return ErrCodecClosed
	}
	return c.w.Flush()
}

// ReadResponseHeaders implements Codec: scans the status line and
// header block with textproto.Reader, the standard library's line
// scanner, the same IndexByte-based shape core/http/parser.go uses for
// request parsing.
func (c *HTTP1Codec) ReadResponseHeaders(expectContinue bool) (*ResponseBuilder, error) {
	if c.isClosed() {
		return nil, ErrCodecClosed
	}
	if expectContinue {
		_ = c.conn.SetReadDeadline(time.Now().Add(1500 * time.Millisecond))
		defer c.conn.SetReadDeadline(time.Time{})
		if _, err := c.r.Peek(1); err != nil {
			if isTimeout(err) {
				return nil, nil
			}
			return nil, err
		}
	}

	tp := textproto.NewReader(c.r)
	line, err := tp.ReadLine()
	if err != nil {
		return nil, err
	}
	proto, status, ok := splitStatusLine(line)
	if !ok {
		return nil, fmt.Errorf("codec: malformed status line %q", line)
	}
	code, err := strconv.Atoi(strings.Fields(status)[0])
	if err != nil {
		return nil, fmt.Errorf("codec: malformed status code %q: %w", status, err)
	}
	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, err
	}
	return &ResponseBuilder{
		StatusCode: code,
		Status:     status,
		Header:     http.Header(mimeHeader),
		Proto:      proto,
	}, nil
}

// OpenResponseBody implements Codec.
func (c *HTTP1Codec) OpenResponseBody(builder *ResponseBuilder) (io.ReadCloser, error) {
	if builder.StatusCode == 204 || builder.StatusCode == 304 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	if te := builder.Header.Get("Transfer-Encoding"); strings.EqualFold(te, "chunked") {
		return io.NopCloser(newChunkedReader(c.r)), nil
	}
	if cl := builder.Header.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("codec: malformed Content-Length %q: %w", cl, err)
		}
		return io.NopCloser(io.LimitReader(c.r, n)), nil
	}
	// No framing information: read until the connection closes.
	return io.NopCloser(c.r), nil
}

// Cancel implements Codec.
func (c *HTTP1Codec) Cancel() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.conn.Close()
}

func (c *HTTP1Codec) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func splitStatusLine(line string) (proto, status string, ok bool) {
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return "", "", false
	}
	return line[:i], strings.TrimSpace(line[i+1:]), true
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

// fixedLengthSink writes exactly the advertised Content-Length bytes to
// the underlying buffered writer; it does not itself count bytes since
// the caller (the terminal stage) owns body-length accounting.
type fixedLengthSink struct {
	w *bufio.Writer
}

func (s *fixedLengthSink) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *fixedLengthSink) Close() error                { return s.w.Flush() }

// chunkedSink writes an HTTP/1.1 chunked-encoding body.
type chunkedSink struct {
	w      *bufio.Writer
	closed bool
}

func (s *chunkedSink) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := fmt.Fprintf(s.w, "%x\r\n", len(p)); err != nil {
		return 0, err
	}
	n, err := s.w.Write(p)
	if err != nil {
		return n, err
	}
	if _, err := s.w.Write([]byte("\r\n")); err != nil {
		return n, err
	}
	return n, nil
}

func (s *chunkedSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if _, err := s.w.Write([]byte("0\r\n\r\n")); err != nil {
		return err
	}
	return s.w.Flush()
}

// newChunkedReader decodes an HTTP/1.1 chunked-encoding body with a
// minimal decoder implemented inline rather than the standard library's
// (which lives in net/http internals).
func newChunkedReader(r *bufio.Reader) io.Reader {
	return &chunkedReader{r: r}
}

type chunkedReader struct {
	r    *bufio.Reader
	n    int64 // bytes remaining in current chunk
	err  error
	done bool
}

func (cr *chunkedReader) Read(p []byte) (int, error) {
	if cr.err != nil {
		return 0, cr.err
	}
	if cr.done {
		return 0, io.EOF
	}
	if cr.n == 0 {
		if err := cr.beginChunk(); err != nil {
			cr.err = err
			return 0, err
		}
		if cr.done {
			return 0, io.EOF
		}
	}
	if int64(len(p)) > cr.n {
		p = p[:cr.n]
	}
	n, err := cr.r.Read(p)
	cr.n -= int64(n)
	if cr.n == 0 {
		// consume trailing CRLF after the chunk data
		if _, err2 := cr.r.Discard(2); err2 != nil && err == nil {
			err = err2
		}
	}
	if err != nil && err != io.EOF {
		cr.err = err
	}
	return n, err
}

func (cr *chunkedReader) beginChunk() error {
	line, err := cr.r.ReadString('\n')
	if err != nil {
		return err
	}
	line = strings.TrimRight(line, "\r\n")
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
	if err != nil {
		return fmt.Errorf("codec: malformed chunk size %q: %w", line, err)
	}
	if size == 0 {
		cr.done = true
		// consume trailer headers up to the blank line
		tp := textproto.NewReader(cr.r)
		_, _ = tp.ReadMIMEHeader()
		return nil
	}
	cr.n = size
	return nil
}
