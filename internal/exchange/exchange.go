// Package exchange implements the one-shot binding between a Call
// attempt and the Codec/Connection pair serving it.
//
// Adapted from core/rpc/client/client.go: that file's Client owned one
// net.Conn plus a pending map of outstanding Calls keyed by request ID,
// each tracked until its Done channel fired. An Exchange keeps the same
// "one object owns the in-flight turn-around and reports completion back
// to its owner" shape, narrowed from a multiplexing RPC client (many
// concurrent calls over one conn, reply matched by request ID) to a
// single request/response turn bound to a Codec already carved out per
// call by the connection finder.
package exchange

import (
	"io"
	"sync"

	"github.com/searchktools/fastclient/internal/codec"
	"github.com/searchktools/fastclient/internal/pool"
)

// Completer receives lifecycle notifications from the Exchange as the
// request and response streams finish, mirroring a call's
// message_done contract. The Call type implements this.
type Completer interface {
	MessageDone(exch *Exchange, requestDone, responseDone bool, err error) error
}

// Exchange binds a Codec to the Connection carrying it for the duration
// of one request/response turn-around. It is owned by exactly one Call
// at a time; a retried or followed-up call discards its Exchange and
// asks the connection finder for a new one.
type Exchange struct {
	Connection *pool.Connection
	Codec      codec.Codec
	completer  Completer

	mu         sync.Mutex
	hasFailure bool
}

// New binds c (already produced by the connection finder) to conn under
// completer's lifecycle notifications.
func New(conn *pool.Connection, c codec.Codec, completer Completer) *Exchange {
	return &Exchange{Connection: conn, Codec: c, completer: completer}
}

// HasFailure reports whether any operation on this Exchange has already
// failed.
func (e *Exchange) HasFailure() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasFailure
}

func (e *Exchange) trackFailure(err error) error {
	if err != nil {
		e.mu.Lock()
		e.hasFailure = true
		e.mu.Unlock()
	}
	return err
}

// WriteRequestHeaders writes the request line/headers.
func (e *Exchange) WriteRequestHeaders(req codec.RequestHeaders) error {
	return e.trackFailure(e.Codec.WriteRequestHeaders(req))
}

// FlushRequest flushes buffered header bytes, used before a 100-continue
// wait so the server observes the headers.
func (e *Exchange) FlushRequest() error {
	return e.trackFailure(e.Codec.FlushRequest())
}

// CreateRequestBody opens the sink the request body is written into,
// wrapping it so its eventual Close reports completion through the
// Exchange.
func (e *Exchange) CreateRequestBody(req codec.RequestHeaders, duplex bool) (io.WriteCloser, error) {
	sink, err := e.Codec.CreateRequestBody(req, duplex)
	if err != nil {
		return nil, e.trackFailure(err)
	}
	return &requestBodySink{exch: e, w: sink}, nil
}

// FinishRequest finalizes a non-duplex request body.
// It reports request completion directly since no sink Close follows.
func (e *Exchange) FinishRequest() error {
	err := e.trackFailure(e.Codec.FinishRequest())
	e.completer.MessageDone(e, true, false, err)
	return err
}

// ReadResponseHeaders reads the next response header frame, honoring the
// 100-continue short-timeout protocol when expectContinue is set.
func (e *Exchange) ReadResponseHeaders(expectContinue bool) (*codec.ResponseBuilder, error) {
	builder, err := e.Codec.ReadResponseHeaders(expectContinue)
	if err != nil {
		return nil, e.trackFailure(err)
	}
	return builder, nil
}

// OpenResponseBody opens the response body stream described by builder,
// wrapping it so EOF/Close reports completion through the Exchange.
func (e *Exchange) OpenResponseBody(builder *codec.ResponseBuilder) (io.ReadCloser, error) {
	body, err := e.Codec.OpenResponseBody(builder)
	if err != nil {
		return nil, e.trackFailure(err)
	}
	return &trackedResponseBody{exch: e, rc: body}, nil
}

// Cancel aborts any in-progress codec operation, unblocking a concurrent
// read/write so the owning Call's cancellation can proceed.
func (e *Exchange) Cancel() {
	e.Codec.Cancel()
}

// requestBodySink wraps the codec's write sink so a request body's
// eventual Close reports completion through the Exchange.
type requestBodySink struct {
	exch *Exchange
	w    io.WriteCloser
}

func (s *requestBodySink) Write(p []byte) (int, error) { return s.w.Write(p) }

func (s *requestBodySink) Close() error {
	err := s.exch.trackFailure(s.w.Close())
	s.exch.completer.MessageDone(s.exch, true, false, err)
	return err
}

// trackedResponseBody reports completion through the Exchange on EOF or
// Close, matching "when both bits become false" trigger.
type trackedResponseBody struct {
	exch *Exchange
	rc   io.ReadCloser
	done bool
}

func (b *trackedResponseBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err != nil {
		b.finish(err)
	}
	return n, err
}

func (b *trackedResponseBody) Close() error {
	err := b.rc.Close()
	b.finish(err)
	return err
}

func (b *trackedResponseBody) finish(err error) {
	if b.done {
		return
	}
	b.done = true
	reportErr := err
	if reportErr == io.EOF {
		reportErr = nil
	}
	if reportErr != nil {
		b.exch.trackFailure(reportErr)
	}
	b.exch.completer.MessageDone(b.exch, false, true, reportErr)
}
