package fastclient

import (
	"net/http"
	"strings"
	"time"

	"github.com/searchktools/fastclient/internal/codec"
	"github.com/searchktools/fastclient/internal/exchange"
	"github.com/searchktools/fastclient/internal/wsupgrade"
)

// callServerInterceptor is the terminal stage of every sub-chain
// (CallServerStage): it drives one request/response turn-around over the
// Exchange the connect stage allocated, then returns a Response built
// from whatever the codec handed back. It never calls chain.Proceed;
// being last is its contract.
type callServerInterceptor struct {
	client *Client
}

var _ Interceptor = (*callServerInterceptor)(nil)

func (cs *callServerInterceptor) Intercept(chain Chain) (*Response, error) {
	req := chain.Request()
	exch := chain.Exchange()
	if exch == nil {
		return nil, ErrChainContractViolation
	}

	sentAt := time.Now()

	headers := codec.RequestHeaders{
		Method:        req.Method,
		Path:          requestTarget(req),
		Host:          req.URL.Host,
		Header:        req.Header,
		ContentLength: req.Body.ContentLength,
	}

	var sendErr error
	var early *codec.ResponseBuilder

	if err := exch.WriteRequestHeaders(headers); err != nil {
		sendErr = err
	}

	permitsBody := methodPermitsBody(req.Method) && req.Body.HasBody()

	if sendErr == nil && permitsBody {
		expectContinue := hasExpectContinue(req.Header)
		switch {
		case expectContinue:
			if err := exch.FlushRequest(); err != nil {
				sendErr = err
				break
			}
			builder, err := exch.ReadResponseHeaders(true)
			if err != nil {
				sendErr = err
				break
			}
			if builder != nil {
				early = builder
				if exch.Connection.Protocol == "http/1.1" {
					exch.Connection.SetNoNewExchanges()
				}
			} else if err := cs.writeBody(exch, headers, req, false); err != nil {
				sendErr = err
			}

		case req.Body.Duplex:
			if err := exch.FlushRequest(); err != nil {
				sendErr = err
				break
			}
			sink, err := exch.CreateRequestBody(headers, true)
			if err != nil {
				sendErr = err
				break
			}
			go func() {
				writeErr := req.Body.WriteTo(sink)
				closeErr := sink.Close()
				if writeErr == nil {
					writeErr = closeErr
				}
				_ = writeErr
			}()

		default:
			if err := cs.writeBody(exch, headers, req, true); err != nil {
				sendErr = err
			}
		}
	}

	if sendErr == nil && !req.Body.Duplex {
		if err := exch.FinishRequest(); err != nil {
			sendErr = err
		}
	}

	cs.client.eventListener().ResponseHeadersStart(chain.Call())

	var builder *codec.ResponseBuilder
	var readErr error
	if early != nil {
		builder = early
	} else {
		builder, readErr = exch.ReadResponseHeaders(false)
	}

	// A send failure is suppressed in favor of a response-read failure;
	// it is returned only when reading actually succeeded.
	if readErr != nil {
		return nil, readErr
	}
	if sendErr != nil {
		return nil, sendErr
	}

	for builder.StatusCode == http.StatusContinue {
		builder, readErr = exch.ReadResponseHeaders(false)
		if readErr != nil {
			return nil, readErr
		}
	}

	receivedAt := time.Now()

	resp := &Response{
		Request:    req,
		StatusCode: builder.StatusCode,
		Header:     builder.Header,
		SentAt:     sentAt,
		ReceivedAt: receivedAt,
		Handshake:  exch.Connection.Handshake,
		Protocol:   builder.Proto,
	}

	isWebSocket, _ := req.Tags["websocket"].(bool)
	if resp.StatusCode == http.StatusSwitchingProtocols && isWebSocket && wsupgrade.IsUpgrade(req.Header, resp.Header) {
		resp.Body = http.NoBody
	} else {
		body, err := exch.OpenResponseBody(builder)
		if err != nil {
			return nil, err
		}
		resp.Body = body
	}

	if connectionClose(req.Header) || connectionClose(resp.Header) {
		exch.Connection.SetNoNewExchanges()
	}

	if (resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusResetContent) && bodyLength(resp.Header) > 0 {
		// Mark the connection unpoolable before closing the body: Close
		// synchronously drives call completion, which decides whether to
		// recycle the connection, so the flag must already be set by then.
		exch.Connection.SetNoNewExchanges()
		resp.Close()
		return nil, ErrProtocolViolation
	}

	cs.client.eventListener().ResponseHeadersEnd(chain.Call(), resp)
	return resp, nil
}

// writeBody opens a buffered request sink, invokes the body's writer, and
// closes it; the request itself is finalized afterward by the shared
// FinishRequest call in Intercept.
func (cs *callServerInterceptor) writeBody(exch *exchange.Exchange, headers codec.RequestHeaders, req *Request, _ bool) error {
	sink, err := exch.CreateRequestBody(headers, false)
	if err != nil {
		return err
	}
	writeErr := req.Body.WriteTo(sink)
	closeErr := sink.Close()
	if writeErr != nil {
		return writeErr
	}
	return closeErr
}

func requestTarget(req *Request) string {
	if req.URL.RawQuery == "" {
		return req.URL.EscapedPath()
	}
	return req.URL.EscapedPath() + "?" + req.URL.RawQuery
}

func methodPermitsBody(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead:
		return false
	default:
		return true
	}
}

func hasExpectContinue(h http.Header) bool {
	return strings.EqualFold(h.Get("Expect"), "100-continue")
}

func connectionClose(h http.Header) bool {
	for _, v := range h.Values("Connection") {
		if strings.EqualFold(strings.TrimSpace(v), "close") {
			return true
		}
	}
	return false
}

func bodyLength(h http.Header) int64 {
	v := h.Get("Content-Length")
	if v == "" {
		return 0
	}
	n := int64(0)
	for _, r := range v {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int64(r-'0')
	}
	return n
}
