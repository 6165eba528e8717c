package fastclient

import "errors"

// Sentinel errors for the call-execution engine's error taxonomy.
// Callers use errors.Is to distinguish contract violations
// (programmer error, never retried) and protocol violations (fatal,
// never retried) from transport failures (retry-eligible); all of them
// are surfaced to EventListener.CallFailed.
var (
	// ErrCallAlreadyExecuted is returned by Call.Execute / Call.Enqueue
	// when the call's one-shot guard has already fired.
	ErrCallAlreadyExecuted = errors.New("fastclient: call already executed")

	// ErrChainContractViolation marks a violation of the InterceptorChain
	// contract: a network interceptor forwarding a body-bearing request
	// derived from one without a body, a terminal stage reached without an
	// Exchange, or a stage handed a Call this package did not create. A
	// stage calling Proceed more than once is not treated as a violation.
	ErrChainContractViolation = errors.New("fastclient: interceptor chain contract violation")

	// ErrConnectionShutdown distinguishes a shutdown discovered before any
	// byte of the request was written from an ordinary I/O failure: it is
	// always safe to retry transparently.
	ErrConnectionShutdown = errors.New("fastclient: connection shut down before request was sent")

	// ErrProtocolViolation marks a fatal wire-level violation (e.g. a
	// 204/205 response with a nonzero advertised body length).
	ErrProtocolViolation = errors.New("fastclient: protocol violation")

	// ErrCanceled is the error observed by any in-flight read/write after
	// Call.Cancel, and by the chain itself if cancellation raced a
	// successful network response.
	ErrCanceled = errors.New("fastclient: call canceled")

	// ErrOnlyIfCached names the only-if-cached miss. The cache interceptor
	// answers that miss with a synthesized 504 response and a nil error;
	// it does not return this value.
	ErrOnlyIfCached = errors.New("fastclient: cache is stale and only-if-cached was set")

	// ErrNoRoute is returned by the connect stage, wrapping the connection
	// finder's error, when every candidate route has been tried and failed.
	ErrNoRoute = errors.New("fastclient: no route succeeded")
)

// ErrClassifier classifies errors into short categorical labels for
// structured logging and for retry-policy decisions.
//
// Grounded on bassosimone-nop's ErrClassifier: the same shape (classify,
// don't wrap), generalized so the retry interceptor can also consult it.
type ErrClassifier interface {
	Classify(err error) string
}

// ErrClassifierFunc adapts a function to ErrClassifier.
type ErrClassifierFunc func(error) string

// Classify implements ErrClassifier.
func (f ErrClassifierFunc) Classify(err error) string { return f(err) }

// DefaultErrClassifier maps the sentinel errors above to short labels and
// falls back to "" for anything it doesn't recognize.
var DefaultErrClassifier = ErrClassifierFunc(func(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCanceled):
		return "ECANCELED"
	case errors.Is(err, ErrConnectionShutdown):
		return "ESHUTDOWN"
	case errors.Is(err, ErrProtocolViolation):
		return "EPROTO"
	case errors.Is(err, ErrNoRoute):
		return "ENOROUTE"
	default:
		return ""
	}
})
