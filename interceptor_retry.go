package fastclient

import (
	"errors"
)

// maxConnectAttempts bounds the total number of times retryInterceptor
// enters the rest of the chain for one call (the first attempt plus up
// to three re-entries after transport failures) before giving up and
// surfacing the error; it exists to stop a call looping forever against a route list
// that keeps failing for non-route reasons.
const maxConnectAttempts = 4

// retryInterceptor sits just below the user-application interceptors. It
// owns transport-failure retry only: redirect-following and
// authentication-challenge handling are external policy the core does not
// implement, so a request is re-entered into the rest of the chain only
// when the failure looks like an exhausted or broken connection attempt
// and the connection finder still has an untried route for this call.
type retryInterceptor struct {
	client *Client
}

var _ Interceptor = (*retryInterceptor)(nil)

func (ri *retryInterceptor) Intercept(chain Chain) (*Response, error) {
	call, ok := chain.Call().(*realCall)
	if !ok {
		return nil, ErrChainContractViolation
	}

	req := chain.Request()
	var lastErr error

	for attempt := 0; attempt < maxConnectAttempts; attempt++ {
		resp, err := chain.Proceed(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !retryable(err) {
			return nil, err
		}
		if call.IsCanceled() {
			return nil, err
		}
		if a := call.getFinderAttempt(); !a.RetryAfterFailure() {
			return nil, err
		}
	}

	return nil, lastErr
}

// retryable reports whether err is the kind of transport failure worth
// re-entering the chain for, as opposed to a programmer or cancellation
// error that retrying cannot fix.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrCanceled):
		return false
	case errors.Is(err, ErrChainContractViolation):
		return false
	case errors.Is(err, ErrCallAlreadyExecuted):
		return false
	case errors.Is(err, ErrProtocolViolation):
		return false
	case errors.Is(err, ErrNoRoute):
		return false
	default:
		return true
	}
}
