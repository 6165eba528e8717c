package fastclient

// asyncCall adapts a realCall to the dispatcher's AsyncCall runnable:
// the dispatcher decides when admission allows it to run, then calls
// Run on a worker-pool goroutine.
type asyncCall struct {
	call     *realCall
	callback func(*Response, error)
}

// Host implements dispatch.AsyncCall.
func (a *asyncCall) Host() string { return a.call.host() }

// Run implements dispatch.AsyncCall: drives the chain and reports the
// outcome through callback. call_done bookkeeping happens the same way
// it does for a synchronous Execute: via MessageDone once the caller
// reads/closes the response body, or immediately here when no Exchange
// will ever drive that.
func (a *asyncCall) Run() {
	resp, err := a.call.runChain()
	if err != nil || !a.call.hasLiveExchange() {
		a.call.noMoreExchanges(err)
	}
	if a.callback != nil {
		a.callback(resp, err)
	}
}
