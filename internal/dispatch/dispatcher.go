package dispatch

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// AsyncCall is the runnable handed to enqueue by Call.enqueue: Host identifies the per-host concurrency bucket, Run drives the
// interceptor chain and must itself call back into Finished when done.
type AsyncCall interface {
	Host() string
	Run()
}

// Dispatcher implements admission control: it bounds how
// many calls (sync + async combined) and how many calls per host may run
// concurrently, queuing the rest.
//
// Ready calls run on a work-stealing WorkerPool adapted from
// core/pools/worker_pool.go: that pool distributed opaque Task closures
// round-robin across per-worker queues: this one submits AsyncCalls
// directly and routes each by Host, so repeated calls to the same host
// tend to land on the same worker instead of being scattered by
// submission order.
type Dispatcher struct {
	maxRequests        int
	maxRequestsPerHost int

	pool *WorkerPool

	mu                sync.Mutex
	runningCount      int
	runningPerHost    map[string]int
	readyQueue        []AsyncCall
	hostLimiters      map[string]*rate.Limiter
	hostLimiterBurst  int
}

// NewDispatcher creates a Dispatcher with the given admission limits and
// an owned worker pool of numWorkers goroutines (0 picks runtime.NumCPU).
func NewDispatcher(maxRequests, maxRequestsPerHost, numWorkers int) *Dispatcher {
	if maxRequests <= 0 {
		maxRequests = 64
	}
	if maxRequestsPerHost <= 0 {
		maxRequestsPerHost = 5
	}
	return &Dispatcher{
		maxRequests:        maxRequests,
		maxRequestsPerHost: maxRequestsPerHost,
		pool:               NewWorkerPool(numWorkers),
		runningPerHost:     make(map[string]int),
		hostLimiters:       make(map[string]*rate.Limiter),
		hostLimiterBurst:   maxRequestsPerHost,
	}
}

// Executed registers a synchronous call's admission bookkeeping. Sync
// calls always run on the caller's own goroutine; Executed only updates
// the counters so concurrent async admission respects them.
func (d *Dispatcher) Executed(host string) {
	d.mu.Lock()
	d.runningCount++
	d.runningPerHost[host]++
	d.mu.Unlock()
}

// Finished releases a call's admission slot and promotes queued async calls that
// are now admissible.
func (d *Dispatcher) Finished(host string) {
	d.mu.Lock()
	d.runningCount--
	d.runningPerHost[host]--
	if d.runningPerHost[host] <= 0 {
		delete(d.runningPerHost, host)
	}
	promoted := d.promoteLocked()
	d.mu.Unlock()

	for _, call := range promoted {
		d.pool.Submit(&admittedCall{dispatcher: d, inner: call})
	}
}

// Enqueue hands call to the dispatcher for asynchronous execution. If an admission slot is free it runs immediately on
// the worker pool; otherwise it waits in the ready queue until a slot
// opens via Finished.
func (d *Dispatcher) Enqueue(call AsyncCall) {
	d.mu.Lock()
	if d.admissibleLocked(call.Host()) {
		d.admitLocked(call.Host())
		d.mu.Unlock()
		d.pool.Submit(&admittedCall{dispatcher: d, inner: call})
		return
	}
	d.readyQueue = append(d.readyQueue, call)
	d.mu.Unlock()
}

// runAdmitted waits on the host's rate limiter (smoothing a burst of
// simultaneously-admitted calls for the same host, e.g. right after many
// queued calls are promoted at once) before actually running call.
func (d *Dispatcher) runAdmitted(call AsyncCall) {
	limiter := d.limiterFor(call.Host())
	_ = limiter.Wait(context.Background())
	call.Run()
}

// admittedCall adapts an already-admitted AsyncCall into the one the
// WorkerPool submits: Run rate-limits through the dispatcher before
// driving the real call, while Host keeps routing by the same host so
// the pool's locality still applies.
type admittedCall struct {
	dispatcher *Dispatcher
	inner      AsyncCall
}

func (a *admittedCall) Host() string { return a.inner.Host() }

func (a *admittedCall) Run() { a.dispatcher.runAdmitted(a.inner) }

func (d *Dispatcher) limiterFor(host string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.hostLimiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(d.hostLimiterBurst), d.hostLimiterBurst)
		d.hostLimiters[host] = l
	}
	return l
}

// admissibleLocked reports whether another call for host may start
// immediately. Caller must hold d.mu.
func (d *Dispatcher) admissibleLocked(host string) bool {
	return d.runningCount < d.maxRequests && d.runningPerHost[host] < d.maxRequestsPerHost
}

func (d *Dispatcher) admitLocked(host string) {
	d.runningCount++
	d.runningPerHost[host]++
}

// promoteLocked moves as many ready calls into running state as
// admission limits now allow, returning the ones promoted. Caller must
// hold d.mu.
func (d *Dispatcher) promoteLocked() []AsyncCall {
	var promoted []AsyncCall
	remaining := d.readyQueue[:0]
	for _, call := range d.readyQueue {
		if d.admissibleLocked(call.Host()) {
			d.admitLocked(call.Host())
			promoted = append(promoted, call)
			continue
		}
		remaining = append(remaining, call)
	}
	d.readyQueue = remaining
	return promoted
}

// Stats exposes the underlying worker pool's execution statistics for
// diagnostics/logging.
func (d *Dispatcher) Stats() WorkerPoolStats {
	return d.pool.Stats()
}

// Close shuts down the worker pool. Queued-but-not-yet-running async
// calls are abandoned.
func (d *Dispatcher) Close() {
	d.pool.Close()
}
