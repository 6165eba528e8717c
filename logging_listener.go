package fastclient

import (
	"sync"
	"time"

	"github.com/searchktools/fastclient/internal/eventlog"
)

// loggingEventListener is the default structured-logging EventListener,
// backed by internal/eventlog's logrus wrapper. Installed via
// WithLogging.
type loggingEventListener struct {
	log   *eventlog.Logger
	mu    sync.Mutex
	start map[Call]time.Time
}

func newLoggingEventListener(log *eventlog.Logger) EventListener {
	return &loggingEventListener{log: log, start: make(map[Call]time.Time)}
}

func (l *loggingEventListener) setStart(call Call, t time.Time) {
	l.mu.Lock()
	l.start[call] = t
	l.mu.Unlock()
}

func (l *loggingEventListener) elapsed(call Call) time.Duration {
	l.mu.Lock()
	t, ok := l.start[call]
	delete(l.start, call)
	l.mu.Unlock()
	if !ok {
		return 0
	}
	return time.Since(t)
}

func (l *loggingEventListener) CallStart(call Call) {
	l.setStart(call, time.Now())
	l.log.Debugf("call start: %s %s", call.Request().Method, call.Request().URL)
}

func (l *loggingEventListener) CallEnd(call Call, _ *Response) {
	d := l.elapsed(call)
	l.log.Infof("call end: %s %s (%v)", call.Request().Method, call.Request().URL, d)
	l.log.RecordCall(call.Request().URL.Hostname(), d, false)
}

func (l *loggingEventListener) CallFailed(call Call, err error) {
	d := l.elapsed(call)
	l.log.Errorf("call failed: %s %s (%v): %v", call.Request().Method, call.Request().URL, d, err)
	l.log.RecordCall(call.Request().URL.Hostname(), d, true)
}

func (l *loggingEventListener) Canceled(call Call) {
	l.log.Warnf("call canceled: %s %s", call.Request().Method, call.Request().URL)
}

func (l *loggingEventListener) ConnectionReleased(call Call, route Route) {
	l.log.Debugf("connection released: %s -> %s", call.Request().URL.Hostname(), route)
}

func (l *loggingEventListener) CacheHit(call Call, _ *Response) {
	l.log.Debugf("cache hit: %s %s", call.Request().Method, call.Request().URL)
}

func (l *loggingEventListener) CacheMiss(call Call) {
	l.log.Debugf("cache miss: %s %s", call.Request().Method, call.Request().URL)
}

func (l *loggingEventListener) CacheConditionalHit(call Call, cached, network *Response) {
	l.log.Debugf("cache conditional hit: %s %s (network status %d)", call.Request().Method, call.Request().URL, network.StatusCode)
}

func (l *loggingEventListener) SatisfactionFailure(call Call) {
	l.log.Warnf("cache satisfaction failure: %s %s", call.Request().Method, call.Request().URL)
}

func (l *loggingEventListener) ResponseHeadersStart(call Call) {
	l.log.Debugf("response headers start: %s %s", call.Request().Method, call.Request().URL)
}

func (l *loggingEventListener) ResponseHeadersEnd(call Call, resp *Response) {
	l.log.Debugf("response headers end: %s %s -> %d", call.Request().Method, call.Request().URL, resp.StatusCode)
}

var _ EventListener = (*loggingEventListener)(nil)
