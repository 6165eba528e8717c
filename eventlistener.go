package fastclient

import "time"

// EventListener receives lifecycle notifications for a call, mirroring
// OkHttp's EventListener surface. It is the structured-logging seam: the
// default Client uses NopEventListener, and internal/eventlog ships a
// logrus-backed implementation (grounded on bassosimone-nop's SLogger
// span-event convention: *Start/*Done pairs plus one-shot events).
type EventListener interface {
	CallStart(call Call)
	CallEnd(call Call, response *Response)
	CallFailed(call Call, err error)
	Canceled(call Call)

	ConnectionReleased(call Call, route Route)

	CacheHit(call Call, response *Response)
	CacheMiss(call Call)
	CacheConditionalHit(call Call, cached, network *Response)
	SatisfactionFailure(call Call)

	ResponseHeadersStart(call Call)
	ResponseHeadersEnd(call Call, response *Response)
}

// NopEventListener discards every event. It is the Client default.
type NopEventListener struct{}

var _ EventListener = NopEventListener{}

func (NopEventListener) CallStart(Call)                                 {}
func (NopEventListener) CallEnd(Call, *Response)                        {}
func (NopEventListener) CallFailed(Call, error)                         {}
func (NopEventListener) Canceled(Call)                                  {}
func (NopEventListener) ConnectionReleased(Call, Route)                 {}
func (NopEventListener) CacheHit(Call, *Response)                       {}
func (NopEventListener) CacheMiss(Call)                                 {}
func (NopEventListener) CacheConditionalHit(Call, *Response, *Response) {}
func (NopEventListener) SatisfactionFailure(Call)                       {}
func (NopEventListener) ResponseHeadersStart(Call)                      {}
func (NopEventListener) ResponseHeadersEnd(Call, *Response)              {}

// eventTimes is a small helper embedded where a stage needs to measure
// elapsed time around an event pair without pulling in a full tracer.
type eventTimes struct {
	start time.Time
}

func (e *eventTimes) begin() { e.start = time.Now() }
func (e *eventTimes) elapsed() time.Duration {
	if e.start.IsZero() {
		return 0
	}
	return time.Since(e.start)
}
