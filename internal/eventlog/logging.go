// Package eventlog provides the structured-logging collaborator backing
// the default EventListener: a
// logrus-backed logger plus lightweight per-host latency/error tracking.
//
// Adapted from core/observability/monitor.go: that file's
// PerformanceMonitor tracked per-handler atomic counters and ran a
// background ticker to flag slow/error-prone handlers as Bottlenecks.
// Logger keeps the same per-key atomic-metrics shape, checking a host's
// metrics inline on each RecordCall instead of by a background ticker,
// narrowed from "handler name" to "remote host" and reported through
// logrus instead of an internal Bottleneck slice, since a client library
// hands findings to whatever log sink the application configured rather
// than exposing its own dashboard type.
package eventlog

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger wraps a *logrus.Logger with the per-host call accounting the
// default EventListener needs to log slow-host warnings.
type Logger struct {
	log   *logrus.Logger
	hosts sync.Map // host -> *hostMetrics
}

type hostMetrics struct {
	count         atomic.Uint64
	errors        atomic.Uint64
	totalDuration atomic.Uint64 // nanoseconds
}

// New creates a Logger at the given level, formatting output the way
// logrus.TextFormatter does by default.
func New(level logrus.Level) *Logger {
	l := logrus.New()
	l.SetLevel(level)
	return &Logger{log: l}
}

// Entry returns the underlying logrus.Logger for callers that want to
// configure output/formatter directly (e.g. JSON in production).
func (lg *Logger) Entry() *logrus.Logger { return lg.log }

// Debugf logs a wire-level trace line (request/response headers, codec
// selection); callers gate detail behind the logger's configured level.
func (lg *Logger) Debugf(format string, args ...any) { lg.log.Debugf(format, args...) }

// Infof logs a call-lifecycle line (start, end, cache hit/miss).
func (lg *Logger) Infof(format string, args ...any) { lg.log.Infof(format, args...) }

// Warnf logs a recoverable anomaly (satisfaction failure, slow host).
func (lg *Logger) Warnf(format string, args ...any) { lg.log.Warnf(format, args...) }

// Errorf logs a call failure.
func (lg *Logger) Errorf(format string, args ...any) { lg.log.Errorf(format, args...) }

// RecordCall folds one completed call's outcome into host's rolling
// metrics and logs a warning if the host now looks like a bottleneck.
func (lg *Logger) RecordCall(host string, duration time.Duration, isError bool) {
	val, _ := lg.hosts.LoadOrStore(host, &hostMetrics{})
	m := val.(*hostMetrics)
	m.count.Add(1)
	if isError {
		m.errors.Add(1)
	}
	m.totalDuration.Add(uint64(duration.Nanoseconds()))

	count := m.count.Load()
	if count < 20 {
		return
	}
	avg := time.Duration(m.totalDuration.Load() / count)
	errRate := float64(m.errors.Load()) / float64(count)
	if avg > 2*time.Second {
		lg.log.WithField("host", host).WithField("avg_latency", avg).Warn("slow host")
	}
	if errRate > 0.2 {
		lg.log.WithField("host", host).WithField("error_rate", errRate).Warn("high error rate")
	}
}
