package telemetry

import (
	"context"

	"rxsim/logging"
	"rxsim/rx"
)

// Logger exposes the logging capabilities required by server components.
// *log.Logger already has a matching Printf method, so callers pass one
// straight through without a wrapper.
type Logger interface {
	Printf(format string, args ...any)
}

// Metrics exposes the telemetry methods required by server components.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
}

// WrapMetrics adapts the logging router metrics into the Metrics interface.
func WrapMetrics(metrics *logging.Metrics) Metrics {
	return &metricsAdapter{metrics: metrics}
}

type metricsAdapter struct {
	metrics *logging.Metrics
}

func (m *metricsAdapter) Add(key string, delta uint64) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.TelemetryAdd(key, delta)
}

func (m *metricsAdapter) Store(key string, value uint64) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.TelemetryStore(key, value)
}

var observerEventTypes = map[rx.ObserverEventKind]logging.EventType{
	rx.ObjectAdded:            "rx.object_added",
	rx.AppendAccepted:         "rx.append_accepted",
	rx.CompareAndAppendLost:   "rx.compare_and_append_lost",
	rx.HistorySealed:          "rx.history_sealed",
	rx.AdvanceFailed:          "rx.advance_failed",
}

// ObserverAdapter bridges an rx.Observer onto a logging.Publisher, so engine
// occurrences flow through the same router, sinks, and metrics as every
// other telemetry event in this repository. rx itself never imports
// logging; this package is the one place the two meet.
type ObserverAdapter struct {
	Publisher logging.Publisher
	Metrics   Metrics
}

// Notify implements rx.Observer.
func (a *ObserverAdapter) Notify(event rx.ObserverEvent) {
	if a == nil {
		return
	}
	severity := logging.SeverityInfo
	if event.Kind == rx.AdvanceFailed || event.Kind == rx.CompareAndAppendLost {
		severity = logging.SeverityWarn
	}

	eventType, ok := observerEventTypes[event.Kind]
	if !ok {
		eventType = "rx.unknown"
	}

	if a.Metrics != nil {
		a.Metrics.Add("rx_"+string(eventType), 1)
	}

	if a.Publisher == nil {
		return
	}
	var payload any
	if event.Err != nil {
		payload = event.Err.Error()
	}
	a.Publisher.Publish(context.Background(), logging.Event{
		Type:     eventType,
		Object:   logging.ObjectRef{ID: event.Object.String(), Kind: "rx.object"},
		Severity: severity,
		Category: "rx",
		Payload:  payload,
	})
}
