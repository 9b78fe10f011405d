// Package metrics exposes Prometheus collectors for the reconciliation engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sources of appended messages.
const (
	SourceDelta         = "delta"
	SourceSnapshot      = "snapshot"
	SourceAuthoritative = "authoritative"
)

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_sync_events_total",
			Help: "Stream events seen, by classified kind.",
		},
		[]string{"kind"},
	)

	messagesAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_sync_messages_appended_total",
			Help: "Messages added to a conversation store, by the source that first wrote them.",
		},
		[]string{"source"},
	)

	healthProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_sync_health_probes_total",
			Help: "Endpoint health probes, by result.",
		},
		[]string{"result"},
	)

	threadRefreshFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jarvis_sync_thread_refresh_failures_total",
			Help: "Delayed thread-list refreshes that failed.",
		},
	)
)

func init() {
	prometheus.MustRegister(eventsTotal)
	prometheus.MustRegister(messagesAppended)
	prometheus.MustRegister(healthProbes)
	prometheus.MustRegister(threadRefreshFailures)
}

// ObserveEvent counts one classified event.
func ObserveEvent(kind string) {
	eventsTotal.WithLabelValues(kind).Inc()
}

// AddMessages counts n messages appended from source.
func AddMessages(source string, n int) {
	if n <= 0 {
		return
	}
	messagesAppended.WithLabelValues(source).Add(float64(n))
}

// ObserveProbe counts a health probe outcome.
func ObserveProbe(ok bool) {
	if ok {
		healthProbes.WithLabelValues("ok").Inc()
		return
	}
	healthProbes.WithLabelValues("failed").Inc()
}

// ThreadRefreshFailed counts a failed thread-list refresh.
func ThreadRefreshFailed() {
	threadRefreshFailures.Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
