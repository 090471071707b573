// Package metrics provides Prometheus metrics for resolution, proxying and
// the header-injection worker. Labels are bounded: provider names, outcomes
// and status classes only, never URLs.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ResolveTotal counts resolution runs by provider and result.
	ResolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_resolver_resolve_total",
		Help: "Total number of resolution runs, by resolved provider and result (ok/not_found).",
	}, []string{"provider", "result"})

	// ResolveDuration observes wall time of resolution runs.
	ResolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stream_resolver_resolve_duration_seconds",
		Help:    "Duration of resolution runs, by mode (stream/frame).",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
	}, []string{"mode"})

	// ResolveAttempts observes how many fetches a run needed.
	ResolveAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stream_resolver_resolve_attempts",
		Help:    "Number of trace attempts per resolution run.",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
	})

	// ProxyRequestsTotal counts proxied upstream requests.
	ProxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_resolver_proxy_requests_total",
		Help: "Total number of proxied requests, by kind (manifest/segment/frame/head) and upstream status class.",
	}, []string{"kind", "status"})

	// ProxyBytesTotal counts bytes streamed through the segment proxy.
	ProxyBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_resolver_proxy_bytes_total",
		Help: "Total bytes streamed to clients by the passthrough proxy.",
	})

	// WorkerRequestsTotal counts header-injection worker outcomes.
	WorkerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_resolver_worker_requests_total",
		Help: "Total number of intercepted media requests, by outcome (injected/timeout/fallback/failed).",
	}, []string{"outcome"})

	// PlaybackTransitions counts controller state transitions.
	PlaybackTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_resolver_playback_transitions_total",
		Help: "Total number of playback controller state transitions, by target state.",
	}, []string{"state"})
)

// ObserveResolve records one resolution run.
func ObserveResolve(mode, provider string, ok bool, attempts int, d time.Duration) {
	result := "ok"
	if !ok {
		result = "not_found"
		provider = "none"
	}
	ResolveTotal.WithLabelValues(provider, result).Inc()
	ResolveDuration.WithLabelValues(mode).Observe(d.Seconds())
	ResolveAttempts.Observe(float64(attempts))
}

// ObserveProxy records one proxied upstream response.
func ObserveProxy(kind string, status int) {
	ProxyRequestsTotal.WithLabelValues(kind, statusClass(status)).Inc()
}

// AddProxyBytes adds streamed passthrough bytes.
func AddProxyBytes(n int64) {
	if n > 0 {
		ProxyBytesTotal.Add(float64(n))
	}
}

// ObserveWorkerRequest records one intercepted request outcome.
func ObserveWorkerRequest(outcome string) {
	WorkerRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveTransition records a controller state change.
func ObserveTransition(state string) {
	PlaybackTransitions.WithLabelValues(state).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
