// Package metrics exposes Prometheus instruments for the board server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pmboard/internal/service"
)

const namespace = "pmboard"

// Recorder collects fetch, cache, stream and HTTP metrics on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	fetches       *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	served        *prometheus.CounterVec
	subscribers   *prometheus.GaugeVec
	broadcasts    *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// New creates a Recorder with process and Go collectors registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetches_total",
			Help:      "Data source invocations by result",
		}, []string{"result"}),
		fetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of data source invocations",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}),
		served: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "snapshots_served_total",
			Help:      "Snapshot requests by outcome",
		}, []string{"outcome"}),
		subscribers: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "subscribers",
			Help:      "Connected push subscribers",
		}, []string{"transport"}),
		broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_total",
			Help:      "Messages broadcast by kind",
		}, []string{"kind"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "dropped_subscribers_total",
			Help:      "Subscribers removed after a failed send",
		}, []string{"transport"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"route", "method"}),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// FetchCompleted implements service.Recorder.
func (r *Recorder) FetchCompleted(elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.fetches.WithLabelValues(result).Inc()
	r.fetchDuration.Observe(elapsed.Seconds())
}

// SnapshotServed implements service.Recorder.
func (r *Recorder) SnapshotServed(outcome service.Outcome) {
	r.served.WithLabelValues(string(outcome)).Inc()
}

// SubscriberAdded tracks a new push subscriber.
func (r *Recorder) SubscriberAdded(transport string) {
	r.subscribers.WithLabelValues(transport).Inc()
}

// SubscriberRemoved tracks a departed push subscriber. Dropped marks removals caused by a failed send.
func (r *Recorder) SubscriberRemoved(transport string, dropped bool) {
	r.subscribers.WithLabelValues(transport).Dec()
	if dropped {
		r.dropped.WithLabelValues(transport).Inc()
	}
}

// MessageBroadcast counts one fan-out.
func (r *Recorder) MessageBroadcast(kind string) {
	r.broadcasts.WithLabelValues(kind).Inc()
}

// TrackSnapshotAge registers a gauge sampling age in seconds on every scrape.
func (r *Recorder) TrackSnapshotAge(age func() float64) {
	promauto.With(r.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "snapshot_age_seconds",
		Help:      "Age of the cached snapshot",
	}, age)
}

// ObserveRequest records one HTTP request.
func (r *Recorder) ObserveRequest(route, method, status string, elapsed time.Duration) {
	r.requests.WithLabelValues(route, method, status).Inc()
	r.latency.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

var _ service.Recorder = (*Recorder)(nil)
