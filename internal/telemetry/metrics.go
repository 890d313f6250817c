// Package telemetry exposes Prometheus metrics for polling and actions.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"botwatch/internal/action"
	"botwatch/internal/gateway"
	"botwatch/internal/scheduler"
	"botwatch/internal/viewmodel"
)

var (
	_ viewmodel.Observer      = (*Metrics)(nil)
	_ scheduler.FetchObserver = (*Metrics)(nil)
	_ action.Observer         = (*Metrics)(nil)
)

// Metrics implements the scheduler, viewmodel and action observers.
type Metrics struct {
	registry *prometheus.Registry

	fetchDuration  *prometheus.HistogramVec // labels: feed, result
	applied        *prometheus.CounterVec   // labels: feed
	discarded      *prometheus.CounterVec   // labels: feed
	failures       *prometheus.CounterVec   // labels: feed, kind
	degraded       *prometheus.GaugeVec     // labels: feed
	actions        *prometheus.CounterVec   // labels: kind, result
	actionDuration *prometheus.HistogramVec // labels: kind
	streamClients  prometheus.Gauge
}

// NewMetrics registers every collector on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "botwatch_feed_fetch_duration_seconds",
			Help:    "Gateway read latency per feed",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}, []string{"feed", "result"}),
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botwatch_feed_applied_total",
			Help: "Feed values merged into the view model",
		}, []string{"feed"}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botwatch_feed_discarded_total",
			Help: "Late responses dropped by the generation guard",
		}, []string{"feed"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botwatch_feed_failures_total",
			Help: "Failed feed fetches by error kind",
		}, []string{"feed", "kind"}),
		degraded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "botwatch_feed_degraded",
			Help: "1 while a feed is flagged degraded",
		}, []string{"feed"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botwatch_actions_total",
			Help: "Control actions by kind and outcome",
		}, []string{"kind", "result"}),
		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "botwatch_action_duration_seconds",
			Help:    "Control action round-trip latency",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"kind"}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "botwatch_stream_clients",
			Help: "Connected snapshot stream clients",
		}),
	}
	reg.MustRegister(
		m.fetchDuration,
		m.applied,
		m.discarded,
		m.failures,
		m.degraded,
		m.actions,
		m.actionDuration,
		m.streamClients,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	for _, f := range viewmodel.AllFeeds {
		m.degraded.WithLabelValues(string(f)).Set(0)
	}
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveFetch(feed viewmodel.Feed, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fetchDuration.WithLabelValues(string(feed), result).Observe(elapsed.Seconds())
}

func (m *Metrics) FeedApplied(feed viewmodel.Feed) {
	m.applied.WithLabelValues(string(feed)).Inc()
}

func (m *Metrics) FeedDiscarded(feed viewmodel.Feed) {
	m.discarded.WithLabelValues(string(feed)).Inc()
}

func (m *Metrics) FeedFailed(feed viewmodel.Feed, kind gateway.Kind) {
	m.failures.WithLabelValues(string(feed), kind.String()).Inc()
}

func (m *Metrics) FeedDegraded(feed viewmodel.Feed, degraded bool) {
	v := 0.0
	if degraded {
		v = 1
	}
	m.degraded.WithLabelValues(string(feed)).Set(v)
}

func (m *Metrics) ActionFinished(kind action.Kind, success bool, elapsed time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.actions.WithLabelValues(string(kind), result).Inc()
	m.actionDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

// StreamOpened and StreamClosed track live stream subscribers.
func (m *Metrics) StreamOpened() { m.streamClients.Inc() }

func (m *Metrics) StreamClosed() { m.streamClients.Dec() }
